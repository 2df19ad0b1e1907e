package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"maca-service/internal/api"
	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/repo"
	"maca-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

type fixture struct {
	t        *testing.T
	router   *gin.Engine
	services *service.Container
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(repo.Models()...))

	cfg := &config.Config{
		JWT:  config.JWTConfig{Secret: "test-secret", Expire: 1},
		Game: config.DefaultGameConfig(),
	}
	config.GlobalConfig = cfg

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	services := service.NewContainer(cfg, db, nil)
	r := gin.New()
	api.RegisterRoutes(ctx, r, services)
	return &fixture{t: t, router: r, services: services}
}

func (f *fixture) do(method, path, token string, body interface{}) (int, envelope) {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

type session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (f *fixture) register(username string) session {
	f.t.Helper()
	code, env := f.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": username, "password": "secret-pass"})
	require.Equal(f.t, http.StatusOK, code, env.Msg)
	var s session
	require.NoError(f.t, json.Unmarshal(env.Data, &s))
	return s
}

func TestRegisterLoginAndMe(t *testing.T) {
	f := newFixture(t)
	s := f.register("ada")
	assert.NotEmpty(t, s.Token)

	code, env := f.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "ada", "password": "secret-pass"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "username already taken", env.Msg)

	code, _ = f.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "x", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "ada", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = f.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "ada", "password": "secret-pass"})
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "secret-pass")

	code, env = f.do(http.MethodGet, "/api/v1/me", s.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var me struct {
		User    map[string]interface{} `json:"user"`
		TableID string                 `json:"tableId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "ada", me.User["username"])
	assert.NotContains(t, me.User, "passwordHash")
	assert.Empty(t, me.TableID)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(http.MethodGet, "/api/v1/lobby/tables", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := f.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "pong")
}

func TestSoloRoundOverREST(t *testing.T) {
	f := newFixture(t)
	s := f.register("bob")
	require.NoError(t, f.services.Solo.SetForcedShoe(s.User.ID, []string{"10H", "9C", "8S", "7D", "10C"}))

	code, env := f.do(http.MethodPost, "/api/v1/solo/start", s.Token, gin.H{"bet": 1000})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var view struct {
		RoundID string `json:"roundId"`
		Status  string `json:"status"`
		Result  string `json:"result"`
		Balance *int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, "player_turn", view.Status)

	code, _ = f.do(http.MethodPost, "/api/v1/solo/start", s.Token, gin.H{"bet": 1000})
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(http.MethodGet, "/api/v1/solo/current", s.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), view.RoundID)

	code, env = f.do(http.MethodPost, "/api/v1/solo/action", s.Token, gin.H{"roundId": view.RoundID, "action": "stand", "actionId": "bad id!"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(http.MethodPost, "/api/v1/solo/action", s.Token, gin.H{"roundId": view.RoundID, "action": "stand", "actionId": "s1"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "completed", view.Status)
	assert.Equal(t, "win", view.Result)
	require.NotNil(t, view.Balance)
	assert.Equal(t, int64(101000), *view.Balance)

	code, _ = f.do(http.MethodGet, "/api/v1/solo/rounds/"+view.RoundID, s.Token, nil)
	assert.Equal(t, http.StatusOK, code)
	other := f.register("carol")
	code, _ = f.do(http.MethodGet, "/api/v1/solo/rounds/"+view.RoundID, other.Token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = f.do(http.MethodGet, "/api/v1/me/history", s.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), view.RoundID)
}

func TestAdminRoutesCheckRoles(t *testing.T) {
	f := newFixture(t)
	player := f.register("dave")
	boss := f.register("erin")
	_, err := f.services.User.SetRole(context.Background(), boss.User.ID, model.RoleAdmin)
	require.NoError(t, err)

	code, env := f.do(http.MethodPost, "/api/v1/admin/command", player.Token, gin.H{"command": "/add_balance dave 10"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "requires mod role", env.Msg)

	code, env = f.do(http.MethodPost, "/api/v1/admin/command", boss.Token, gin.H{"command": "/add_balance dave 10"})
	require.Equal(t, http.StatusOK, code, env.Msg)

	u, err := f.services.User.GetByID(context.Background(), player.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101000), u.Balance)

	code, _ = f.do(http.MethodPost, "/api/v1/admin/command", boss.Token, gin.H{"command": "/dance"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(http.MethodGet, "/api/v1/admin/audit-logs?limit=5", boss.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "/add_balance dave 10")

	code, _ = f.do(http.MethodGet, "/api/v1/admin/audit-logs?limit=zero", boss.Token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(http.MethodGet, "/api/v1/admin/users?role=player", boss.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Items []map[string]interface{} `json:"items"`
		Total int64                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, "dave", list.Items[0]["username"])
}
