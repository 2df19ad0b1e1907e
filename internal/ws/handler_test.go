package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/service/auth"
	"maca-service/internal/service/chat"
	"maca-service/internal/service/lobby"
	"maca-service/internal/service/ratelimit"
	"maca-service/internal/service/table"
	"maca-service/internal/ws"
	appErr "maca-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenTable map[string]auth.Identity

func (t tokenTable) ResolveToken(_ context.Context, token string) (auth.Identity, error) {
	id, ok := t[token]
	if !ok {
		return auth.Identity{}, appErr.ErrUnauthorized
	}
	return id, nil
}

type inbound struct {
	Type string                 `json:"type"`
	Seq  int64                  `json:"seq"`
	Data map[string]interface{} `json:"data"`
}

func newServer(t *testing.T, limits config.RateLimitConfig) (*httptest.Server, *table.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := table.NewManager(lobby.NewService(nil), nil, nil, chat.NewFilter(), config.DefaultGameConfig())
	limiter := ratelimit.NewService(nil)
	tokens := tokenTable{"tok-1": {UserID: "u1", Username: "ada", Role: model.RolePlayer}}
	d := ws.NewDispatcher(m, nil, limiter, limits)
	h := ws.NewHandler(context.Background(), m, tokens, limiter, d, limits, nil)

	r := gin.New()
	r.GET("/ws", h.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, m
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

// readUntil reads frames until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestHandlerConnectAndAck(t *testing.T) {
	srv, m := newServer(t, config.RateLimitConfig{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=tok-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	system := readUntil(t, conn, table.EventSystem)
	assert.Equal(t, int64(1), system.Seq)
	assert.Equal(t, "u1", system.Data["userId"])
	restored := readUntil(t, conn, table.EventSessionRestored)
	assert.Equal(t, int64(2), restored.Seq)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "join_lobby", "requestId": "r1"}))
	ack := readUntil(t, conn, ws.OutAck)
	assert.Greater(t, ack.Seq, restored.Seq)
	assert.Equal(t, "r1", ack.Data["requestId"])
	assert.Equal(t, true, ack.Data["ok"])

	assert.Eventually(t, func() bool { return m.Presence().Online("u1") }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !m.Presence().Online("u1") }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerBearerHeader(t *testing.T) {
	srv, _ := newServer(t, config.RateLimitConfig{})

	header := http.Header{"Authorization": []string{"Bearer tok-1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, table.EventSessionRestored)
}

func TestHandlerRejectsBadTokens(t *testing.T) {
	srv, m := newServer(t, config.RateLimitConfig{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?token=forged"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, m.Presence().ConnectionCount())
}

func TestHandlerConnectRateLimit(t *testing.T) {
	srv, _ := newServer(t, config.RateLimitConfig{Enabled: true, ConnectLimit: 1, ConnectWindowSeconds: 3600, EventLimit: 100, EventWindowSeconds: 60})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=tok-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=tok-1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
