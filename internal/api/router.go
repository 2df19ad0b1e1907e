package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"maca-service/internal/middleware"
	"maca-service/internal/model"
	"maca-service/internal/service"
	"maca-service/internal/service/auth"
	"maca-service/internal/ws"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

// RegisterRoutes mounts the REST API and the websocket endpoint. ctx bounds
// the lifetime of websocket event handling.
func RegisterRoutes(ctx context.Context, r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	cfg := services.Config

	r.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	dispatcher := ws.NewDispatcher(services.Tables, services.Admin, services.RateLimit, cfg.RateLimit)
	wsHandler := ws.NewHandler(ctx, services.Tables, services.Auth, services.RateLimit, dispatcher, cfg.RateLimit, cfg.Server.AllowedOrigins)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})
	r.GET("/ws", wsHandler.HandleWS)

	authRequired := middleware.AuthRequired(services.Auth)

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", handler.Register)
			authGroup.POST("/login", handler.Login)
		}

		me := v1.Group("/me")
		me.Use(authRequired)
		{
			me.GET("", handler.Me)
			me.GET("/history", handler.MyHistory)
		}

		lobbyGroup := v1.Group("/lobby")
		lobbyGroup.Use(authRequired)
		{
			lobbyGroup.GET("/tables", handler.ListTables)
			lobbyGroup.GET("/tables/:id/state", handler.TableState)
		}

		soloGroup := v1.Group("/solo")
		soloGroup.Use(authRequired)
		{
			soloGroup.POST("/start", handler.SoloStart)
			soloGroup.POST("/action", handler.SoloAction)
			soloGroup.GET("/current", handler.SoloCurrent)
			soloGroup.GET("/rounds", handler.SoloRecent)
			soloGroup.GET("/rounds/:id", handler.SoloRound)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authRequired, middleware.RequireRole(model.RoleMod))
		{
			adminGroup.POST("/command", handler.AdminCommand)
			adminGroup.GET("/audit-logs", middleware.RequireRole(model.RoleAdmin), handler.AdminAuditLogs)
			adminGroup.GET("/users", middleware.RequireRole(model.RoleAdmin), handler.AdminListUsers)
		}
	}
}

func corsConfig(origins []string) cors.Config {
	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		conf.AllowAllOrigins = true
		conf.AllowCredentials = false
	} else {
		conf.AllowOrigins = origins
	}
	return conf
}

// statusFor maps service errors onto HTTP statuses. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, appErr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, appErr.ErrUserNotFound), errors.Is(err, appErr.ErrRoundNotFound),
		errors.Is(err, appErr.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, appErr.ErrRoundAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, appErr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, appErr.ErrInvalidPayload), errors.Is(err, appErr.ErrInvalidBet),
		errors.Is(err, appErr.ErrInsufficientBalance), errors.Is(err, appErr.ErrInvalidAction),
		errors.Is(err, appErr.ErrInvalidActionID), errors.Is(err, appErr.ErrActionNotAllowed),
		errors.Is(err, appErr.ErrNotYourTurn), errors.Is(err, appErr.ErrHandResolved),
		errors.Is(err, appErr.ErrNoActiveHand), errors.Is(err, appErr.ErrNoActiveRound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	response.Error(c, status, msg)
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func currentUser(c *gin.Context) (auth.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
	}
	return identity, ok
}
