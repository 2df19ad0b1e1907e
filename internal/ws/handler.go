package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/service/auth"
	"maca-service/internal/service/ratelimit"
	"maca-service/internal/service/table"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"
	"maca-service/pkg/response"
	netutil "maca-service/pkg/utils/net"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type IdentityResolver interface {
	ResolveToken(ctx context.Context, token string) (auth.Identity, error)
}

type Handler struct {
	tables     Tables
	identities IdentityResolver
	limiter    Limiter
	limits     config.RateLimitConfig
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	// ctx outlives single requests; events run under it once upgraded.
	ctx context.Context
}

func NewHandler(ctx context.Context, tables Tables, identities IdentityResolver, limiter Limiter, dispatcher *Dispatcher, limits config.RateLimitConfig, allowedOrigins []string) *Handler {
	return &Handler{
		tables:     tables,
		identities: identities,
		limiter:    limiter,
		limits:     limits,
		dispatcher: dispatcher,
		ctx:        ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows every origin when none are configured, for dev.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// HandleWS authenticates and upgrades a client. Rejected clients never
// reach the presence tracker.
func (h *Handler) HandleWS(c *gin.Context) {
	if h.limiter != nil && h.limits.Enabled {
		key := ratelimit.ConnectKey(netutil.ClientKey(c.ClientIP()))
		window := time.Duration(h.limits.ConnectWindowSeconds) * time.Second
		if d := h.limiter.Check(c.Request.Context(), key, h.limits.ConnectLimit, window); !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			response.JSON(c, http.StatusTooManyRequests, gin.H{"retryAfter": d.RetryAfter}, appErr.ErrRateLimited.Error())
			return
		}
	}

	token, err := tokenFromRequest(c)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, err.Error())
		return
	}
	identity, err := h.identities.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, appErr.ErrUnauthorized) {
			response.Error(c, http.StatusUnauthorized, "invalid token")
			return
		}
		logger.Log.Error("ws identity lookup failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to resolve identity")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	cl := newClient(conn, table.Identity{UserID: identity.UserID, Username: identity.Username, Role: identity.Role}, h.tables, h.dispatcher)
	logger.Log.Info("new websocket connection",
		zap.String("connID", cl.ID()),
		zap.String("userID", identity.UserID),
		zap.String("role", string(identity.Role)),
	)
	cl.run(h.ctx)
}

func tokenFromRequest(c *gin.Context) (string, error) {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, nil
			}
		}
	}
	return "", errors.New("missing token")
}
