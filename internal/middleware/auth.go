package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"maca-service/internal/model"
	"maca-service/internal/service/auth"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const ContextIdentityKey = "identity"

type IdentityResolver interface {
	ResolveToken(ctx context.Context, token string) (auth.Identity, error)
}

// AuthRequired resolves the bearer token to an identity. The role is read
// from the user store on every request.
func AuthRequired(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Abort()
			response.Error(c, http.StatusUnauthorized, err.Error())
			return
		}

		identity, err := resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			c.Abort()
			if errors.Is(err, appErr.ErrUnauthorized) {
				response.Error(c, http.StatusUnauthorized, "invalid token")
				return
			}
			response.Error(c, http.StatusInternalServerError, "failed to resolve identity")
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// RequireRole must run after AuthRequired.
func RequireRole(min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			c.Abort()
			response.Error(c, http.StatusUnauthorized, appErr.ErrUnauthorized.Error())
			return
		}
		if !identity.Role.AtLeast(min) {
			c.Abort()
			response.Error(c, http.StatusForbidden, "requires "+string(min)+" role")
			return
		}
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
