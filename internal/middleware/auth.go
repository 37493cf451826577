package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/pkg/auth"
)

const (
	APIKeyHeader = "X-API-Key"

	authClaimsKey  = "authClaims"
	authSubjectKey = "authSubject"
)

// APIKeyMiddleware accepts a credential from X-API-Key or, failing that, an
// Authorization bearer token, and checks it against validators in order.
// With no validators configured every request passes.
func APIKeyMiddleware(validators []auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(validators) == 0 {
			c.Next()
			return
		}
		credential := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if credential == "" {
			credential = bearerToken(c.GetHeader("Authorization"))
		}
		if credential == "" {
			envelope.Abort(c, http.StatusUnauthorized, "API key required", nil)
			return
		}
		claims, err := auth.ValidateAny(validators, credential)
		if err != nil {
			Logger(c).Warn("rejected credential", "client_ip", c.ClientIP())
			envelope.Abort(c, http.StatusForbidden, "Invalid API key", nil)
			return
		}
		c.Set(authClaimsKey, claims)
		c.Set(authSubjectKey, claims.Subject)
		c.Set(loggerKey, Logger(c).With(slog.String("auth_subject", claims.Subject), slog.String("auth_kind", claims.Kind)))
		c.Next()
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Claims returns the claims APIKeyMiddleware accepted, or nil.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(authClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
