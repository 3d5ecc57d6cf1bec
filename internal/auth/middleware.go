package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClaimsKey is the gin context key holding the caller's Claims.
const ClaimsKey = "claims"

// TeacherAuth enforces bearer JWT tokens signed with HS256 whose session is
// still live.
func TeacherAuth(signingKey, issuer string, sessions Sessions, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		ok, err := sessions.Exists(c.Request.Context(), claims.ID)
		if err != nil {
			log.Error("session lookup failed", zap.String("session_id", claims.ID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "store_unavailable", "message": "session store unavailable"}})
			return
		}
		if !ok {
			abort(c, http.StatusUnauthorized, "session expired or logged out")
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket handshake, so those requests may pass access_token instead.
func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if c.IsWebsocket() {
		return c.Query("access_token")
	}
	return ""
}

// FromContext returns the claims set by TeacherAuth.
func FromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": "unauthorized", "message": msg}})
}
