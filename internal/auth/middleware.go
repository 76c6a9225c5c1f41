package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// RequireUser enforces bearer JWT tokens signed with HS256 and stores the
// resolved Identity on the request context.
func RequireUser(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, Identity{UserID: claims.Subject, Role: ParseRole(claims.Role)})
		c.Next()
	}
}

// IdentityFromContext returns the Identity stored by RequireUser.
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	ident, ok := val.(Identity)
	return ident, ok
}
