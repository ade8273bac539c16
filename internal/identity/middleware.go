package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userClaimsKey = "daygoal.user"

// RequireUser is a gin middleware that validates the Bearer token on the
// request and stores its claims in the context. Requests without a valid
// token are rejected with 401.
func RequireUser(issuer *UserTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be a bearer token"})
			return
		}
		claims, err := issuer.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userClaimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects requests whose session token is not an admin token.
// Must be applied after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := UserFromCtx(c)
		if !ok || claims.Type != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// UserFromCtx returns the verified session claims stored by RequireUser.
func UserFromCtx(c *gin.Context) (*UserTokenClaims, bool) {
	v, ok := c.Get(userClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*UserTokenClaims)
	return claims, ok
}
