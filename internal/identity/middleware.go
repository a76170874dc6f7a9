package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxTokenClaims = "agentvault_token_claims"
	ctxUserClaims  = "agentvault_user_claims"
)

// RequireToken returns a Gin middleware that enforces a valid Bearer agent
// task token. On success it injects the *TaskTokenClaims into the context.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": "bearer token required"})
			return
		}

		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": err.Error()})
			return
		}

		c.Set(ctxTokenClaims, claims)
		c.Next()
	}
}

// OptionalToken tries to parse a Bearer agent task token but never aborts
// the request when one is absent or invalid.
func OptionalToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr, ok := bearerToken(c); ok {
			if claims, err := tokens.Verify(tokenStr); err == nil {
				c.Set(ctxTokenClaims, claims)
			}
		}
		c.Next()
	}
}

// RequireUserToken returns a Gin middleware that enforces a valid developer
// or admin session Bearer token. On success it injects the *UserTokenClaims.
func RequireUserToken(tokens *UserTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": "bearer session token required"})
			return
		}

		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": err.Error()})
			return
		}

		c.Set(ctxUserClaims, claims)
		c.Next()
	}
}

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer
// token. Only tokens with Role="admin" are accepted. Use on every admin-only
// route.
func RequireAdmin(tokens *UserTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": "admin bearer token required"})
			return
		}

		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": err.Error()})
			return
		}
		if claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error_code": "auth_forbidden", "message": "admin role required"})
			return
		}

		c.Set(ctxUserClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the task token claims injected by RequireToken.
func ClaimsFromCtx(c *gin.Context) *TaskTokenClaims {
	v, _ := c.Get(ctxTokenClaims)
	claims, _ := v.(*TaskTokenClaims)
	return claims
}

// UserClaimsFromCtx retrieves the user token claims injected by RequireUserToken.
func UserClaimsFromCtx(c *gin.Context) *UserTokenClaims {
	v, _ := c.Get(ctxUserClaims)
	claims, _ := v.(*UserTokenClaims)
	return claims
}

// HasScope checks whether the claims contain the requested scope.
func HasScope(claims *TaskTokenClaims, scope string) bool {
	if claims == nil {
		return false
	}
	for _, s := range claims.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(authHeader, "Bearer "), true
}
