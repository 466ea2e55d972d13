package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/dispatch"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

const callerContextKey = "safesteps_caller"

// Middleware authenticates the request from a Bearer header, or from a
// ?token= query parameter for websocket clients that cannot set headers.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenStr = strings.TrimPrefix(h, "Bearer ")
		} else if q := c.Query("token"); q != "" {
			tokenStr = q
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		claims, err := s.ParseToken(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(callerContextKey, dispatch.Caller{
			ID:    claims.UserID,
			Role:  claims.Role,
			Name:  claims.Name,
			Phone: claims.Phone,
		})
		c.Next()
	}
}

// RequireRole aborts with 403 unless the caller holds one of the roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		if _, ok := allowed[caller.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

func CallerFrom(c *gin.Context) (dispatch.Caller, bool) {
	v, ok := c.Get(callerContextKey)
	if !ok {
		return dispatch.Caller{}, false
	}
	caller, ok := v.(dispatch.Caller)
	return caller, ok
}
