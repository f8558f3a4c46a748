package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// TokenValidator is satisfied by *auth.JWTManager.
type TokenValidator interface {
	ValidateAccessToken(token string) (*domain.Claims, error)
}

type errorBody struct {
	Error string `json:"error"`
}

// Auth validates the bearer token and stores the caller as a domain.Actor.
func Auth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authorization header required"})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid authorization header format"})
			return
		}

		claims, err := tokens.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
			return
		}

		c.Set(actorKey, domain.NewActor(claims.UserID, claims.Role))
		c.Next()
	}
}

// RequireRoles must run after Auth.
func RequireRoles(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "access denied"})
	}
}

func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// CronSecret guards the reminder triggers. The secret comes from the
// "secret" query parameter and is compared in constant time. An empty
// configured secret rejects every request.
func CronSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.Query("secret"))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
