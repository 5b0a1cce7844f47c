package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/mpsflow/pkg/auth"
	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a bearer token carrying the solve scope. A nil
// validator disables authentication.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
			return
		}
		if !claims.HasScope(auth.ScopeSolve) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "missing scope " + auth.ScopeSolve})
			return
		}
		c.Set("claims", claims)
		c.Set("subject", claims.Subject)
		c.Next()
	}
}

// NewValidator builds the validator selected by auth.provider, or nil when
// none is configured.
func NewValidator(cfg *config.Config) (auth.Validator, error) {
	if strings.TrimSpace(cfg.Auth.Provider) == "" {
		return nil, nil
	}
	return auth.NewValidator(auth.ProviderConfig{Type: cfg.Auth.Provider, Config: cfg.Auth.Config})
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(token)
}

func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get("claims")
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
