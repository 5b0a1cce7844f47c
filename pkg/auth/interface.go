package auth

import (
	"time"
)

// Claims is the identity extracted from a bearer token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator validates bearer tokens.
type Validator interface {
	Validate(token string) (*Claims, error)
}

// ScopeSolve grants access to POST /solve_mps and the solve history.
const ScopeSolve = "mpsflow:solve"
