package auth

import (
	"time"
)

// Claims describes the caller a credential belongs to. Kind names the
// provider that accepted it ("static", "hs256").
type Claims struct {
	Kind      string
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

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

// Validator validates a credential presented by an API caller, either the
// X-API-Key value or a bearer token.
type Validator interface {
	Validate(token string) (*Claims, error)
}
