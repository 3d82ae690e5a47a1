package domain

import (
	"fmt"
	"time"
)

const ScopeGatewayAdmin = "gateway:admin"

// AdminClaims are the claims carried by tokens accepted on the internal
// admin endpoints.
type AdminClaims struct {
	Subject   string   `json:"sub"`
	Scopes    []string `json:"scopes"`
	Issuer    string   `json:"iss"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
}

func (c *AdminClaims) Valid() error {
	if c.ExpiresAt == 0 {
		return ErrTokenMissingExpiry
	}
	if time.Now().Unix() > c.ExpiresAt {
		return ErrTokenExpired
	}
	if c.Subject == "" {
		return ErrTokenInvalidSubject
	}
	return nil
}

func (c *AdminClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var (
	ErrTokenExpired          = fmt.Errorf("token has expired")
	ErrTokenMissingExpiry    = fmt.Errorf("token has no expiry")
	ErrTokenInvalidSubject   = fmt.Errorf("token has invalid subject")
	ErrTokenIssuerNotAllowed = fmt.Errorf("token issuer not allowed")
	ErrTokenInvalidSignature = fmt.Errorf("token has invalid signature")
	ErrTokenMalformed        = fmt.Errorf("token is malformed")
)
