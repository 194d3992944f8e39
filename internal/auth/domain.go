// Package auth turns bearer tokens into the actor every request runs as.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	TenantID     int64   `json:"tenant_id"`
	Role         string  `json:"role"`
	Subordinates []int64 `json:"subordinates,omitempty"`
}
