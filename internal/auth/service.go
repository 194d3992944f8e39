package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// SubordinateSource loads a manager's assigned users when the token does not carry them.
type SubordinateSource interface {
	Subordinates(ctx context.Context, tenantID, managerID int64) ([]int64, error)
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret       []byte
	issuer       string
	subordinates SubordinateSource
}

// NewVerifier constructs a Verifier. issuer is checked only when non-empty.
func NewVerifier(secret, issuer string, subordinates SubordinateSource) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, subordinates: subordinates}, nil
}

// Verify parses the token and resolves the actor it identifies.
func (v *Verifier) Verify(ctx context.Context, token string) (shared.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return shared.Actor{}, fmt.Errorf("auth: invalid token: %w", shared.ErrUnauthorized)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("auth: invalid subject: %w", shared.ErrUnauthorized)
	}
	role := shared.Role(claims.Role)
	if !role.Valid() || claims.TenantID <= 0 {
		return shared.Actor{}, fmt.Errorf("auth: invalid role or tenant: %w", shared.ErrUnauthorized)
	}
	actor := shared.Actor{ID: id, TenantID: claims.TenantID, Role: role, SubordinateIDs: claims.Subordinates}
	if role == shared.RoleManager && claims.Subordinates == nil && v.subordinates != nil {
		subs, err := v.subordinates.Subordinates(ctx, actor.TenantID, actor.ID)
		if err != nil {
			return shared.Actor{}, fmt.Errorf("auth: load subordinates: %w", err)
		}
		actor.SubordinateIDs = subs
	}
	return actor, nil
}
