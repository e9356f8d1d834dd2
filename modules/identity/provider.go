// Package identity resolves the identity claim a client presents at
// handshake time into a bound collab.Identity.
package identity

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/example/collab-realtime/domain/collab"
)

// Provider resolves an identity claim. Failures wrap
// collab.ErrIdentityInvalid.
type Provider interface {
	Resolve(ctx context.Context, claim collab.IdentityClaim) (collab.Identity, error)
}

// ClaimProvider trusts the plain claim fields after validating them.
type ClaimProvider struct {
	validate *validator.Validate
}

// NewClaimProvider creates a provider that validates plain claims.
func NewClaimProvider(v *validator.Validate) *ClaimProvider {
	if v == nil {
		v = NewValidator()
	}
	return &ClaimProvider{validate: v}
}

// Resolve validates the claim and returns its identity.
func (p *ClaimProvider) Resolve(_ context.Context, claim collab.IdentityClaim) (collab.Identity, error) {
	return validIdentity(p.validate, claim.Identity)
}

// TokenProvider takes the identity from a signed token and ignores the plain
// claim fields.
type TokenProvider struct {
	tokens   *TokenManager
	validate *validator.Validate
}

// NewTokenProvider creates a provider that verifies tokens with tokens.
func NewTokenProvider(tokens *TokenManager, v *validator.Validate) *TokenProvider {
	if v == nil {
		v = NewValidator()
	}
	return &TokenProvider{tokens: tokens, validate: v}
}

// Resolve verifies the claim's token and returns the identity it carries.
func (p *TokenProvider) Resolve(_ context.Context, claim collab.IdentityClaim) (collab.Identity, error) {
	if claim.Token == "" {
		return collab.Identity{}, fmt.Errorf("%w: token is required", collab.ErrIdentityInvalid)
	}
	claims, err := p.tokens.Verify(claim.Token)
	if err != nil {
		return collab.Identity{}, fmt.Errorf("%w: %w", collab.ErrIdentityInvalid, err)
	}
	return validIdentity(p.validate, claims.Identity())
}

func validIdentity(v *validator.Validate, id collab.Identity) (collab.Identity, error) {
	if err := v.Struct(id); err != nil {
		return collab.Identity{}, fmt.Errorf("%w: %s", collab.ErrIdentityInvalid, describe(err))
	}
	return id, nil
}
