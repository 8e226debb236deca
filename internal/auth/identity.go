package auth

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the authenticated principal as the identity provider sees it.
type Identity struct {
	UID            string  `json:"uid"`
	Email          string  `json:"email"`
	DisplayName    *string `json:"displayName"`
	EmailVerified  bool    `json:"emailVerified"`
	Role           *string `json:"role"`
	OrganizationID *int64  `json:"organizationId"`
}

func IdentityFromClaims(c Claims) Identity {
	id := Identity{
		UID:            c.Subject,
		Email:          NormalizeEmail(c.Email),
		EmailVerified:  c.EmailVerified,
		OrganizationID: c.OrganizationID,
	}
	if c.Name != "" {
		name := c.Name
		id.DisplayName = &name
	}
	if c.Role != "" {
		role := c.Role
		id.Role = &role
	}
	return id
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Provider is the identity provider contract used by the session layer.
type Provider interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
}

// RevocationList answers whether a token id was revoked before expiry.
type RevocationList interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Verifier is the local Provider: signed tokens plus a revocation list.
type Verifier struct {
	issuer  *Issuer
	revoked RevocationList
}

func NewVerifier(issuer *Issuer, revoked RevocationList) *Verifier {
	return &Verifier{issuer: issuer, revoked: revoked}
}

func (v *Verifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	claims, err := v.Claims(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return IdentityFromClaims(claims), nil
}

// Claims verifies token and returns its raw claims.
func (v *Verifier) Claims(ctx context.Context, token string) (Claims, error) {
	claims, err := v.issuer.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if v.revoked != nil {
		revoked, err := v.revoked.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrRevokedToken
		}
	}
	return claims, nil
}
