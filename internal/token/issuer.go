// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package token issues and validates the signed tokens handed out at
// sign-in. Tokens are HS256 JWTs; revocation is tracked by token ID in a
// Revocations store until the token would have expired anyway.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/auth"
)

// MinKeyLength is the shortest accepted HS256 signing key.
const MinKeyLength = 32

// DefaultIssuer is the iss claim when none is configured.
const DefaultIssuer = "latchkey"

// Revocations records revoked token IDs.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Claims is the JWT payload.
type Claims struct {
	Tenant    string        `json:"tenant"`
	Username  string        `json:"preferred_username,omitempty"`
	AuthState string        `json:"auth_state"`
	Pending   string        `json:"pending,omitempty"`
	Method    string        `json:"amr,omitempty"`
	Custom    []CustomClaim `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

// CustomClaim is an account claim carried in the token.
type CustomClaim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Config configures an Issuer.
type Config struct {
	Issuer     string
	SigningKey []byte
	// Revocations defaults to an in-process store.
	Revocations Revocations
	// Now defaults to time.Now.
	Now func() time.Time
}

// Issuer implements auth.TokenIssuer.
type Issuer struct {
	issuer  string
	key     []byte
	revoked Revocations
	now     func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, oops.Code("TOKEN_MISCONFIGURED").
			With("key_length", len(cfg.SigningKey)).
			Errorf("signing key must be at least %d bytes", MinKeyLength)
	}
	i := &Issuer{
		issuer:  strings.TrimSpace(cfg.Issuer),
		key:     cfg.SigningKey,
		revoked: cfg.Revocations,
		now:     cfg.Now,
	}
	if i.issuer == "" {
		i.issuer = DefaultIssuer
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.revoked == nil {
		i.revoked = NewMemoryRevocations(i.now)
	}
	return i, nil
}

// IssueToken signs a token for req.
func (i *Issuer) IssueToken(_ context.Context, req auth.TokenRequest) (auth.Token, error) {
	if req.Subject == "" {
		return auth.Token{}, oops.Code("TOKEN_INVALID_REQUEST").Errorf("subject is required")
	}
	if req.Lifetime <= 0 {
		return auth.Token{}, oops.Code("TOKEN_INVALID_REQUEST").
			With("lifetime", req.Lifetime.String()).
			Errorf("lifetime must be positive")
	}

	now := i.now().UTC()
	expires := now.Add(req.Lifetime)
	id := ulid.Make().String()
	claims := &Claims{
		Tenant:    req.Tenant,
		Username:  req.Username,
		AuthState: req.State.String(),
		Pending:   string(req.Pending),
		Method:    req.Method,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    i.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	for _, c := range req.Claims {
		claims.Custom = append(claims.Custom, CustomClaim{Type: c.Type, Value: c.Value})
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return auth.Token{}, oops.Code("TOKEN_SIGN_FAILED").With("subject", req.Subject).Wrap(err)
	}
	return auth.Token{ID: id, Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (i *Issuer) keyFunc(*jwt.Token) (any, error) { return i.key, nil }

func (i *Issuer) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now))
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, i.keyFunc, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// CurrentPrincipal validates raw and returns the identity it carries.
func (i *Issuer) CurrentPrincipal(ctx context.Context, raw string) (*auth.Principal, error) {
	claims, err := i.parse(raw, jwt.WithExpirationRequired())
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(err)
	}
	if claims.ID == "" {
		return nil, oops.Code("TOKEN_INVALID").Errorf("token has no id")
	}
	revoked, err := i.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, oops.Code("TOKEN_REVOCATION_CHECK_FAILED").With("token_id", claims.ID).Wrap(err)
	}
	if revoked {
		return nil, oops.Code("TOKEN_REVOKED").With("token_id", claims.ID).Errorf("token has been revoked")
	}

	state, ok := auth.ParseAuthState(claims.AuthState)
	if !ok {
		return nil, oops.Code("TOKEN_INVALID").With("auth_state", claims.AuthState).Errorf("unknown auth state")
	}
	p := &auth.Principal{
		TokenID:   claims.ID,
		Subject:   claims.Subject,
		Tenant:    claims.Tenant,
		Username:  claims.Username,
		State:     state,
		Pending:   auth.PartialReason(claims.Pending),
		Method:    claims.Method,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	for _, c := range claims.Custom {
		p.Claims = append(p.Claims, account.Claim{Type: c.Type, Value: c.Value})
	}
	return p, nil
}

// RevokeToken revokes raw until it expires. Expired, malformed, and
// foreign tokens are already unusable and are ignored.
func (i *Issuer) RevokeToken(ctx context.Context, raw string) error {
	claims, err := i.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(i.now())
	if ttl <= 0 {
		return nil
	}
	if err := i.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").With("token_id", claims.ID).Wrap(err)
	}
	return nil
}

var _ auth.TokenIssuer = (*Issuer)(nil)
