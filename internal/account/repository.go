// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Filter narrows GetAll.
type Filter struct {
	// Tenant limits results to one tenant. Empty means all tenants.
	Tenant string

	// IncludeClosed includes closed accounts.
	IncludeClosed bool
}

// Repository persists accounts.
//
// Lookups by username and email match case-insensitively within tenant;
// an empty tenant matches every tenant.
// Add fails with ErrDuplicate when the username or email is taken in the
// tenant. Update fails with ErrConcurrentUpdate when the stored version no
// longer matches the account's Version, and bumps Version on success.
type Repository interface {
	GetAll(ctx context.Context, filter Filter) ([]*Account, error)
	Get(ctx context.Context, id ulid.ULID) (*Account, error)
	GetByUsername(ctx context.Context, tenant, username string) (*Account, error)
	GetByEmail(ctx context.Context, tenant, email string) (*Account, error)
	GetByVerificationKey(ctx context.Context, key string) (*Account, error)
	GetByLinkedAccount(ctx context.Context, tenant, provider, providerAccountID string) (*Account, error)
	GetByCertificate(ctx context.Context, tenant, thumbprint string) (*Account, error)
	Add(ctx context.Context, acct *Account) error
	Update(ctx context.Context, acct *Account) error
	Remove(ctx context.Context, id ulid.ULID) error
}
