// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package memory provides an in-process account.Repository. It stores
// snapshots, so callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
)

// Repository is a mutex-guarded map of account snapshots.
type Repository struct {
	mu       sync.RWMutex
	accounts map[ulid.ULID]account.State
	env      account.Env
}

// Option configures a Repository.
type Option func(*Repository)

// WithEnv binds loaded accounts to env instead of account.SystemEnv.
func WithEnv(env account.Env) Option {
	return func(r *Repository) { r.env = env }
}

// NewRepository creates an empty Repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		accounts: make(map[ulid.ULID]account.State),
		env:      account.SystemEnv(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) restore(s account.State) *account.Account {
	acct := account.Restore(s)
	acct.UseEnv(r.env)
	return acct
}

func tenantMatches(filter, tenant string) bool {
	return filter == "" || filter == tenant
}

// find returns the oldest account matching pred. Caller holds the lock.
func (r *Repository) find(pred func(account.State) bool) (account.State, bool) {
	var (
		found account.State
		ok    bool
	)
	for _, s := range r.accounts {
		if !pred(s) {
			continue
		}
		if !ok || s.Created.Before(found.Created) || (s.Created.Equal(found.Created) && s.ID.Compare(found.ID) < 0) {
			found, ok = s, true
		}
	}
	return found, ok
}

func (r *Repository) lookup(pred func(account.State) bool, attrs ...any) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.find(pred)
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(attrs...).Wrap(account.ErrNotFound)
	}
	return r.restore(s), nil
}

// GetAll returns accounts matching filter ordered by creation time.
func (r *Repository) GetAll(_ context.Context, filter account.Filter) ([]*account.Account, error) {
	r.mu.RLock()
	states := make([]account.State, 0, len(r.accounts))
	for _, s := range r.accounts {
		if !tenantMatches(filter.Tenant, s.Tenant) {
			continue
		}
		if s.IsAccountClosed && !filter.IncludeClosed {
			continue
		}
		states = append(states, s)
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		if states[i].Created.Equal(states[j].Created) {
			return states[i].ID.Compare(states[j].ID) < 0
		}
		return states[i].Created.Before(states[j].Created)
	})
	out := make([]*account.Account, len(states))
	for i, s := range states {
		out[i] = r.restore(s)
	}
	return out, nil
}

// Get returns the account with id.
func (r *Repository) Get(_ context.Context, id ulid.ULID) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return r.restore(s), nil
}

// GetByUsername returns the account named username in tenant.
func (r *Repository) GetByUsername(_ context.Context, tenant, username string) (*account.Account, error) {
	return r.lookup(func(s account.State) bool {
		return tenantMatches(tenant, s.Tenant) && strings.EqualFold(s.Username, username)
	}, "tenant", tenant, "username", username)
}

// GetByEmail returns the account with email in tenant.
func (r *Repository) GetByEmail(_ context.Context, tenant, email string) (*account.Account, error) {
	if email == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return r.lookup(func(s account.State) bool {
		return tenantMatches(tenant, s.Tenant) && strings.EqualFold(s.Email, email)
	}, "tenant", tenant, "email", email)
}

// GetByVerificationKey returns the account holding key.
func (r *Repository) GetByVerificationKey(_ context.Context, key string) (*account.Account, error) {
	if key == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return r.lookup(func(s account.State) bool {
		return s.VerificationKey == key
	})
}

// GetByLinkedAccount returns the account linked to the external identity.
func (r *Repository) GetByLinkedAccount(_ context.Context, tenant, provider, providerAccountID string) (*account.Account, error) {
	return r.lookup(func(s account.State) bool {
		if !tenantMatches(tenant, s.Tenant) {
			return false
		}
		for _, la := range s.LinkedAccounts {
			if strings.EqualFold(la.ProviderName, provider) && la.ProviderAccountID == providerAccountID {
				return true
			}
		}
		return false
	}, "tenant", tenant, "provider", provider)
}

// GetByCertificate returns the account that registered thumbprint.
func (r *Repository) GetByCertificate(_ context.Context, tenant, thumbprint string) (*account.Account, error) {
	return r.lookup(func(s account.State) bool {
		if !tenantMatches(tenant, s.Tenant) {
			return false
		}
		for _, c := range s.Certificates {
			if strings.EqualFold(c.Thumbprint, thumbprint) {
				return true
			}
		}
		return false
	}, "tenant", tenant, "thumbprint", thumbprint)
}

// conflicts reports whether s collides with a stored account other than
// itself on username or email. Caller holds the lock.
func (r *Repository) conflicts(s account.State) bool {
	_, clash := r.find(func(o account.State) bool {
		if o.ID == s.ID || o.Tenant != s.Tenant {
			return false
		}
		if strings.EqualFold(o.Username, s.Username) {
			return true
		}
		return s.Email != "" && strings.EqualFold(o.Email, s.Email)
	})
	return clash
}

// Add stores a new account and sets its version to 1.
func (r *Repository) Add(_ context.Context, acct *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := acct.Snapshot()
	if _, exists := r.accounts[s.ID]; exists || r.conflicts(s) {
		return oops.Code("ACCOUNT_DUPLICATE").
			With("tenant", s.Tenant).
			With("username", s.Username).
			Wrap(account.ErrDuplicate)
	}
	s.Version = 1
	r.accounts[s.ID] = s
	acct.SetVersion(1)
	return nil
}

// Update replaces a stored account when its version matches.
func (r *Repository) Update(_ context.Context, acct *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := acct.Snapshot()
	current, ok := r.accounts[s.ID]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", s.ID.String()).Wrap(account.ErrNotFound)
	}
	if current.Version != s.Version {
		return oops.Code("ACCOUNT_CONCURRENT_UPDATE").
			With("id", s.ID.String()).
			With("expected_version", s.Version).
			With("actual_version", current.Version).
			Wrap(account.ErrConcurrentUpdate)
	}
	if r.conflicts(s) {
		return oops.Code("ACCOUNT_DUPLICATE").With("id", s.ID.String()).Wrap(account.ErrDuplicate)
	}
	s.Version++
	r.accounts[s.ID] = s
	acct.SetVersion(s.Version)
	return nil
}

// Remove deletes the account with id.
func (r *Repository) Remove(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(account.ErrNotFound)
	}
	delete(r.accounts, id)
	return nil
}

var _ account.Repository = (*Repository)(nil)
