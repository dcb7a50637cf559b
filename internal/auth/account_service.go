// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/eventbus"
	"github.com/latchkey/latchkey/internal/policy"
	"github.com/latchkey/latchkey/internal/secret"
)

// Publisher receives the events raised by a committed transition.
// *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, events ...account.Event) error
}

// AccountService runs every account use case as one unit of work.
type AccountService struct {
	repo      account.Repository
	publisher Publisher
	policy    *policy.Policy
	settings  SecuritySettings
	env       account.Env
	logger    *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// AccountServiceOption configures an AccountService.
type AccountServiceOption func(*AccountService)

// WithPublisher sets where committed events go. The default drops them.
func WithPublisher(p Publisher) AccountServiceOption {
	return func(s *AccountService) { s.publisher = p }
}

// WithPolicy replaces the policy built from the settings, typically to add
// custom validators.
func WithPolicy(p *policy.Policy) AccountServiceOption {
	return func(s *AccountService) { s.policy = p }
}

// WithEnv sets the clock and hasher. A nil Hasher is filled from the
// settings.
func WithEnv(env account.Env) AccountServiceOption {
	return func(s *AccountService) { s.env = env }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) AccountServiceOption {
	return func(s *AccountService) { s.logger = l }
}

// NewAccountService creates an AccountService.
func NewAccountService(repo account.Repository, settings SecuritySettings, opts ...AccountServiceOption) (*AccountService, error) {
	if repo == nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Errorf("account repository is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &AccountService{
		repo:     repo,
		settings: settings,
		env:      account.SystemEnv(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.env.Hasher == nil {
		s.env.Hasher = &secret.Hasher{Iterations: settings.PasswordHashingIterationCount, Now: s.env.Now}
	}
	if s.publisher == nil {
		s.publisher = eventbus.New(eventbus.WithLogger(s.logger))
	}
	if s.policy == nil {
		p, err := policy.New(settings.policySettings())
		if err != nil {
			return nil, err
		}
		s.policy = p
	}
	return s, nil
}

// Settings returns the settings the service was built with.
func (s *AccountService) Settings() SecuritySettings { return s.settings }

func (s *AccountService) now() time.Time {
	if s.env.Now != nil {
		return s.env.Now().UTC()
	}
	return time.Now().UTC()
}

// tenant resolves the tenant a call operates on.
func (s *AccountService) tenant(t string) (string, error) {
	if !s.settings.MultiTenant {
		return s.settings.DefaultTenant, nil
	}
	t = strings.TrimSpace(t)
	if t == "" {
		return "", invalidArgument("tenant", "tenant is required")
	}
	return t, nil
}

// UsernameExists reports whether any account holds username. An empty
// tenant searches every tenant.
func (s *AccountService) UsernameExists(ctx context.Context, tenant, username string) (bool, error) {
	return s.exists(s.repo.GetByUsername(ctx, tenant, username))
}

// EmailExists reports whether any account holds email. An empty tenant
// searches every tenant.
func (s *AccountService) EmailExists(ctx context.Context, tenant, email string) (bool, error) {
	return s.exists(s.repo.GetByEmail(ctx, tenant, email))
}

func (s *AccountService) exists(_ *account.Account, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, account.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// bind attaches the service env to a loaded account.
func (s *AccountService) bind(acct *account.Account) *account.Account {
	acct.UseEnv(s.env)
	return acct
}

// load fetches an account by ID for a mutation.
func (s *AccountService) load(ctx context.Context, id ulid.ULID) (*account.Account, error) {
	acct, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, oops.With("operation", "load account").With("id", id.String()).Wrap(err)
	}
	return s.bind(acct), nil
}

// find resolves a lookup, mapping not-found to a nil account.
func (s *AccountService) find(acct *account.Account, err error) (*account.Account, error) {
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.bind(acct), nil
}

// save persists acct and then publishes the events its transitions raised.
// Nothing is published when persistence fails.
func (s *AccountService) save(ctx context.Context, acct *account.Account) error {
	if err := s.repo.Update(ctx, acct); err != nil {
		acct.PullEvents()
		return oops.With("operation", "update account").With("id", acct.ID().String()).Wrap(err)
	}
	return s.publish(ctx, acct.PullEvents()...)
}

func (s *AccountService) publish(ctx context.Context, events ...account.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.publisher.Publish(ctx, events...)
}

// mutate loads the account, applies fn, and saves when fn succeeds.
func (s *AccountService) mutate(ctx context.Context, id ulid.ULID, fn func(*account.Account) error) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	return s.save(ctx, acct)
}

// CreateAccount validates and stores a new account. When verification is
// not required the account is verified in the same unit of work.
func (s *AccountService) CreateAccount(ctx context.Context, tenant, username, password, email string) (*account.Account, error) {
	tenant, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if s.settings.EmailIsUsername {
		username = email
	}
	username = strings.TrimSpace(username)

	switch {
	case username == "" && s.settings.EmailIsUsername:
		return nil, invalid("Email is required.")
	case username == "":
		return nil, invalid("Username is required.")
	case password == "":
		return nil, invalid("Password is required.")
	case email == "" && s.settings.RequireAccountVerification:
		return nil, invalid("Email is required.")
	}

	acct, err := account.New(s.env, tenant, username, password, email)
	if err != nil {
		return nil, err
	}
	if !s.settings.EmailIsUsername {
		if err := s.policy.ValidateUsername(ctx, s, acct, username); err != nil {
			return nil, err
		}
	}
	if email != "" {
		if err := s.policy.ValidateEmail(ctx, s, acct, email); err != nil {
			return nil, err
		}
	}
	if err := s.policy.ValidatePassword(ctx, s, acct, password); err != nil {
		return nil, err
	}

	if !s.settings.AllowLoginAfterAccountCreation {
		acct.SetIsLoginAllowed(false)
	}
	if !s.settings.RequireAccountVerification {
		acct.VerifyAccount(acct.VerificationKey())
	}

	if err := s.repo.Add(ctx, acct); err != nil {
		acct.PullEvents()
		if errors.Is(err, account.ErrDuplicate) {
			return nil, invalid("Username or email already in use.")
		}
		return nil, oops.With("operation", "add account").Wrap(err)
	}
	s.logger.InfoContext(ctx, "account created",
		"account_id", acct.ID().String(),
		"tenant", tenant,
		"verified", acct.IsAccountVerified())
	if err := s.publish(ctx, acct.PullEvents()...); err != nil {
		return acct, err
	}
	return acct, nil
}

// GetByID returns the account with id.
func (s *AccountService) GetByID(ctx context.Context, id ulid.ULID) (*account.Account, error) {
	return s.load(ctx, id)
}

// GetByUsername returns the account named username, or nil.
func (s *AccountService) GetByUsername(ctx context.Context, tenant, username string) (*account.Account, error) {
	tenant, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(username) == "" {
		return nil, nil
	}
	if s.settings.UsernamesUniqueAcrossTenants {
		tenant = ""
	}
	return s.find(s.repo.GetByUsername(ctx, tenant, username))
}

// GetByEmail returns the account holding email, or nil.
func (s *AccountService) GetByEmail(ctx context.Context, tenant, email string) (*account.Account, error) {
	tenant, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	return s.find(s.repo.GetByEmail(ctx, tenant, email))
}

// GetByVerificationKey returns the account holding key, or nil.
func (s *AccountService) GetByVerificationKey(ctx context.Context, key string) (*account.Account, error) {
	if key == "" {
		return nil, nil
	}
	return s.find(s.repo.GetByVerificationKey(ctx, key))
}

// GetByLinkedAccount returns the account linked to the external identity,
// or nil.
func (s *AccountService) GetByLinkedAccount(ctx context.Context, tenant, provider, providerAccountID string) (*account.Account, error) {
	tenant, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if provider == "" || providerAccountID == "" {
		return nil, nil
	}
	return s.find(s.repo.GetByLinkedAccount(ctx, tenant, provider, providerAccountID))
}

// GetByCertificate returns the account holding thumbprint, or nil.
func (s *AccountService) GetByCertificate(ctx context.Context, tenant, thumbprint string) (*account.Account, error) {
	tenant, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if thumbprint == "" {
		return nil, nil
	}
	return s.find(s.repo.GetByCertificate(ctx, tenant, thumbprint))
}

// GetAll returns the open accounts of tenant. In multi-tenant mode an empty
// tenant lists every tenant.
func (s *AccountService) GetAll(ctx context.Context, tenant string) ([]*account.Account, error) {
	if !s.settings.MultiTenant {
		tenant = s.settings.DefaultTenant
	}
	accts, err := s.repo.GetAll(ctx, account.Filter{Tenant: strings.TrimSpace(tenant)})
	if err != nil {
		return nil, oops.With("operation", "list accounts").Wrap(err)
	}
	for _, a := range accts {
		s.bind(a)
	}
	return accts, nil
}

// RequestAccountVerification re-sends the verification key.
func (s *AccountService) RequestAccountVerification(ctx context.Context, id ulid.ULID) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if acct.Email() == "" {
			return invalid("Email is required.")
		}
		ok, err := acct.RequestAccountVerification()
		if err != nil {
			return err
		}
		if !ok {
			return invalid("Account is already verified.")
		}
		return nil
	})
}

// VerifyAccount consumes a VerifyAccount key. Unknown or mismatched keys
// report false.
func (s *AccountService) VerifyAccount(ctx context.Context, key string) (bool, error) {
	acct, err := s.GetByVerificationKey(ctx, key)
	if err != nil || acct == nil {
		return false, err
	}
	if !acct.VerifyAccount(key) {
		return false, nil
	}
	return true, s.save(ctx, acct)
}

// CancelVerification abandons the request behind key. Cancelling the
// initial verification of an account that was never verified deletes it.
func (s *AccountService) CancelVerification(ctx context.Context, key string) (bool, error) {
	acct, err := s.GetByVerificationKey(ctx, key)
	if err != nil || acct == nil {
		return false, err
	}
	if !acct.CancelVerification(key) {
		return false, nil
	}
	if acct.IsAccountClosed() && !acct.IsAccountVerified() {
		return true, s.remove(ctx, acct)
	}
	return true, s.save(ctx, acct)
}

// SetIsLoginAllowed sets the administrative sign-in flag.
func (s *AccountService) SetIsLoginAllowed(ctx context.Context, id ulid.ULID, allowed bool) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if !acct.SetIsLoginAllowed(allowed) {
			return invalid("Account is closed.")
		}
		return nil
	})
}

// SetRequiresPasswordReset forces (or clears) a password change at the
// next sign-in.
func (s *AccountService) SetRequiresPasswordReset(ctx context.Context, id ulid.ULID, required bool) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if !acct.SetRequiresPasswordReset(required) {
			return invalid("Account is closed.")
		}
		return nil
	})
}

// CloseAccount closes the account. Closing a closed account is a no-op.
func (s *AccountService) CloseAccount(ctx context.Context, id ulid.ULID) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.CloseAccount() {
		return nil
	}
	return s.save(ctx, acct)
}

// DeleteAccount closes the account, then removes the record when deletion
// is allowed or the account was never verified. Otherwise the closed
// record is kept.
func (s *AccountService) DeleteAccount(ctx context.Context, id ulid.ULID) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	acct.CloseAccount()
	if s.settings.AllowAccountDeletion || !acct.IsAccountVerified() {
		return s.remove(ctx, acct)
	}
	return s.save(ctx, acct)
}

// remove hard-deletes acct and publishes its pending events followed by
// EventAccountDeleted.
func (s *AccountService) remove(ctx context.Context, acct *account.Account) error {
	if err := s.repo.Remove(ctx, acct.ID()); err != nil {
		acct.PullEvents()
		return oops.With("operation", "remove account").With("id", acct.ID().String()).Wrap(err)
	}
	s.logger.InfoContext(ctx, "account deleted", "account_id", acct.ID().String(), "tenant", acct.Tenant())
	events := append(acct.PullEvents(), account.NewEvent(account.EventAccountDeleted, acct, s.now(), nil))
	return s.publish(ctx, events...)
}
