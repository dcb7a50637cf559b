// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a single user's identity and credential state.
type Account struct {
	id       ulid.ULID
	tenant   string
	username string
	email    string

	mobilePhone        string
	mobilePhoneChanged *time.Time

	created     time.Time
	lastUpdated time.Time

	isAccountVerified bool
	isLoginAllowed    bool
	isAccountClosed   bool
	accountClosed     *time.Time

	lastLogin        *time.Time
	lastFailedLogin  *time.Time
	failedLoginCount int

	hashedPassword        string
	passwordChanged       *time.Time
	requiresPasswordReset bool

	verificationKey     string
	verificationPurpose VerificationPurpose
	verificationKeySent *time.Time
	verificationStorage string

	mobileCode     string
	mobileCodeSent *time.Time

	twoFactorMode          TwoFactorMode
	currentTwoFactorStatus TwoFactorMode
	totpSecret             string
	// totpLastStep is the last accepted TOTP time step.
	totpLastStep           int64

	claims          []Claim
	linkedAccounts  []LinkedAccount
	certificates    []Certificate
	twoFactorTokens []TwoFactorToken
	resetSecrets    []PasswordResetSecret

	version int64

	env    Env
	events []Event
}

// New creates an unverified account with a fresh VerifyAccount key and
// raises EventAccountCreated. Login is allowed by default.
func New(env Env, tenant, username, password, email string) (*Account, error) {
	switch {
	case strings.TrimSpace(tenant) == "":
		return nil, invalidArgument("tenant", "tenant is required")
	case strings.TrimSpace(username) == "":
		return nil, invalidArgument("username", "username is required")
	case password == "":
		return nil, invalidArgument("password", "password is required")
	}

	now := env.now()
	a := &Account{
		id:             ulid.Make(),
		tenant:         tenant,
		username:       username,
		email:          strings.TrimSpace(email),
		created:        now,
		lastUpdated:    now,
		isLoginAllowed: true,
		env:            env,
	}
	if err := a.SetPassword(password); err != nil {
		return nil, err
	}
	// SetPassword records a change event that means nothing for a new account.
	a.events = nil

	key, err := a.setVerificationKey(PurposeVerifyAccount, "")
	if err != nil {
		return nil, err
	}
	a.raise(EventAccountCreated, FieldVerificationKey, key)
	return a, nil
}

// UseEnv rebinds the clock and hasher, typically after loading from storage.
func (a *Account) UseEnv(env Env) {
	a.env = env
}

func invalidArgument(field, msg string) error {
	return oops.Code("ACCOUNT_INVALID_ARGUMENT").With("field", field).Errorf("%s", msg)
}

func (a *Account) touch() {
	a.lastUpdated = a.env.now()
}

func (a *Account) nowPtr() *time.Time {
	t := a.env.now()
	return &t
}

// ID returns the account's identifier.
func (a *Account) ID() ulid.ULID { return a.id }

// Tenant returns the tenant the account belongs to.
func (a *Account) Tenant() string { return a.tenant }

// Username returns the login name.
func (a *Account) Username() string { return a.username }

// Email returns the confirmed email address.
func (a *Account) Email() string { return a.email }

// MobilePhone returns the confirmed mobile number.
func (a *Account) MobilePhone() string { return a.mobilePhone }

// Created returns when the account was created.
func (a *Account) Created() time.Time { return a.created }

// LastUpdated returns when the account last changed.
func (a *Account) LastUpdated() time.Time { return a.lastUpdated }

// IsAccountVerified reports whether the owner proved control of the email.
func (a *Account) IsAccountVerified() bool { return a.isAccountVerified }

// IsLoginAllowed reports whether an administrator permits sign-in.
func (a *Account) IsLoginAllowed() bool { return a.isLoginAllowed }

// IsAccountClosed reports whether the account is closed.
func (a *Account) IsAccountClosed() bool { return a.isAccountClosed }

// AccountClosed returns when the account was closed, or nil.
func (a *Account) AccountClosed() *time.Time { return copyTime(a.accountClosed) }

// LastLogin returns the last successful sign-in, or nil.
func (a *Account) LastLogin() *time.Time { return copyTime(a.lastLogin) }

// LastFailedLogin returns the last counted failure, or nil.
func (a *Account) LastFailedLogin() *time.Time { return copyTime(a.lastFailedLogin) }

// FailedLoginCount returns the current failure streak.
func (a *Account) FailedLoginCount() int { return a.failedLoginCount }

// PasswordChanged returns when the password was last set.
func (a *Account) PasswordChanged() *time.Time { return copyTime(a.passwordChanged) }

// RequiresPasswordReset reports whether the next sign-in must change the password.
func (a *Account) RequiresPasswordReset() bool { return a.requiresPasswordReset }

// VerificationKey returns the outstanding verification key, or "".
func (a *Account) VerificationKey() string { return a.verificationKey }

// VerificationPurpose returns what the outstanding key is for.
func (a *Account) VerificationPurpose() VerificationPurpose { return a.verificationPurpose }

// VerificationKeySent returns when the outstanding key was issued, or nil.
func (a *Account) VerificationKeySent() *time.Time { return copyTime(a.verificationKeySent) }

// TwoFactorMode returns the configured second factor.
func (a *Account) TwoFactorMode() TwoFactorMode { return a.twoFactorMode }

// CurrentTwoFactorStatus returns the second factor awaiting completion, or
// TwoFactorNone.
func (a *Account) CurrentTwoFactorStatus() TwoFactorMode { return a.currentTwoFactorStatus }

// RequiresTwoFactorAuthToSignIn reports whether a second-factor challenge
// is outstanding.
func (a *Account) RequiresTwoFactorAuthToSignIn() bool {
	return a.currentTwoFactorStatus != TwoFactorNone
}

// HasTOTPSecret reports whether an authenticator app is enrolled.
func (a *Account) HasTOTPSecret() bool { return a.totpSecret != "" }

// Version returns the optimistic concurrency version.
func (a *Account) Version() int64 { return a.version }

// IsNew reports whether the account has never signed in.
func (a *Account) IsNew() bool { return a.lastLogin == nil }

// IsCurrentPassword reports whether password matches the stored hash.
// It does not touch failure counters; use Authenticate for sign-in.
func (a *Account) IsCurrentPassword(password string) bool {
	if password == "" || a.hashedPassword == "" {
		return false
	}
	return a.env.hasher().VerifyHashedPassword(a.hashedPassword, password)
}

// HasPasswordExpired reports whether the password is older than days.
// A non-positive days disables expiry.
func (a *Account) HasPasswordExpired(days int) bool {
	if days <= 0 || a.passwordChanged == nil {
		return false
	}
	return a.passwordChanged.Add(time.Duration(days) * 24 * time.Hour).Before(a.env.now())
}

// SetIsLoginAllowed sets the administrative sign-in flag.
func (a *Account) SetIsLoginAllowed(allowed bool) bool {
	if a.isAccountClosed {
		return false
	}
	a.isLoginAllowed = allowed
	a.touch()
	return true
}

// SetRequiresPasswordReset flags or clears a forced password change.
func (a *Account) SetRequiresPasswordReset(required bool) bool {
	if a.isAccountClosed {
		return false
	}
	a.requiresPasswordReset = required
	a.touch()
	return true
}

// ChangeUsername renames the account.
func (a *Account) ChangeUsername(newUsername string) bool {
	newUsername = strings.TrimSpace(newUsername)
	if a.isAccountClosed || newUsername == "" || newUsername == a.username {
		return false
	}
	old := a.username
	a.username = newUsername
	a.touch()
	a.raise(EventUsernameChanged, FieldOldUsername, old, FieldNewUsername, newUsername)
	return true
}

// RequestUsernameReminder raises a reminder for delivery to the verified email.
func (a *Account) RequestUsernameReminder() bool {
	if a.isAccountClosed || !a.isAccountVerified || a.email == "" {
		return false
	}
	a.raise(EventUsernameReminderRequested)
	return true
}

// CloseAccount closes the account. Closed is terminal.
func (a *Account) CloseAccount() bool {
	if a.isAccountClosed {
		return false
	}
	a.clearVerificationKey()
	a.isAccountClosed = true
	a.isLoginAllowed = false
	a.accountClosed = a.nowPtr()
	a.currentTwoFactorStatus = TwoFactorNone
	a.twoFactorTokens = nil
	a.touch()
	a.raise(EventAccountClosed)
	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
