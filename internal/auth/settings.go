// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/policy"
)

// SecuritySettings is the configuration surface of the account services.
type SecuritySettings struct {
	// MultiTenant enables caller-supplied tenants. When off, DefaultTenant
	// replaces whatever tenant a caller passes.
	MultiTenant   bool
	DefaultTenant string

	EmailIsUsername              bool
	UsernamesUniqueAcrossTenants bool

	RequireAccountVerification     bool
	AllowLoginAfterAccountCreation bool

	AccountLockoutFailedLoginAttempts int
	AccountLockoutDuration            time.Duration

	// AllowAccountDeletion lets DeleteAccount remove verified accounts.
	// Unverified accounts are always removed.
	AllowAccountDeletion bool

	// PasswordHashingIterationCount overrides the year-based PBKDF2 cost
	// when positive.
	PasswordHashingIterationCount int
	// PasswordResetFrequency is the password lifetime in days. Zero
	// disables expiry.
	PasswordResetFrequency int

	// Policy tunes the username, email, and password rules. The tenancy
	// and email-as-username fields above take precedence over the
	// matching fields here.
	Policy policy.Settings
}

// DefaultSecuritySettings returns settings for a single-tenant deployment
// that requires email verification.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		DefaultTenant:                     "default",
		RequireAccountVerification:        true,
		AllowLoginAfterAccountCreation:    true,
		AccountLockoutFailedLoginAttempts: 10,
		AccountLockoutDuration:            5 * time.Minute,
		AllowAccountDeletion:              true,
		Policy:                            policy.DefaultSettings(),
	}
}

// Validate rejects settings no service can run with.
func (s SecuritySettings) Validate() error {
	switch {
	case strings.TrimSpace(s.DefaultTenant) == "":
		return oops.Code("SETTINGS_INVALID").With("field", "default_tenant").Errorf("default tenant is required")
	case s.AccountLockoutFailedLoginAttempts <= 0:
		return oops.Code("SETTINGS_INVALID").
			With("field", "account_lockout_failed_login_attempts").
			Errorf("lockout threshold must be positive, got %d", s.AccountLockoutFailedLoginAttempts)
	case s.AccountLockoutDuration < 0:
		return oops.Code("SETTINGS_INVALID").
			With("field", "account_lockout_duration").
			Errorf("lockout duration must not be negative")
	case s.PasswordHashingIterationCount < 0:
		return oops.Code("SETTINGS_INVALID").
			With("field", "password_hashing_iteration_count").
			Errorf("iteration count must not be negative")
	case s.PasswordResetFrequency < 0:
		return oops.Code("SETTINGS_INVALID").
			With("field", "password_reset_frequency").
			Errorf("password reset frequency must not be negative")
	}
	return nil
}

// policySettings merges the top-level switches into the policy settings.
func (s SecuritySettings) policySettings() policy.Settings {
	p := s.Policy
	p.EmailIsUsername = s.EmailIsUsername
	p.UniqueAcrossTenants = s.UsernamesUniqueAcrossTenants
	return p
}
