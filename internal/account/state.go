// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the persisted form of an Account.
type State struct {
	ID       ulid.ULID
	Tenant   string
	Username string
	Email    string

	MobilePhone        string
	MobilePhoneChanged *time.Time

	Created     time.Time
	LastUpdated time.Time

	IsAccountVerified bool
	IsLoginAllowed    bool
	IsAccountClosed   bool
	AccountClosed     *time.Time

	LastLogin        *time.Time
	LastFailedLogin  *time.Time
	FailedLoginCount int

	HashedPassword        string
	PasswordChanged       *time.Time
	RequiresPasswordReset bool

	VerificationKey     string
	VerificationPurpose VerificationPurpose
	VerificationKeySent *time.Time
	VerificationStorage string

	MobileCode     string
	MobileCodeSent *time.Time

	TwoFactorMode          TwoFactorMode
	CurrentTwoFactorStatus TwoFactorMode
	TOTPSecret             string
	TOTPLastStep           int64

	Claims          []Claim
	LinkedAccounts  []LinkedAccount
	Certificates    []Certificate
	TwoFactorTokens []TwoFactorToken
	ResetSecrets    []PasswordResetSecret

	Version int64
}

// Snapshot returns a deep copy of the account's persisted fields.
// Pending events are not part of the snapshot.
func (a *Account) Snapshot() State {
	return State{
		ID:                     a.id,
		Tenant:                 a.tenant,
		Username:               a.username,
		Email:                  a.email,
		MobilePhone:            a.mobilePhone,
		MobilePhoneChanged:     copyTime(a.mobilePhoneChanged),
		Created:                a.created,
		LastUpdated:            a.lastUpdated,
		IsAccountVerified:      a.isAccountVerified,
		IsLoginAllowed:         a.isLoginAllowed,
		IsAccountClosed:        a.isAccountClosed,
		AccountClosed:          copyTime(a.accountClosed),
		LastLogin:              copyTime(a.lastLogin),
		LastFailedLogin:        copyTime(a.lastFailedLogin),
		FailedLoginCount:       a.failedLoginCount,
		HashedPassword:         a.hashedPassword,
		PasswordChanged:        copyTime(a.passwordChanged),
		RequiresPasswordReset:  a.requiresPasswordReset,
		VerificationKey:        a.verificationKey,
		VerificationPurpose:    a.verificationPurpose,
		VerificationKeySent:    copyTime(a.verificationKeySent),
		VerificationStorage:    a.verificationStorage,
		MobileCode:             a.mobileCode,
		MobileCodeSent:         copyTime(a.mobileCodeSent),
		TwoFactorMode:          a.twoFactorMode,
		CurrentTwoFactorStatus: a.currentTwoFactorStatus,
		TOTPSecret:             a.totpSecret,
		TOTPLastStep:           a.totpLastStep,
		Claims:                 append([]Claim(nil), a.claims...),
		LinkedAccounts:         a.LinkedAccounts(),
		Certificates:           append([]Certificate(nil), a.certificates...),
		TwoFactorTokens:        append([]TwoFactorToken(nil), a.twoFactorTokens...),
		ResetSecrets:           append([]PasswordResetSecret(nil), a.resetSecrets...),
		Version:                a.version,
	}
}

// Restore rebuilds an Account from persisted state, bound to SystemEnv.
// Call UseEnv to substitute the clock or hasher.
func Restore(s State) *Account {
	a := &Account{
		id:                     s.ID,
		tenant:                 s.Tenant,
		username:               s.Username,
		email:                  s.Email,
		mobilePhone:            s.MobilePhone,
		mobilePhoneChanged:     copyTime(s.MobilePhoneChanged),
		created:                s.Created,
		lastUpdated:            s.LastUpdated,
		isAccountVerified:      s.IsAccountVerified,
		isLoginAllowed:         s.IsLoginAllowed,
		isAccountClosed:        s.IsAccountClosed,
		accountClosed:          copyTime(s.AccountClosed),
		lastLogin:              copyTime(s.LastLogin),
		lastFailedLogin:        copyTime(s.LastFailedLogin),
		failedLoginCount:       s.FailedLoginCount,
		hashedPassword:         s.HashedPassword,
		passwordChanged:        copyTime(s.PasswordChanged),
		requiresPasswordReset:  s.RequiresPasswordReset,
		verificationKey:        s.VerificationKey,
		verificationPurpose:    s.VerificationPurpose,
		verificationKeySent:    copyTime(s.VerificationKeySent),
		verificationStorage:    s.VerificationStorage,
		mobileCode:             s.MobileCode,
		mobileCodeSent:         copyTime(s.MobileCodeSent),
		twoFactorMode:          s.TwoFactorMode,
		currentTwoFactorStatus: s.CurrentTwoFactorStatus,
		totpSecret:             s.TOTPSecret,
		totpLastStep:           s.TOTPLastStep,
		claims:                 append([]Claim(nil), s.Claims...),
		certificates:           append([]Certificate(nil), s.Certificates...),
		twoFactorTokens:        append([]TwoFactorToken(nil), s.TwoFactorTokens...),
		resetSecrets:           append([]PasswordResetSecret(nil), s.ResetSecrets...),
		version:                s.Version,
		env:                    SystemEnv(),
	}
	for _, la := range s.LinkedAccounts {
		la.Claims = append([]Claim(nil), la.Claims...)
		a.linkedAccounts = append(a.linkedAccounts, la)
	}
	return a
}

// SetVersion records the version assigned by storage after a write.
func (a *Account) SetVersion(v int64) {
	a.version = v
}
