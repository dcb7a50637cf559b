// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/secret"
)

// SetPassword hashes and stores password, clearing any forced reset and
// forgetting remembered devices.
func (a *Account) SetPassword(password string) error {
	if a.isAccountClosed {
		return oops.Code("ACCOUNT_CLOSED").With("account_id", a.id.String()).Wrap(ErrClosed)
	}
	if password == "" {
		return invalidArgument("password", "password is required")
	}
	hashed, err := a.env.hasher().HashPassword(password)
	if err != nil {
		return oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	a.hashedPassword = hashed
	a.passwordChanged = a.nowPtr()
	a.requiresPasswordReset = false
	a.twoFactorTokens = nil
	a.touch()
	a.raise(EventPasswordChanged)
	return nil
}

// HasTooManyRecentPasswordFailures reports whether the failure streak has
// reached threshold and the last failure falls inside window.
func (a *Account) HasTooManyRecentPasswordFailures(threshold int, window time.Duration) (bool, error) {
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	return a.lockedOut(threshold, window), nil
}

func (a *Account) lockedOut(threshold int, window time.Duration) bool {
	if a.failedLoginCount < threshold || a.lastFailedLogin == nil {
		return false
	}
	return !a.lastFailedLogin.Before(a.env.now().Add(-window))
}

// rejectLockedOut fails an attempt made while the account is locked out.
// The streak grows but the lockout window is not extended.
func (a *Account) rejectLockedOut(threshold int, window time.Duration) bool {
	if !a.lockedOut(threshold, window) {
		return false
	}
	a.failedLoginCount++
	a.touch()
	a.raise(EventAccountLocked, FieldReason, ReasonTooManyFailures)
	a.raise(EventFailedLogin, FieldReason, ReasonTooManyFailures)
	return true
}

// Authenticate checks password under the lockout policy. Failures are
// counted and reported as false; the error is reserved for a non-positive
// threshold.
func (a *Account) Authenticate(password string, threshold int, lockout time.Duration) (bool, error) {
	return a.authenticate(password, threshold, lockout, true)
}

// CheckPassword confirms password before a sensitive change. It applies
// the same lockout policy as Authenticate but is not a sign-in: last login
// is left alone and no successful-login event is raised.
func (a *Account) CheckPassword(password string, threshold int, lockout time.Duration) (bool, error) {
	return a.authenticate(password, threshold, lockout, false)
}

func (a *Account) authenticate(password string, threshold int, lockout time.Duration, signIn bool) (bool, error) {
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	if password == "" || a.isAccountClosed {
		return false, nil
	}
	if !a.isAccountVerified {
		a.raise(EventFailedLogin, FieldReason, ReasonNotVerified)
		return false, nil
	}
	if !a.isLoginAllowed {
		a.raise(EventFailedLogin, FieldReason, ReasonLoginNotAllowed)
		return false, nil
	}
	if a.rejectLockedOut(threshold, lockout) {
		return false, nil
	}
	if !a.IsCurrentPassword(password) {
		a.recordFailure(ReasonInvalidPassword)
		return false, nil
	}

	a.failedLoginCount = 0
	a.upgradeHash(password)
	if signIn {
		a.lastLogin = a.nowPtr()
		a.raise(EventSuccessfulLogin, FieldMethod, "password")
	}
	a.touch()
	return true, nil
}

// upgradeHash rehashes a verified password stored under an older iteration
// count. Failures keep the old hash.
func (a *Account) upgradeHash(password string) {
	h := a.env.hasher()
	rh, ok := h.(Rehasher)
	if !ok || !rh.NeedsRehash(a.hashedPassword) {
		return
	}
	if hashed, err := h.HashPassword(password); err == nil {
		a.hashedPassword = hashed
	}
}

func (a *Account) recordFailure(reason string) {
	if a.failedLoginCount <= 0 {
		a.failedLoginCount = 1
	} else {
		a.failedLoginCount++
	}
	a.lastFailedLogin = a.nowPtr()
	a.touch()
	a.raise(EventFailedLogin, FieldReason, reason)
}

func (a *Account) recordSuccess(method string) {
	a.failedLoginCount = 0
	a.lastLogin = a.nowPtr()
	a.touch()
	a.raise(EventSuccessfulLogin, FieldMethod, method)
}

// ChangePassword replaces the password after authenticating with the old
// one. It fails when the new password equals the old.
func (a *Account) ChangePassword(oldPassword, newPassword string, threshold int, lockout time.Duration) (bool, error) {
	ok, err := a.CheckPassword(oldPassword, threshold, lockout)
	if err != nil || !ok {
		return false, err
	}
	if oldPassword == newPassword {
		return false, nil
	}
	if err := a.SetPassword(newPassword); err != nil {
		return false, err
	}
	return true, nil
}

// IsVerificationKeyStale reports whether the outstanding key is older than
// VerificationKeyStaleDuration. A key issued exactly at the window edge is
// still fresh.
func (a *Account) IsVerificationKeyStale() bool {
	if a.verificationKeySent == nil {
		return true
	}
	return a.verificationKeySent.Before(a.env.now().Add(-VerificationKeyStaleDuration))
}

// ResetPassword issues a ChangePassword key and raises a reset request.
// A fresh ChangePassword key already outstanding is reused.
func (a *Account) ResetPassword() (bool, error) {
	if a.isAccountClosed || !a.isAccountVerified {
		return false, nil
	}
	key := a.verificationKey
	if a.verificationPurpose != PurposeChangePassword || a.IsVerificationKeyStale() {
		var err error
		if key, err = a.setVerificationKey(PurposeChangePassword, ""); err != nil {
			return false, err
		}
	}
	a.raise(EventPasswordResetRequested, FieldVerificationKey, key)
	return true, nil
}

// ChangePasswordFromResetKey consumes a ChangePassword key and sets the new
// password.
func (a *Account) ChangePasswordFromResetKey(key, newPassword string) (bool, error) {
	if !a.keyMatches(key, PurposeChangePassword) {
		return false, nil
	}
	if err := a.SetPassword(newPassword); err != nil {
		return false, err
	}
	a.clearVerificationKey()
	return true, nil
}

// keyMatches applies the shared key discipline: verified account, fresh
// key, right purpose, constant-time match.
func (a *Account) keyMatches(key string, purpose VerificationPurpose) bool {
	if key == "" || a.isAccountClosed || !a.isAccountVerified {
		return false
	}
	if a.verificationPurpose != purpose || a.IsVerificationKeyStale() {
		return false
	}
	return secret.SlowEquals(key, a.verificationKey)
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// PasswordResetSecrets returns the registered security questions. Answer
// hashes are included; callers presenting them to users should show only
// ID and Question.
func (a *Account) PasswordResetSecrets() []PasswordResetSecret {
	out := make([]PasswordResetSecret, len(a.resetSecrets))
	copy(out, a.resetSecrets)
	return out
}

// AddPasswordResetSecret registers a security question. Questions are
// unique per account, compared case-insensitively.
func (a *Account) AddPasswordResetSecret(question, answer string) (bool, error) {
	question = strings.TrimSpace(question)
	if a.isAccountClosed || question == "" || normalizeAnswer(answer) == "" {
		return false, nil
	}
	for _, s := range a.resetSecrets {
		if strings.EqualFold(s.Question, question) {
			return false, nil
		}
	}
	hashed, err := a.env.hasher().HashPassword(normalizeAnswer(answer))
	if err != nil {
		return false, oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	a.resetSecrets = append(a.resetSecrets, PasswordResetSecret{
		ID:         ulid.Make(),
		Question:   question,
		AnswerHash: hashed,
	})
	a.touch()
	a.raise(EventPasswordResetSecretAdded, FieldQuestion, question)
	return true, nil
}

// RemovePasswordResetSecret removes a security question by ID.
func (a *Account) RemovePasswordResetSecret(id string) bool {
	if a.isAccountClosed {
		return false
	}
	for i, s := range a.resetSecrets {
		if s.ID.String() == id {
			a.resetSecrets = append(a.resetSecrets[:i], a.resetSecrets[i+1:]...)
			a.touch()
			a.raise(EventPasswordResetSecretRemoved, FieldQuestion, s.Question)
			return true
		}
	}
	return false
}

// ResetPasswordFromSecrets checks answers to every registered question and,
// when all match, behaves as ResetPassword. Wrong answers count as a failed
// login.
func (a *Account) ResetPasswordFromSecrets(answers []SecretAnswer) (bool, error) {
	if a.isAccountClosed || !a.isAccountVerified || len(a.resetSecrets) == 0 {
		return false, nil
	}
	given := make(map[string]string, len(answers))
	for _, ans := range answers {
		given[ans.SecretID.String()] = ans.Answer
	}
	hasher := a.env.hasher()
	for _, s := range a.resetSecrets {
		ans, ok := given[s.ID.String()]
		if !ok || !hasher.VerifyHashedPassword(s.AnswerHash, normalizeAnswer(ans)) {
			a.recordFailure(ReasonInvalidPassword)
			a.raise(EventPasswordResetSecretsFailed)
			return false, nil
		}
	}
	return a.ResetPassword()
}
