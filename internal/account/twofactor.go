// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"strings"
	"time"

	"github.com/latchkey/latchkey/internal/secret"
)

func (a *Account) setTwoFactorMode(mode TwoFactorMode) {
	a.twoFactorMode = mode
	a.currentTwoFactorStatus = TwoFactorNone
	a.twoFactorTokens = nil
	a.clearMobileCode()
	a.touch()
	if mode == TwoFactorNone {
		a.raise(EventTwoFactorDisabled)
		return
	}
	a.raise(EventTwoFactorEnabled, FieldMode, mode.String())
}

// ConfigureTwoFactor selects the second factor. Mobile needs a confirmed
// number, Certificate needs at least one certificate, and TimeBasedToken
// needs an enrolled authenticator (see EnrollTOTP).
func (a *Account) ConfigureTwoFactor(mode TwoFactorMode) bool {
	if a.isAccountClosed {
		return false
	}
	switch mode {
	case TwoFactorNone:
	case TwoFactorMobile:
		if a.mobilePhone == "" {
			return false
		}
	case TwoFactorCertificate:
		if len(a.certificates) == 0 {
			return false
		}
	case TwoFactorTimeBasedToken:
		if a.totpSecret == "" {
			return false
		}
	default:
		return false
	}
	if mode == a.twoFactorMode {
		return true
	}
	a.setTwoFactorMode(mode)
	return true
}

// EnrollTOTP stores an authenticator secret after the user proves it works
// with a current code, and switches two-factor to TimeBasedToken.
func (a *Account) EnrollTOTP(totpSecret, code string) bool {
	totpSecret = strings.TrimSpace(totpSecret)
	if a.isAccountClosed || totpSecret == "" {
		return false
	}
	step, ok := secret.MatchTOTP(totpSecret, code, a.env.now(), -1)
	if !ok {
		return false
	}
	a.totpSecret = totpSecret
	a.totpLastStep = step
	a.setTwoFactorMode(TwoFactorTimeBasedToken)
	return true
}

// RemoveTOTP drops the authenticator secret, disabling TOTP two-factor.
func (a *Account) RemoveTOTP() bool {
	if a.isAccountClosed || a.totpSecret == "" {
		return false
	}
	a.totpSecret = ""
	a.totpLastStep = 0
	if a.twoFactorMode == TwoFactorTimeBasedToken {
		a.setTwoFactorMode(TwoFactorNone)
	}
	a.touch()
	return true
}

// BeginTwoFactorChallenge opens a second-factor challenge after a password
// sign-in. For mobile, a code is texted unless one was sent within
// MobileCodeResendDelay. It reports false when no second factor is configured.
func (a *Account) BeginTwoFactorChallenge() (bool, error) {
	if a.isAccountClosed || a.twoFactorMode == TwoFactorNone {
		return false, nil
	}
	if a.twoFactorMode == TwoFactorMobile && a.CanResendMobileCode() {
		code, err := a.issueMobileCode()
		if err != nil {
			return false, err
		}
		a.raise(EventTwoFactorCodeIssued, FieldMobilePhone, a.mobilePhone, FieldCode, code)
	}
	a.currentTwoFactorStatus = a.twoFactorMode
	a.touch()
	return true, nil
}

func checkThreshold(threshold int) error {
	if threshold <= 0 {
		return invalidArgument("failed_login_count", "failed login count must be positive")
	}
	return nil
}

// VerifyTwoFactorCode completes a mobile challenge. Codes are refused while
// the account is locked out, and wrong codes count toward the lockout.
func (a *Account) VerifyTwoFactorCode(code string, threshold int, lockout time.Duration) (bool, error) {
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	if a.isAccountClosed || a.currentTwoFactorStatus != TwoFactorMobile {
		return false, nil
	}
	if a.rejectLockedOut(threshold, lockout) {
		return false, nil
	}
	if !a.mobileCodeMatches(code) {
		a.recordFailure(ReasonInvalidTwoFactorCode)
		return false, nil
	}
	a.clearMobileCode()
	a.currentTwoFactorStatus = TwoFactorNone
	a.recordSuccess("mobile_code")
	return true, nil
}

// VerifyTOTPCode completes an authenticator challenge under the lockout
// policy. A code for a time step that was already accepted is refused.
func (a *Account) VerifyTOTPCode(code string, threshold int, lockout time.Duration) (bool, error) {
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	if a.isAccountClosed || a.currentTwoFactorStatus != TwoFactorTimeBasedToken {
		return false, nil
	}
	if a.rejectLockedOut(threshold, lockout) {
		return false, nil
	}
	step, ok := secret.MatchTOTP(a.totpSecret, code, a.env.now(), a.totpLastStep)
	if !ok {
		a.recordFailure(ReasonInvalidTwoFactorCode)
		return false, nil
	}
	a.totpLastStep = step
	a.currentTwoFactorStatus = TwoFactorNone
	a.recordSuccess("totp")
	return true, nil
}

// AuthenticateWithCertificate signs in with a registered client certificate
// under the lockout policy. It also completes an outstanding certificate
// challenge.
func (a *Account) AuthenticateWithCertificate(thumbprint string, threshold int, lockout time.Duration) (bool, error) {
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	if thumbprint == "" || a.isAccountClosed {
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
	if !a.HasCertificate(thumbprint) {
		a.recordFailure(ReasonInvalidCertificate)
		return false, nil
	}
	if a.currentTwoFactorStatus == TwoFactorCertificate {
		a.currentTwoFactorStatus = TwoFactorNone
	}
	a.recordSuccess("certificate")
	return true, nil
}

// CreateTwoFactorToken remembers the current device for
// TwoFactorTokenLifetime and returns the raw token to hand to the client.
func (a *Account) CreateTwoFactorToken() (string, error) {
	if a.isAccountClosed {
		return "", ErrClosed
	}
	token, err := secret.GenerateKey()
	if err != nil {
		return "", err
	}
	a.pruneTwoFactorTokens()
	a.twoFactorTokens = append(a.twoFactorTokens, TwoFactorToken{
		TokenHash: secret.Hash(token),
		Issued:    a.env.now(),
	})
	a.touch()
	return token, nil
}

// VerifyTwoFactorToken reports whether token is a live remembered-device
// token. A match clears any outstanding challenge.
func (a *Account) VerifyTwoFactorToken(token string) bool {
	if token == "" || a.isAccountClosed {
		return false
	}
	a.pruneTwoFactorTokens()
	hashed := secret.Hash(token)
	for _, t := range a.twoFactorTokens {
		if secret.SlowEquals(hashed, t.TokenHash) {
			a.currentTwoFactorStatus = TwoFactorNone
			return true
		}
	}
	return false
}

// TwoFactorTokens returns the live remembered-device tokens.
func (a *Account) TwoFactorTokens() []TwoFactorToken {
	out := make([]TwoFactorToken, len(a.twoFactorTokens))
	copy(out, a.twoFactorTokens)
	return out
}

// ClearTwoFactorTokens forgets every remembered device.
func (a *Account) ClearTwoFactorTokens() {
	if len(a.twoFactorTokens) == 0 {
		return
	}
	a.twoFactorTokens = nil
	a.touch()
}

func (a *Account) pruneTwoFactorTokens() {
	cutoff := a.env.now().Add(-TwoFactorTokenLifetime)
	live := a.twoFactorTokens[:0]
	for _, t := range a.twoFactorTokens {
		if t.Issued.After(cutoff) {
			live = append(live, t)
		}
	}
	a.twoFactorTokens = live
}
