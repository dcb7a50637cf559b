// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Timing policy for keys, codes, and remembered devices.
const (
	// VerificationKeyStaleDuration is how long an unconsumed verification key
	// stays usable.
	VerificationKeyStaleDuration = 20 * time.Minute

	// MobileCodeStaleDuration is how long a texted code stays usable.
	MobileCodeStaleDuration = 20 * time.Minute

	// MobileCodeResendDelay is the minimum gap before a new code is texted.
	MobileCodeResendDelay = time.Minute

	// TwoFactorTokenLifetime is how long a remembered device skips the
	// second factor.
	TwoFactorTokenLifetime = 30 * 24 * time.Hour

	// MobileCodeDigits is the length of texted codes.
	MobileCodeDigits = 6
)

// VerificationPurpose tags what an outstanding verification key may be used for.
type VerificationPurpose int

// Verification purposes. PurposeNone means no key is outstanding.
const (
	PurposeNone VerificationPurpose = iota
	PurposeVerifyAccount
	PurposeChangePassword
	PurposeChangeEmail
	PurposeChangeMobile
)

func (p VerificationPurpose) String() string {
	switch p {
	case PurposeNone:
		return "none"
	case PurposeVerifyAccount:
		return "verify_account"
	case PurposeChangePassword:
		return "change_password"
	case PurposeChangeEmail:
		return "change_email"
	case PurposeChangeMobile:
		return "change_mobile"
	default:
		return "unknown"
	}
}

// TwoFactorMode is the second factor an account is configured to use.
type TwoFactorMode int

// Two-factor modes.
const (
	TwoFactorNone TwoFactorMode = iota
	TwoFactorMobile
	TwoFactorCertificate
	TwoFactorTimeBasedToken
)

func (m TwoFactorMode) String() string {
	switch m {
	case TwoFactorNone:
		return "none"
	case TwoFactorMobile:
		return "mobile"
	case TwoFactorCertificate:
		return "certificate"
	case TwoFactorTimeBasedToken:
		return "totp"
	default:
		return "unknown"
	}
}

// ParseTwoFactorMode parses the String form of a TwoFactorMode.
func ParseTwoFactorMode(s string) (TwoFactorMode, bool) {
	for _, m := range []TwoFactorMode{TwoFactorNone, TwoFactorMobile, TwoFactorCertificate, TwoFactorTimeBasedToken} {
		if strings.EqualFold(s, m.String()) {
			return m, true
		}
	}
	return TwoFactorNone, false
}

// Claim is a type/value pair attached to an account.
type Claim struct {
	Type  string
	Value string
}

// LinkedAccount associates an external identity provider account.
type LinkedAccount struct {
	ProviderName      string
	ProviderAccountID string
	LastLogin         time.Time
	Claims            []Claim
}

// Certificate is a client certificate registered for sign-in.
type Certificate struct {
	Thumbprint string
	Subject    string
}

// TwoFactorToken is a remembered-device token. Only its hash is kept.
type TwoFactorToken struct {
	TokenHash string
	Issued    time.Time
}

// PasswordResetSecret is a security question with a hashed answer.
type PasswordResetSecret struct {
	ID         ulid.ULID
	Question   string
	AnswerHash string
}

// SecretAnswer is a caller-supplied answer to a PasswordResetSecret.
type SecretAnswer struct {
	SecretID ulid.ULID
	Answer   string
}
