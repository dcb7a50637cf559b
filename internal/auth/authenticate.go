// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/latchkey/latchkey/internal/account"
)

// dummyPassword is hashed once so lookups for unknown users cost the same
// as a real password check.
const dummyPassword = "latchkey-timing-equalizer"

func (s *AccountService) equalizeTiming(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.env.Hasher.HashPassword(dummyPassword)
		if err != nil {
			s.logger.Warn("timing equalizer hash failed", "error", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" && password != "" {
		s.env.Hasher.VerifyHashedPassword(s.dummyHash, password)
	}
}

// authenticate runs a password check on a resolved account and persists
// the outcome, successful or not. A successful check on an account with a
// second factor opens a challenge.
func (s *AccountService) authenticate(ctx context.Context, acct *account.Account, password string) (*account.Account, bool, error) {
	if acct == nil {
		s.equalizeTiming(password)
		return nil, false, nil
	}
	ok, err := acct.Authenticate(password,
		s.settings.AccountLockoutFailedLoginAttempts,
		s.settings.AccountLockoutDuration)
	if err != nil {
		return nil, false, err
	}
	if ok && acct.TwoFactorMode() != account.TwoFactorNone {
		if _, err := acct.BeginTwoFactorChallenge(); err != nil {
			return nil, false, err
		}
	}
	if err := s.save(ctx, acct); err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.DebugContext(ctx, "authentication failed",
			"account_id", acct.ID().String(),
			"failed_login_count", acct.FailedLoginCount())
		return nil, false, nil
	}
	return acct, true, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both report false.
func (s *AccountService) Authenticate(ctx context.Context, tenant, username, password string) (*account.Account, bool, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, false, nil
	}
	acct, err := s.GetByUsername(ctx, tenant, username)
	if err != nil {
		return nil, false, err
	}
	return s.authenticate(ctx, acct, password)
}

// AuthenticateWithEmail checks an email and password.
func (s *AccountService) AuthenticateWithEmail(ctx context.Context, tenant, email, password string) (*account.Account, bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, false, nil
	}
	acct, err := s.GetByEmail(ctx, tenant, email)
	if err != nil {
		return nil, false, err
	}
	return s.authenticate(ctx, acct, password)
}

// AuthenticateWithUsernameOrEmail treats input containing '@' as an email
// unless emails are usernames.
func (s *AccountService) AuthenticateWithUsernameOrEmail(ctx context.Context, tenant, usernameOrEmail, password string) (*account.Account, bool, error) {
	if !s.settings.EmailIsUsername && strings.Contains(usernameOrEmail, "@") {
		return s.AuthenticateWithEmail(ctx, tenant, usernameOrEmail, password)
	}
	return s.Authenticate(ctx, tenant, usernameOrEmail, password)
}

// AuthenticateWithCertificate signs in with a registered client
// certificate.
func (s *AccountService) AuthenticateWithCertificate(ctx context.Context, tenant, thumbprint string) (*account.Account, bool, error) {
	acct, err := s.GetByCertificate(ctx, tenant, thumbprint)
	if err != nil || acct == nil {
		return nil, false, err
	}
	ok, err := acct.AuthenticateWithCertificate(thumbprint,
		s.settings.AccountLockoutFailedLoginAttempts,
		s.settings.AccountLockoutDuration)
	if err != nil {
		return nil, false, err
	}
	if err := s.save(ctx, acct); err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return acct, true, nil
}

// AuthenticateWithCode completes an outstanding mobile or authenticator
// challenge. Wrong codes count toward the lockout, and a locked-out account
// is refused even the right code. Certificate challenges are completed with
// AuthenticateWithCertificate.
func (s *AccountService) AuthenticateWithCode(ctx context.Context, id ulid.ULID, code string) (bool, error) {
	acct, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	threshold := s.settings.AccountLockoutFailedLoginAttempts
	window := s.settings.AccountLockoutDuration
	var ok bool
	switch acct.CurrentTwoFactorStatus() {
	case account.TwoFactorMobile:
		ok, err = acct.VerifyTwoFactorCode(code, threshold, window)
	case account.TwoFactorTimeBasedToken:
		ok, err = acct.VerifyTOTPCode(code, threshold, window)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.save(ctx, acct); err != nil {
		return false, err
	}
	return ok, nil
}

// CompleteCertificateChallenge answers an outstanding certificate challenge
// for the account with id. The certificate must be registered to that
// account; anything else counts as a failure against it.
func (s *AccountService) CompleteCertificateChallenge(ctx context.Context, id ulid.ULID, thumbprint string) (bool, error) {
	acct, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if acct.CurrentTwoFactorStatus() != account.TwoFactorCertificate {
		return false, nil
	}
	ok, err := acct.AuthenticateWithCertificate(thumbprint,
		s.settings.AccountLockoutFailedLoginAttempts,
		s.settings.AccountLockoutDuration)
	if err != nil {
		return false, err
	}
	if err := s.save(ctx, acct); err != nil {
		return false, err
	}
	return ok, nil
}

// AuthenticateWithTwoFactorToken completes an outstanding challenge with a
// remembered-device token.
func (s *AccountService) AuthenticateWithTwoFactorToken(ctx context.Context, id ulid.ULID, token string) (bool, error) {
	acct, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if !acct.RequiresTwoFactorAuthToSignIn() || !acct.VerifyTwoFactorToken(token) {
		return false, nil
	}
	return true, s.save(ctx, acct)
}

// CreateTwoFactorToken remembers the current device and returns the token
// the client presents on later sign-ins.
func (s *AccountService) CreateTwoFactorToken(ctx context.Context, id ulid.ULID) (string, error) {
	var token string
	err := s.mutate(ctx, id, func(acct *account.Account) error {
		if acct.TwoFactorMode() == account.TwoFactorNone {
			return invalid("Two-factor authentication is not enabled.")
		}
		var err error
		token, err = acct.CreateTwoFactorToken()
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}
