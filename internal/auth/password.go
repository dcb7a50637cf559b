// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/latchkey/latchkey/internal/account"
)

// SetPassword replaces the password without checking the old one.
func (s *AccountService) SetPassword(ctx context.Context, id ulid.ULID, password string) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if password == "" {
			return invalid("Password is required.")
		}
		if err := s.policy.ValidatePassword(ctx, s, acct, password); err != nil {
			return err
		}
		return acct.SetPassword(password)
	})
}

// ChangePassword replaces the password after checking the old one. A wrong
// old password still counts as a failed sign-in.
func (s *AccountService) ChangePassword(ctx context.Context, id ulid.ULID, oldPassword, newPassword string) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case oldPassword == "":
		return invalid("Old password is required.")
	case newPassword == "":
		return invalid("New password is required.")
	}
	if err := s.policy.ValidatePassword(ctx, s, acct, newPassword); err != nil {
		return err
	}

	ok, err := acct.ChangePassword(oldPassword, newPassword,
		s.settings.AccountLockoutFailedLoginAttempts,
		s.settings.AccountLockoutDuration)
	if err != nil {
		return err
	}
	if err := s.save(ctx, acct); err != nil {
		return err
	}
	if !ok {
		return invalid("Invalid old password.")
	}
	return nil
}

// ResetPassword starts a reset for the account holding email. Unknown
// emails succeed silently. An unverified account is sent a new
// verification key instead, since its email is not yet trusted.
func (s *AccountService) ResetPassword(ctx context.Context, tenant, email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("Email is required.")
	}
	acct, err := s.GetByEmail(ctx, tenant, email)
	if err != nil {
		return err
	}
	if acct == nil || acct.IsAccountClosed() {
		s.logger.DebugContext(ctx, "password reset for unknown email")
		return nil
	}

	if !acct.IsAccountVerified() {
		if _, err := acct.RequestAccountVerification(); err != nil {
			return err
		}
		return s.save(ctx, acct)
	}
	if _, err := acct.ResetPassword(); err != nil {
		return err
	}
	return s.save(ctx, acct)
}

// ChangePasswordFromResetKey completes a reset. Unknown, stale, or
// mismatched keys report false.
func (s *AccountService) ChangePasswordFromResetKey(ctx context.Context, key, newPassword string) (bool, error) {
	acct, err := s.GetByVerificationKey(ctx, key)
	if err != nil || acct == nil {
		return false, err
	}
	if newPassword == "" {
		return false, invalid("Password is required.")
	}
	if err := s.policy.ValidatePassword(ctx, s, acct, newPassword); err != nil {
		return false, err
	}
	ok, err := acct.ChangePasswordFromResetKey(key, newPassword)
	if err != nil || !ok {
		return false, err
	}
	return true, s.save(ctx, acct)
}

// AddPasswordResetSecret stores a question and hashed answer.
func (s *AccountService) AddPasswordResetSecret(ctx context.Context, id ulid.ULID, question, answer string) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if strings.TrimSpace(question) == "" {
			return invalid("Question is required.")
		}
		if strings.TrimSpace(answer) == "" {
			return invalid("Answer is required.")
		}
		ok, err := acct.AddPasswordResetSecret(question, answer)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("That question has already been used.")
		}
		return nil
	})
}

// RemovePasswordResetSecret deletes a secret. Unknown IDs are ignored.
func (s *AccountService) RemovePasswordResetSecret(ctx context.Context, id, secretID ulid.ULID) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemovePasswordResetSecret(secretID.String()) {
		return nil
	}
	return s.save(ctx, acct)
}

// ResetPasswordFromSecrets issues a reset key when every answer matches.
// Wrong answers count as a failed sign-in.
func (s *AccountService) ResetPasswordFromSecrets(ctx context.Context, id ulid.ULID, answers []account.SecretAnswer) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		return invalid("Answers are required.")
	}
	ok, err := acct.ResetPasswordFromSecrets(answers)
	if err != nil {
		return err
	}
	if err := s.save(ctx, acct); err != nil {
		return err
	}
	if !ok {
		return invalid("Secret question answers are invalid.")
	}
	return nil
}
