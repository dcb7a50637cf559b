// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/latchkey/latchkey/internal/account"
)

// SendUsernameReminder sends the username to the account holding email.
// Unknown emails succeed silently.
func (s *AccountService) SendUsernameReminder(ctx context.Context, tenant, email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("Email is required.")
	}
	acct, err := s.GetByEmail(ctx, tenant, email)
	if err != nil || acct == nil {
		return err
	}
	if !acct.RequestUsernameReminder() {
		return nil
	}
	return s.publish(ctx, acct.PullEvents()...)
}

// ChangeUsername renames the account.
func (s *AccountService) ChangeUsername(ctx context.Context, id ulid.ULID, newUsername string) error {
	if s.settings.EmailIsUsername {
		return invalid("Username cannot be changed when the email address is the username.")
	}
	newUsername = strings.TrimSpace(newUsername)
	if newUsername == "" {
		return invalid("Username is required.")
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if newUsername == acct.Username() {
		return nil
	}
	if err := s.policy.ValidateUsername(ctx, s, acct, newUsername); err != nil {
		return err
	}
	if !acct.ChangeUsername(newUsername) {
		return invalid("Account is closed.")
	}
	return s.save(ctx, acct)
}

// ChangeEmailRequest sends a confirmation key to newEmail.
func (s *AccountService) ChangeEmailRequest(ctx context.Context, id ulid.ULID, newEmail string) error {
	newEmail = strings.TrimSpace(newEmail)
	if newEmail == "" {
		return invalid("Email is required.")
	}
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if strings.EqualFold(newEmail, acct.Email()) {
			return invalid("That is already the account's email address.")
		}
		if err := s.policy.ValidateEmail(ctx, s, acct, newEmail); err != nil {
			return err
		}
		ok, err := acct.ChangeEmailRequest(newEmail)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("Email can only be changed on a verified account.")
		}
		return nil
	})
}

// ChangeEmailFromKey confirms an email change. The password is checked
// first under the lockout policy; a wrong one counts as a failure, a right
// one is not recorded as a sign-in.
func (s *AccountService) ChangeEmailFromKey(ctx context.Context, id ulid.ULID, password, key, newEmail string) error {
	switch {
	case password == "":
		return invalid("Password is required.")
	case key == "":
		return invalid("Key is required.")
	case strings.TrimSpace(newEmail) == "":
		return invalid("Email is required.")
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	ok, err := acct.CheckPassword(password,
		s.settings.AccountLockoutFailedLoginAttempts,
		s.settings.AccountLockoutDuration)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		return invalid("Invalid password.")
	}

	// The address may have been claimed since the request.
	if err := s.policy.ValidateEmail(ctx, s, acct, newEmail); err != nil {
		return err
	}
	if !acct.ChangeEmailFromKey(key, newEmail) {
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		return invalid("Invalid key.")
	}
	if s.settings.EmailIsUsername {
		acct.ChangeUsername(acct.Email())
	}
	return s.save(ctx, acct)
}

// ChangeMobileRequest texts a confirmation code to phone.
func (s *AccountService) ChangeMobileRequest(ctx context.Context, id ulid.ULID, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return invalid("Mobile phone number is required.")
	}
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if phone == acct.MobilePhone() {
			return invalid("That is already the account's mobile phone number.")
		}
		ok, err := acct.ChangeMobileRequest(phone)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("Account is closed.")
		}
		return nil
	})
}

// ChangeMobileFromCode confirms a pending mobile change.
func (s *AccountService) ChangeMobileFromCode(ctx context.Context, id ulid.ULID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if !acct.ChangeMobileFromCode(code) {
		return false, nil
	}
	return true, s.save(ctx, acct)
}

// RemoveMobilePhone clears the mobile number. Mobile two-factor is turned
// off with it.
func (s *AccountService) RemoveMobilePhone(ctx context.Context, id ulid.ULID) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemoveMobilePhone() {
		return nil
	}
	return s.save(ctx, acct)
}
