// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package policy

import (
	"context"

	"github.com/latchkey/latchkey/internal/account"
)

// Settings selects and tunes the built-in rules.
type Settings struct {
	EmailIsUsername     bool
	UniqueAcrossTenants bool
	// UsernamePunctuation lists the non-alphanumeric runes allowed inside a
	// username. Ignored when EmailIsUsername is set.
	UsernamePunctuation string
	ReservedUsernames   []string
	MinPasswordLength   int
	// MinPasswordScore is the lowest acceptable zxcvbn score (0-4). Zero
	// disables the strength check.
	MinPasswordScore int
}

// DefaultSettings returns the rules applied when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		UsernamePunctuation: "._-",
		ReservedUsernames:   []string{"admin", "administrator", "root", "system", "latchkey*"},
		MinPasswordLength:   8,
		MinPasswordScore:    2,
	}
}

// Policy holds one chain per validated field. Built-ins come first; custom
// validators are appended after them.
type Policy struct {
	username Chain
	email    Chain
	password Chain
}

// New builds a Policy from s.
func New(s Settings) (*Policy, error) {
	p := &Policy{}

	if !s.EmailIsUsername {
		p.username = append(p.username, UsernameNoAtSign())
		if s.UsernamePunctuation != "" {
			p.username = append(p.username, UsernameCharacters(s.UsernamePunctuation))
		}
	}
	if len(s.ReservedUsernames) > 0 {
		reserved, err := UsernameNotReserved(s.ReservedUsernames...)
		if err != nil {
			return nil, err
		}
		p.username = append(p.username, reserved)
	}
	p.username = append(p.username, UsernameUnique(s.UniqueAcrossTenants))

	p.email = Chain{EmailFormat(), EmailUnique(s.UniqueAcrossTenants)}

	if s.MinPasswordLength > 0 {
		p.password = append(p.password, PasswordMinLength(s.MinPasswordLength))
	}
	if s.MinPasswordScore > 0 {
		p.password = append(p.password, PasswordStrength(s.MinPasswordScore))
	}
	p.password = append(p.password, PasswordDiffersFromCurrent())

	return p, nil
}

// AddUsernameValidators appends custom username rules.
func (p *Policy) AddUsernameValidators(v ...Validator) { p.username = append(p.username, v...) }

// AddEmailValidators appends custom email rules.
func (p *Policy) AddEmailValidators(v ...Validator) { p.email = append(p.email, v...) }

// AddPasswordValidators appends custom password rules.
func (p *Policy) AddPasswordValidators(v ...Validator) { p.password = append(p.password, v...) }

// ValidateUsername runs the username chain.
func (p *Policy) ValidateUsername(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
	return p.username.Validate(ctx, lookup, acct, value)
}

// ValidateEmail runs the email chain.
func (p *Policy) ValidateEmail(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
	return p.email.Validate(ctx, lookup, acct, value)
}

// ValidatePassword runs the password chain.
func (p *Policy) ValidatePassword(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
	return p.password.Validate(ctx, lookup, acct, value)
}
