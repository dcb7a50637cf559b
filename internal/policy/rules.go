// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gobwas/glob"
	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+'-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func scope(acct *account.Account, acrossTenants bool) string {
	if acrossTenants {
		return ""
	}
	return acct.Tenant()
}

// UsernameNoAtSign rejects usernames containing '@'. It applies when emails
// are not used as usernames, so the two namespaces cannot be confused.
func UsernameNoAtSign() Validator {
	return ValidatorFunc(func(_ context.Context, _ Lookup, _ *account.Account, value string) error {
		if strings.Contains(value, "@") {
			return Fail("Username cannot contain the '@' character.")
		}
		return nil
	})
}

// UsernameCharacters allows letters, digits, and the punctuation in extra.
// Usernames must also start and end with a letter or digit.
func UsernameCharacters(extra string) Validator {
	return ValidatorFunc(func(_ context.Context, _ Lookup, _ *account.Account, value string) error {
		for _, r := range value {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune(extra, r) {
				return Fail("Username contains invalid characters.")
			}
		}
		first, _ := utf8.DecodeRuneInString(value)
		last, _ := utf8.DecodeLastRuneInString(value)
		for _, r := range []rune{first, last} {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return Fail("Username must start and end with a letter or digit.")
			}
		}
		return nil
	})
}

// UsernameUnique rejects usernames already held by another account.
func UsernameUnique(acrossTenants bool) Validator {
	return ValidatorFunc(func(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
		exists, err := lookup.UsernameExists(ctx, scope(acct, acrossTenants), value)
		if err != nil {
			return oops.Code("POLICY_LOOKUP_FAILED").With("check", "username").Wrap(err)
		}
		if exists {
			return Fail("Username already in use.")
		}
		return nil
	})
}

// UsernameNotReserved rejects usernames matching any of the glob patterns,
// compared case-insensitively.
func UsernameNotReserved(patterns ...string) (Validator, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			return nil, oops.Code("POLICY_INVALID_PATTERN").Errorf("empty reserved username pattern")
		}
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, oops.Code("POLICY_INVALID_PATTERN").With("pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}
	return ValidatorFunc(func(_ context.Context, _ Lookup, _ *account.Account, value string) error {
		lower := strings.ToLower(value)
		for _, g := range globs {
			if g.Match(lower) {
				return Fail("Username is reserved.")
			}
		}
		return nil
	}), nil
}

// EmailFormat rejects values that do not look like an email address.
func EmailFormat() Validator {
	return ValidatorFunc(func(_ context.Context, _ Lookup, _ *account.Account, value string) error {
		if !emailPattern.MatchString(value) {
			return Fail("Email is invalid.")
		}
		return nil
	})
}

// EmailUnique rejects emails already held by another account.
func EmailUnique(acrossTenants bool) Validator {
	return ValidatorFunc(func(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
		exists, err := lookup.EmailExists(ctx, scope(acct, acrossTenants), value)
		if err != nil {
			return oops.Code("POLICY_LOOKUP_FAILED").With("check", "email").Wrap(err)
		}
		if exists {
			return Fail("Email already in use.")
		}
		return nil
	})
}

// PasswordMinLength rejects passwords shorter than n characters.
func PasswordMinLength(n int) Validator {
	return ValidatorFunc(func(_ context.Context, _ Lookup, _ *account.Account, value string) error {
		if utf8.RuneCountInString(value) < n {
			return Fail(fmt.Sprintf("Password must be at least %d characters long.", n))
		}
		return nil
	})
}

// PasswordStrength rejects passwords whose zxcvbn score is below minScore.
// The account's username and email count as guessable input.
func PasswordStrength(minScore int) Validator {
	if minScore > 4 {
		minScore = 4
	}
	return ValidatorFunc(func(_ context.Context, _ Lookup, acct *account.Account, value string) error {
		if minScore <= 0 {
			return nil
		}
		inputs := []string{acct.Username()}
		if acct.Email() != "" {
			inputs = append(inputs, acct.Email())
		}
		if zxcvbn.PasswordStrength(value, inputs).Score < minScore {
			return Fail("Password is too weak; choose a more complex value.")
		}
		return nil
	})
}

// PasswordDiffersFromCurrent rejects reusing the current password. Accounts
// that have never signed in are exempt so their initial password is not
// compared against itself.
func PasswordDiffersFromCurrent() Validator {
	return ValidatorFunc(func(_ context.Context, _ Lookup, acct *account.Account, value string) error {
		if acct.IsNew() {
			return nil
		}
		if acct.IsCurrentPassword(value) {
			return Fail("The new password must be different from the old password.")
		}
		return nil
	})
}
