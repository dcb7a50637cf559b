// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package policy holds the composable rules that decide whether a username,
// email address, or password is acceptable for an account.
//
// A validator returns nil to pass or an error built with Fail to reject.
// Chains stop at the first rejection. Errors that are not validation
// failures (for example a lookup that could not reach the store) are
// returned unchanged so callers can tell the two apart with IsFailure.
package policy

import (
	"context"

	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/pkg/errutil"
)

// CodeValidationFailed marks user-facing rejections.
const CodeValidationFailed = "VALIDATION_FAILED"

// Lookup answers the uniqueness questions validators ask. An empty tenant
// searches every tenant.
type Lookup interface {
	UsernameExists(ctx context.Context, tenant, username string) (bool, error)
	EmailExists(ctx context.Context, tenant, email string) (bool, error)
}

// Validator checks value on behalf of acct. acct is never nil; for new
// accounts it is the unsaved entity.
type Validator interface {
	Validate(ctx context.Context, lookup Lookup, acct *account.Account, value string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, lookup Lookup, acct *account.Account, value string) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
	return f(ctx, lookup, acct, value)
}

// Chain runs validators in order and returns the first error.
type Chain []Validator

// Validate implements Validator.
func (c Chain) Validate(ctx context.Context, lookup Lookup, acct *account.Account, value string) error {
	for _, v := range c {
		if err := v.Validate(ctx, lookup, acct, value); err != nil {
			return err
		}
	}
	return nil
}

// Fail builds a validation failure whose Error() is msg.
func Fail(msg string) error {
	return oops.Code(CodeValidationFailed).Errorf("%s", msg)
}

// IsFailure reports whether err is a validation failure.
func IsFailure(err error) bool {
	return errutil.HasCode(err, CodeValidationFailed)
}
