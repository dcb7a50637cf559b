// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/policy"
)

// IsValidationError reports whether err is a user-facing validation failure.
func IsValidationError(err error) bool {
	return policy.IsFailure(err)
}

func invalid(msg string) error {
	return policy.Fail(msg)
}

func invalidArgument(field, msg string) error {
	return oops.Code("ACCOUNT_INVALID_ARGUMENT").With("field", field).Errorf("%s", msg)
}
