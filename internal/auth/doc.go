// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package auth orchestrates account use cases and sign-in.
//
// # Services
//
//   - AccountService - every account use case: resolve the account, run the
//     validation policy, invoke the entity transition, persist, then publish
//     the events the transition raised
//   - SignInService - turns an authenticated account into an issued token,
//     holding back full access while a second factor or password change is
//     outstanding
//
// Services are created with New*Service constructors that validate
// dependencies. Settings are passed explicitly; nothing in this package
// reads global configuration.
//
// # Errors
//
// User-facing rejections are validation failures (see IsValidationError)
// whose Error() is safe to show. Wrong passwords, unknown users, and
// mismatched keys come back as a false result, never as an error that
// explains which check failed.
package auth
