// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import "errors"

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("account not found")

// ErrDuplicate is returned when a username or email is already taken.
var ErrDuplicate = errors.New("account already exists")

// ErrConcurrentUpdate is returned when an account was modified after it
// was loaded.
var ErrConcurrentUpdate = errors.New("account was modified concurrently")

// ErrClosed is returned by transitions attempted on a closed account.
var ErrClosed = errors.New("account is closed")
