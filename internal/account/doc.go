// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package account holds the Account aggregate: a single user's credentials,
// verification key, lockout counters, two-factor state, and owned collections.
//
// # Mutation
//
// Account fields are unexported. Every change goes through a named
// transition method (VerifyAccount, Authenticate, ResetPassword, ...), which
// enforces the aggregate's invariants and records domain events. Callers
// drain those events with PullEvents after the account has been persisted.
//
// Security-sensitive transitions report failure as a plain false so callers
// cannot tell "wrong key" from "stale key" from "wrong purpose". Errors are
// reserved for programming mistakes and randomness/hashing failures.
//
// # Storage
//
// Repositories translate between *Account and State with Snapshot and
// Restore. State is a plain value with exported fields and carries no
// behavior.
package account
