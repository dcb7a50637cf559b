// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"time"

	"github.com/latchkey/latchkey/internal/secret"
)

// PasswordHasher hashes and verifies passwords.
// secret.Hasher is the production implementation.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyHashedPassword(hashed, password string) bool
}

// Rehasher is implemented by hashers that can tell when a stored hash is
// weaker than they would produce today.
type Rehasher interface {
	NeedsRehash(hashed string) bool
}

// Env carries the collaborators an Account needs to run its transitions:
// the clock and the password hasher.
type Env struct {
	// Now returns the current time. Values are converted to UTC.
	Now func() time.Time

	// Hasher hashes passwords and reset-secret answers.
	Hasher PasswordHasher
}

// SystemEnv returns an Env backed by the wall clock and the default hasher.
func SystemEnv() Env {
	return Env{
		Now:    time.Now,
		Hasher: &secret.Hasher{},
	}
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e Env) hasher() PasswordHasher {
	if e.Hasher == nil {
		return &secret.Hasher{}
	}
	return e.Hasher
}
