// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package secret provides the password hashing and random-value primitives
// used by the account model.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. The iteration count is not listed here because it is
// stored inside every hash.
const (
	saltLen      = 16
	subkeyLen    = 32
	hashVersion  = 0x01
	hashDelim    = "."
	baseYear     = 2000
	baseIters    = 1000
	maxIteration = math.MaxInt32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("SECRET_EMPTY_PASSWORD").Errorf("password cannot be empty")

// Hasher hashes and verifies passwords. The zero value derives the iteration
// count from the current year.
type Hasher struct {
	// Iterations overrides the year-based schedule when positive.
	Iterations int

	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// IterationsForYear returns the PBKDF2 iteration count for the given year:
// 1000 in 2000, doubling every two years, capped at math.MaxInt32.
func IterationsForYear(year int) int {
	if year <= baseYear {
		return baseIters
	}
	doublings := (year - baseYear) / 2
	iters := baseIters
	for i := 0; i < doublings; i++ {
		if iters > maxIteration/2 {
			return maxIteration
		}
		iters *= 2
	}
	return iters
}

func (h *Hasher) iterations() int {
	if h != nil && h.Iterations > 0 {
		return h.Iterations
	}
	now := time.Now
	if h != nil && h.Now != nil {
		now = h.Now
	}
	return IterationsForYear(now().UTC().Year())
}

// HashPassword hashes password with a fresh salt. The result embeds the
// iteration count as a hex prefix so older hashes keep verifying after the
// default count grows.
func (h *Hasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("SECRET_SALT_FAILED").Wrap(err)
	}

	iters := h.iterations()
	subkey := pbkdf2.Key([]byte(password), salt, iters, subkeyLen, sha256.New)

	payload := make([]byte, 0, 1+saltLen+subkeyLen)
	payload = append(payload, hashVersion)
	payload = append(payload, salt...)
	payload = append(payload, subkey...)

	return strconv.FormatInt(int64(iters), 16) + hashDelim + base64.StdEncoding.EncodeToString(payload), nil
}

// VerifyHashedPassword reports whether password matches hashed. Any parse
// failure verifies as false.
func (h *Hasher) VerifyHashedPassword(hashed, password string) bool {
	if hashed == "" || password == "" {
		return false
	}

	prefix, encoded, ok := strings.Cut(hashed, hashDelim)
	if !ok {
		return false
	}
	iters, err := strconv.ParseInt(prefix, 16, 64)
	if err != nil || iters <= 0 || iters > maxIteration {
		return false
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(payload) != 1+saltLen+subkeyLen || payload[0] != hashVersion {
		return false
	}
	salt := payload[1 : 1+saltLen]
	expected := payload[1+saltLen:]

	actual := pbkdf2.Key([]byte(password), salt, int(iters), subkeyLen, sha256.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// NeedsRehash reports whether hashed was produced with fewer iterations
// than the hasher would use today.
func (h *Hasher) NeedsRehash(hashed string) bool {
	return StoredIterations(hashed) < h.iterations()
}

// StoredIterations returns the iteration count embedded in hashed, or 0 if
// the hash cannot be parsed.
func StoredIterations(hashed string) int {
	prefix, _, ok := strings.Cut(hashed, hashDelim)
	if !ok {
		return 0
	}
	iters, err := strconv.ParseInt(prefix, 16, 64)
	if err != nil || iters <= 0 || iters > maxIteration {
		return 0
	}
	return int(iters)
}
