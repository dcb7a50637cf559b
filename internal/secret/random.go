// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/samber/oops"
)

// Numeric code length bounds.
const (
	MinCodeDigits = 1
	MaxCodeDigits = 18
)

// GenerateSalt returns 16 random bytes, base64 encoded.
func GenerateSalt() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SECRET_SALT_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", saltLen).
			Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GenerateKey returns a random verification key that is safe to embed in
// URLs and file names.
func GenerateKey() (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", err
	}
	return stripUnsafe(salt), nil
}

var unsafeKeyChars = strings.NewReplacer("+", "", "/", "", "=", "")

func stripUnsafe(s string) string {
	return unsafeKeyChars.Replace(s)
}

// GenerateNumericCode returns a random decimal code of exactly digits
// characters, left-padded with zeros. digits is clamped to [1, 18].
func GenerateNumericCode(digits int) (string, error) {
	if digits < MinCodeDigits {
		digits = MinCodeDigits
	}
	if digits > MaxCodeDigits {
		digits = MaxCodeDigits
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", oops.Code("SECRET_CODE_FAILED").
			With("digits", digits).
			Wrap(err)
	}

	code := n.String()
	if pad := digits - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}

// SlowEquals compares a and b without exiting early on the first mismatch.
func SlowEquals(a, b string) bool {
	diff := len(a) ^ len(b)
	for i := 0; i < len(a) && i < len(b); i++ {
		diff |= int(a[i] ^ b[i])
	}
	return diff == 0
}

// Hash returns the hex SHA-256 digest of value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
