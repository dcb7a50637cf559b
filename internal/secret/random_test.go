// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package secret_test

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/secret"
)

func TestGenerateKey_URLSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := secret.GenerateKey()
		require.NoError(t, err)
		assert.NotEmpty(t, key)
		assert.False(t, strings.ContainsAny(key, "+/="), key)
		assert.False(t, seen[key], "duplicate key")
		seen[key] = true
	}
}

func TestGenerateNumericCode(t *testing.T) {
	tests := []struct {
		name   string
		digits int
		want   int
	}{
		{name: "six digits", digits: 6, want: 6},
		{name: "clamped low", digits: 0, want: 1},
		{name: "negative clamped", digits: -4, want: 1},
		{name: "clamped high", digits: 40, want: 18},
		{name: "max", digits: 18, want: 18},
	}

	numeric := regexp.MustCompile(`^[0-9]+$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				code, err := secret.GenerateNumericCode(tt.digits)
				require.NoError(t, err)
				assert.Len(t, code, tt.want)
				assert.Regexp(t, numeric, code)
			}
		})
	}
}

func TestSlowEquals(t *testing.T) {
	assert.True(t, secret.SlowEquals("", ""))
	assert.True(t, secret.SlowEquals("abc", "abc"))
	assert.False(t, secret.SlowEquals("abc", "abd"))
	assert.False(t, secret.SlowEquals("abc", "abcd"))
	assert.False(t, secret.SlowEquals("abcd", "abc"))
	assert.False(t, secret.SlowEquals("", "a"))
}

func TestHash(t *testing.T) {
	assert.Equal(t, secret.Hash("a@x.com"), secret.Hash("a@x.com"))
	assert.NotEqual(t, secret.Hash("a@x.com"), secret.Hash("b@x.com"))
	assert.Len(t, secret.Hash("anything"), 64)
}

func TestVerifyTOTP(t *testing.T) {
	// RFC 6238 appendix B seed "12345678901234567890".
	const seed = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	at := time.Unix(59, 0)

	code, err := secret.TOTPCode(seed, at)
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	assert.True(t, secret.VerifyTOTP(seed, "287082", at))
	assert.True(t, secret.VerifyTOTP(seed, "287082", at.Add(secret.TOTPPeriod)), "one step skew")
	assert.False(t, secret.VerifyTOTP(seed, "287082", at.Add(5*secret.TOTPPeriod)))
	assert.False(t, secret.VerifyTOTP(seed, "28708", at))
	assert.False(t, secret.VerifyTOTP("not base32!", "287082", at))
}

func TestGenerateTOTPSecret(t *testing.T) {
	s, err := secret.GenerateTOTPSecret()
	require.NoError(t, err)
	assert.Len(t, s, 32)

	code, err := secret.TOTPCode(s, time.Now())
	require.NoError(t, err)
	assert.True(t, secret.VerifyTOTP(s, code, time.Now()))

	uri := secret.TOTPProvisioningURI("Latchkey", "alice", s)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Latchkey:alice?"))
}
