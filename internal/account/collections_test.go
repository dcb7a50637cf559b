// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/account"
)

func TestClaims(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	assert.True(t, acct.AddClaim("role", "admin"))
	assert.False(t, acct.AddClaim("role", "admin"), "duplicate pair")
	assert.True(t, acct.AddClaim("role", "editor"))
	assert.True(t, acct.AddClaim("dept", "ops"))
	assert.False(t, acct.AddClaim("", "x"))
	assert.True(t, acct.HasClaim("role", "editor"))

	assert.True(t, acct.RemoveClaim("role", ""))
	assert.Equal(t, []account.Claim{{Type: "dept", Value: "ops"}}, acct.Claims())
	assert.False(t, acct.RemoveClaim("role", "admin"))

	events := eventTypes(acct.PullEvents())
	assert.Equal(t, []account.EventType{
		account.EventClaimAdded, account.EventClaimAdded, account.EventClaimAdded,
		account.EventClaimRemoved, account.EventClaimRemoved,
	}, events)
}

func TestClaims_ReturnsCopy(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)
	acct.AddClaim("role", "admin")

	claims := acct.Claims()
	claims[0].Value = "root"
	assert.True(t, acct.HasClaim("role", "admin"))
}

func TestLinkedAccounts(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	assert.True(t, acct.AddOrUpdateLinkedAccount("github", "1234", []account.Claim{{Type: "login", Value: "alice"}}))
	assert.Len(t, acct.PullEvents(), 1)

	c.Advance(time.Hour)
	assert.True(t, acct.AddOrUpdateLinkedAccount("GitHub", "1234", []account.Claim{{Type: "login", Value: "alice2"}}))
	assert.Empty(t, acct.PullEvents(), "refresh is silent")

	linked := acct.LinkedAccounts()
	require.Len(t, linked, 1)
	assert.Equal(t, c.now, linked[0].LastLogin)
	assert.Equal(t, "alice2", linked[0].Claims[0].Value)

	assert.False(t, acct.AddOrUpdateLinkedAccount("", "1", nil))
	assert.False(t, acct.RemoveLinkedAccount("github", "9999"))
	assert.True(t, acct.RemoveLinkedAccount("github", "1234"))
	assert.Empty(t, acct.LinkedAccounts())
}

func TestCertificates(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	assert.True(t, acct.AddCertificate("AB12", "CN=alice"))
	assert.False(t, acct.AddCertificate("ab12", "CN=dup"))
	assert.True(t, acct.AddCertificate("CD34", "CN=alice laptop"))
	require.True(t, acct.ConfigureTwoFactor(account.TwoFactorCertificate))

	assert.True(t, acct.RemoveCertificate("ab12"))
	assert.Equal(t, account.TwoFactorCertificate, acct.TwoFactorMode())

	assert.True(t, acct.RemoveCertificate("CD34"))
	assert.Equal(t, account.TwoFactorNone, acct.TwoFactorMode(), "last certificate disables the mode")
	assert.False(t, acct.RemoveCertificate("CD34"))
}
