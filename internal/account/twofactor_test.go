// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/secret"
	"github.com/latchkey/latchkey/pkg/errutil"
)

func withMobile(t *testing.T, c *clock) *account.Account {
	t.Helper()
	acct := newVerified(t, c)
	_, err := acct.ChangeMobileRequest("+15551234567")
	require.NoError(t, err)
	require.True(t, acct.ChangeMobileFromCode(mobileCode(t, acct)))
	acct.PullEvents()
	return acct
}

func TestConfigureTwoFactor_Prerequisites(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	assert.False(t, acct.ConfigureTwoFactor(account.TwoFactorMobile), "no phone")
	assert.False(t, acct.ConfigureTwoFactor(account.TwoFactorCertificate), "no certificate")
	assert.False(t, acct.ConfigureTwoFactor(account.TwoFactorTimeBasedToken), "no authenticator")
	assert.True(t, acct.ConfigureTwoFactor(account.TwoFactorNone))
	assert.Empty(t, acct.PullEvents(), "no-op")

	require.True(t, acct.AddCertificate("AB12", "CN=alice"))
	assert.True(t, acct.ConfigureTwoFactor(account.TwoFactorCertificate))
	assert.Equal(t, account.TwoFactorCertificate, acct.TwoFactorMode())
	assert.Contains(t, eventTypes(acct.PullEvents()), account.EventTwoFactorEnabled)
}

func TestMobileTwoFactorChallenge(t *testing.T) {
	c := newClock()
	acct := withMobile(t, c)
	require.True(t, acct.ConfigureTwoFactor(account.TwoFactorMobile))
	acct.PullEvents()

	ok, err := acct.Authenticate("correct horse", threshold, lockout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())

	started, err := acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	require.True(t, started)
	assert.True(t, acct.RequiresTwoFactorAuthToSignIn())
	assert.Equal(t, account.TwoFactorMobile, acct.CurrentTwoFactorStatus())
	code := mobileCode(t, acct)

	started, err = acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	require.True(t, started)
	assert.Empty(t, acct.PullEvents(), "no second text inside the resend delay")

	ok, err = acct.VerifyTwoFactorCode("1234567", threshold, lockout)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, acct.FailedLoginCount())
	assert.True(t, acct.RequiresTwoFactorAuthToSignIn())

	ok, err = acct.VerifyTwoFactorCode(code, threshold, lockout)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())
	assert.Zero(t, acct.FailedLoginCount())
}

func TestBeginTwoFactorChallenge_NoneConfigured(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	started, err := acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())
}

func TestTOTP(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	totpSecret, err := secret.GenerateTOTPSecret()
	require.NoError(t, err)
	code, err := secret.TOTPCode(totpSecret, c.now)
	require.NoError(t, err)

	assert.False(t, acct.EnrollTOTP(totpSecret, "000000x"))
	require.True(t, acct.EnrollTOTP(totpSecret, code))
	assert.True(t, acct.HasTOTPSecret())
	assert.Equal(t, account.TwoFactorTimeBasedToken, acct.TwoFactorMode())

	c.Advance(2 * time.Minute)
	started, err := acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	require.True(t, started)
	assert.Equal(t, account.TwoFactorTimeBasedToken, acct.CurrentTwoFactorStatus())

	code, err = secret.TOTPCode(totpSecret, c.now)
	require.NoError(t, err)
	ok, err := acct.VerifyTOTPCode(code, threshold, lockout)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())

	_, err = acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	ok, err = acct.VerifyTOTPCode(code, threshold, lockout)
	require.NoError(t, err)
	assert.False(t, ok, "an accepted code cannot be replayed")
	assert.True(t, acct.RequiresTwoFactorAuthToSignIn())

	assert.True(t, acct.RemoveTOTP())
	assert.False(t, acct.HasTOTPSecret())
	assert.Equal(t, account.TwoFactorNone, acct.TwoFactorMode())
}

func TestTOTP_UsedStepSurvivesRestore(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)
	totpSecret, err := secret.GenerateTOTPSecret()
	require.NoError(t, err)
	code, err := secret.TOTPCode(totpSecret, c.now)
	require.NoError(t, err)
	require.True(t, acct.EnrollTOTP(totpSecret, code))

	state := acct.Snapshot()
	assert.NotZero(t, state.TOTPLastStep)

	restored := account.Restore(state)
	restored.UseEnv(c.env())
	_, err = restored.BeginTwoFactorChallenge()
	require.NoError(t, err)
	ok, err := restored.VerifyTOTPCode(code, threshold, lockout)
	require.NoError(t, err)
	assert.False(t, ok, "the enrollment code was already used")
}

func TestAuthenticateWithCertificate(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)
	require.True(t, acct.AddCertificate("AB12", "CN=alice"))
	require.True(t, acct.ConfigureTwoFactor(account.TwoFactorCertificate))

	started, err := acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	require.True(t, started)
	acct.PullEvents()

	ok, err := acct.AuthenticateWithCertificate("FFFF", threshold, lockout)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, acct.FailedLoginCount())

	ok, err = acct.AuthenticateWithCertificate("ab12", threshold, lockout)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())
	assert.NotNil(t, acct.LastLogin())
}

func TestSecondFactors_Lockout(t *testing.T) {
	const limit = 3

	t.Run("mobile code", func(t *testing.T) {
		c := newClock()
		acct := withMobile(t, c)
		require.True(t, acct.ConfigureTwoFactor(account.TwoFactorMobile))
		_, err := acct.BeginTwoFactorChallenge()
		require.NoError(t, err)
		code := mobileCode(t, acct)
		acct.PullEvents()

		for range limit {
			ok, err := acct.VerifyTwoFactorCode("0000000", limit, lockout)
			require.NoError(t, err)
			require.False(t, ok)
		}
		ok, err := acct.VerifyTwoFactorCode(code, limit, lockout)
		require.NoError(t, err)
		assert.False(t, ok, "the right code is refused while locked out")
		assert.Equal(t, limit+1, acct.FailedLoginCount())
		assert.Contains(t, eventTypes(acct.PullEvents()), account.EventAccountLocked)
		assert.True(t, acct.RequiresTwoFactorAuthToSignIn())

		c.Advance(lockout + time.Second)
		ok, err = acct.VerifyTwoFactorCode(code, limit, lockout)
		require.NoError(t, err)
		assert.True(t, ok, "accepted once the window has passed")
		assert.Zero(t, acct.FailedLoginCount())
	})

	t.Run("authenticator code", func(t *testing.T) {
		c := newClock()
		acct := newVerified(t, c)
		totpSecret, err := secret.GenerateTOTPSecret()
		require.NoError(t, err)
		code, err := secret.TOTPCode(totpSecret, c.now)
		require.NoError(t, err)
		require.True(t, acct.EnrollTOTP(totpSecret, code))

		c.Advance(2 * time.Minute)
		_, err = acct.BeginTwoFactorChallenge()
		require.NoError(t, err)
		for range limit {
			ok, err := acct.VerifyTOTPCode("xxxxxx", limit, lockout)
			require.NoError(t, err)
			require.False(t, ok)
		}
		code, err = secret.TOTPCode(totpSecret, c.now)
		require.NoError(t, err)
		ok, err := acct.VerifyTOTPCode(code, limit, lockout)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, limit+1, acct.FailedLoginCount())
	})

	t.Run("certificate", func(t *testing.T) {
		c := newClock()
		acct := newVerified(t, c)
		require.True(t, acct.AddCertificate("AB12", "CN=alice"))

		for range limit {
			ok, err := acct.AuthenticateWithCertificate("FFFF", limit, lockout)
			require.NoError(t, err)
			require.False(t, ok)
		}
		ok, err := acct.AuthenticateWithCertificate("AB12", limit, lockout)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, limit+1, acct.FailedLoginCount())
	})
}

func TestSecondFactors_RejectNonPositiveThreshold(t *testing.T) {
	c := newClock()
	acct := newVerified(t, c)

	_, err := acct.VerifyTwoFactorCode("123456", 0, lockout)
	errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ARGUMENT")
	_, err = acct.VerifyTOTPCode("123456", 0, lockout)
	errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ARGUMENT")
	_, err = acct.AuthenticateWithCertificate("AB12", -1, lockout)
	errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ARGUMENT")
}

func TestTwoFactorTokens(t *testing.T) {
	c := newClock()
	acct := withMobile(t, c)
	require.True(t, acct.ConfigureTwoFactor(account.TwoFactorMobile))

	token, err := acct.CreateTwoFactorToken()
	require.NoError(t, err)
	require.Len(t, acct.TwoFactorTokens(), 1)
	assert.NotEqual(t, token, acct.TwoFactorTokens()[0].TokenHash, "only the hash is kept")

	_, err = acct.BeginTwoFactorChallenge()
	require.NoError(t, err)
	assert.False(t, acct.VerifyTwoFactorToken("unknown"))
	assert.True(t, acct.VerifyTwoFactorToken(token))
	assert.False(t, acct.RequiresTwoFactorAuthToSignIn())

	c.Advance(account.TwoFactorTokenLifetime + time.Second)
	assert.False(t, acct.VerifyTwoFactorToken(token), "expired")
	assert.Empty(t, acct.TwoFactorTokens())

	token, err = acct.CreateTwoFactorToken()
	require.NoError(t, err)
	acct.ClearTwoFactorTokens()
	assert.False(t, acct.VerifyTwoFactorToken(token))
}

func TestConfigureTwoFactor_ForgetsRememberedDevices(t *testing.T) {
	c := newClock()
	acct := withMobile(t, c)
	token, err := acct.CreateTwoFactorToken()
	require.NoError(t, err)

	require.True(t, acct.ConfigureTwoFactor(account.TwoFactorMobile))
	assert.False(t, acct.VerifyTwoFactorToken(token))
}
