// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package policy_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/policy"
	"github.com/latchkey/latchkey/internal/secret"
	"github.com/latchkey/latchkey/pkg/errutil"
)

// fakeLookup records the tenant each query used.
type fakeLookup struct {
	usernames map[string]bool
	emails    map[string]bool
	err       error
	tenants   []string
}

func (f *fakeLookup) UsernameExists(_ context.Context, tenant, username string) (bool, error) {
	f.tenants = append(f.tenants, tenant)
	return f.usernames[strings.ToLower(username)], f.err
}

func (f *fakeLookup) EmailExists(_ context.Context, tenant, email string) (bool, error) {
	f.tenants = append(f.tenants, tenant)
	return f.emails[strings.ToLower(email)], f.err
}

func newAccount(t *testing.T) *account.Account {
	t.Helper()
	env := account.Env{
		Now:    func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
		Hasher: &secret.Hasher{Iterations: 1000},
	}
	acct, err := account.New(env, "default", "alice", "x7#Qm!v9Lp2$Wz", "alice@example.com")
	require.NoError(t, err)
	return acct
}

func TestPolicy_Username(t *testing.T) {
	p, err := policy.New(policy.DefaultSettings())
	require.NoError(t, err)
	lookup := &fakeLookup{usernames: map[string]bool{"bob": true}}
	acct := newAccount(t)

	tests := []struct {
		name    string
		value   string
		wantMsg string
	}{
		{"valid", "carol.smith", ""},
		{"at sign", "carol@example.com", "Username cannot contain the '@' character."},
		{"bad character", "carol smith", "Username contains invalid characters."},
		{"leading punctuation", ".carol", "Username must start and end with a letter or digit."},
		{"reserved exact", "Admin", "Username is reserved."},
		{"reserved glob", "latchkey-support", "Username is reserved."},
		{"taken", "Bob", "Username already in use."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateUsername(context.Background(), lookup, acct, tt.value)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, policy.IsFailure(err))
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestPolicy_UsernameEmailMode(t *testing.T) {
	s := policy.DefaultSettings()
	s.EmailIsUsername = true
	p, err := policy.New(s)
	require.NoError(t, err)

	err = p.ValidateUsername(context.Background(), &fakeLookup{}, newAccount(t), "carol@example.com")
	assert.NoError(t, err)
}

func TestPolicy_UniquenessScope(t *testing.T) {
	acct := newAccount(t)

	tenantScoped, err := policy.New(policy.Settings{})
	require.NoError(t, err)
	lookup := &fakeLookup{}
	require.NoError(t, tenantScoped.ValidateUsername(context.Background(), lookup, acct, "carol"))
	require.NoError(t, tenantScoped.ValidateEmail(context.Background(), lookup, acct, "carol@example.com"))
	assert.Equal(t, []string{"default", "default"}, lookup.tenants)

	global, err := policy.New(policy.Settings{UniqueAcrossTenants: true})
	require.NoError(t, err)
	lookup = &fakeLookup{}
	require.NoError(t, global.ValidateUsername(context.Background(), lookup, acct, "carol"))
	assert.Equal(t, []string{""}, lookup.tenants)
}

func TestPolicy_LookupErrorIsNotFailure(t *testing.T) {
	p, err := policy.New(policy.Settings{})
	require.NoError(t, err)
	lookup := &fakeLookup{err: errors.New("connection refused")}

	err = p.ValidateEmail(context.Background(), lookup, newAccount(t), "carol@example.com")
	require.Error(t, err)
	assert.False(t, policy.IsFailure(err))
	errutil.AssertErrorCode(t, err, "POLICY_LOOKUP_FAILED")
}

func TestPolicy_Email(t *testing.T) {
	p, err := policy.New(policy.Settings{})
	require.NoError(t, err)
	lookup := &fakeLookup{emails: map[string]bool{"bob@example.com": true}}
	acct := newAccount(t)

	tests := []struct {
		name    string
		value   string
		wantMsg string
	}{
		{"valid", "carol@example.com", ""},
		{"valid plus tag", "carol+news@mail.example.org", ""},
		{"missing domain", "carol@", "Email is invalid."},
		{"missing at", "carol.example.com", "Email is invalid."},
		{"taken", "BOB@example.com", "Email already in use."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateEmail(context.Background(), lookup, acct, tt.value)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestPolicy_Password(t *testing.T) {
	p, err := policy.New(policy.DefaultSettings())
	require.NoError(t, err)
	acct := newAccount(t)

	err = p.ValidatePassword(context.Background(), &fakeLookup{}, acct, "short")
	assert.Equal(t, "Password must be at least 8 characters long.", err.Error())

	err = p.ValidatePassword(context.Background(), &fakeLookup{}, acct, "password")
	require.Error(t, err)
	assert.True(t, policy.IsFailure(err))
	assert.Contains(t, err.Error(), "too weak")

	assert.NoError(t, p.ValidatePassword(context.Background(), &fakeLookup{}, acct, "v8$Kq!2zRw#Lm9p"))
}

func TestPolicy_PasswordDiffersFromCurrent(t *testing.T) {
	p, err := policy.New(policy.Settings{})
	require.NoError(t, err)
	acct := newAccount(t)

	assert.NoError(t, p.ValidatePassword(context.Background(), &fakeLookup{}, acct, "x7#Qm!v9Lp2$Wz"),
		"accounts that never signed in may keep their initial password")

	require.True(t, acct.VerifyAccount(acct.VerificationKey()))
	ok, err := acct.Authenticate("x7#Qm!v9Lp2$Wz", 5, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = p.ValidatePassword(context.Background(), &fakeLookup{}, acct, "x7#Qm!v9Lp2$Wz")
	require.Error(t, err)
	assert.Equal(t, "The new password must be different from the old password.", err.Error())
}

func TestPolicy_CustomValidatorsRunAfterBuiltIns(t *testing.T) {
	p, err := policy.New(policy.Settings{})
	require.NoError(t, err)

	var calls int
	p.AddUsernameValidators(policy.ValidatorFunc(func(_ context.Context, _ policy.Lookup, _ *account.Account, value string) error {
		calls++
		if strings.HasPrefix(value, "tmp") {
			return policy.Fail("Temporary usernames are not allowed.")
		}
		return nil
	}))
	lookup := &fakeLookup{usernames: map[string]bool{"tmpbob": true}}

	err = p.ValidateUsername(context.Background(), lookup, newAccount(t), "tmpbob")
	assert.Equal(t, "Username already in use.", err.Error())
	assert.Zero(t, calls, "built-in failure short-circuits")

	err = p.ValidateUsername(context.Background(), lookup, newAccount(t), "tmpcarol")
	assert.Equal(t, "Temporary usernames are not allowed.", err.Error())
	assert.Equal(t, 1, calls)
}

func TestUsernameNotReserved_InvalidPattern(t *testing.T) {
	_, err := policy.UsernameNotReserved("[admin")
	errutil.AssertErrorCode(t, err, "POLICY_INVALID_PATTERN")

	_, err = policy.UsernameNotReserved("")
	errutil.AssertErrorCode(t, err, "POLICY_INVALID_PATTERN")
}

func TestFail(t *testing.T) {
	err := policy.Fail("Nope.")
	assert.Equal(t, "Nope.", err.Error())
	assert.True(t, policy.IsFailure(err))
	assert.False(t, policy.IsFailure(nil))
	assert.False(t, policy.IsFailure(errors.New("plain")))
}
