// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/account/memory"
	"github.com/latchkey/latchkey/internal/secret"
	"github.com/latchkey/latchkey/pkg/errutil"
)

func testEnv() account.Env {
	return account.Env{
		Now:    func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
		Hasher: &secret.Hasher{Iterations: 1000},
	}
}

func newAccount(t *testing.T, tenant, username, email string) *account.Account {
	t.Helper()
	acct, err := account.New(testEnv(), tenant, username, "correct horse", email)
	require.NoError(t, err)
	return acct
}

func TestRepository_AddAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository(memory.WithEnv(testEnv()))
	acct := newAccount(t, "default", "alice", "alice@example.com")

	require.NoError(t, repo.Add(ctx, acct))
	assert.Equal(t, int64(1), acct.Version())

	got, err := repo.Get(ctx, acct.ID())
	require.NoError(t, err)
	assert.Equal(t, acct.Snapshot(), got.Snapshot())
	assert.NotSame(t, acct, got)

	byName, err := repo.GetByUsername(ctx, "default", "ALICE")
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), byName.ID())

	byEmail, err := repo.GetByEmail(ctx, "default", "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), byEmail.ID())

	byKey, err := repo.GetByVerificationKey(ctx, acct.VerificationKey())
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), byKey.ID())

	anyTenant, err := repo.GetByUsername(ctx, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), anyTenant.ID())
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	_, err := repo.Get(ctx, ulid.Make())
	require.ErrorIs(t, err, account.ErrNotFound)
	errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")

	_, err = repo.GetByUsername(ctx, "default", "nobody")
	require.ErrorIs(t, err, account.ErrNotFound)

	_, err = repo.GetByEmail(ctx, "default", "")
	require.ErrorIs(t, err, account.ErrNotFound)

	_, err = repo.GetByVerificationKey(ctx, "")
	require.ErrorIs(t, err, account.ErrNotFound)

	require.ErrorIs(t, repo.Remove(ctx, ulid.Make()), account.ErrNotFound)
}

func TestRepository_Duplicates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	require.NoError(t, repo.Add(ctx, newAccount(t, "default", "alice", "alice@example.com")))

	err := repo.Add(ctx, newAccount(t, "default", "Alice", "other@example.com"))
	require.ErrorIs(t, err, account.ErrDuplicate)

	err = repo.Add(ctx, newAccount(t, "default", "bob", "ALICE@example.com"))
	require.ErrorIs(t, err, account.ErrDuplicate)

	require.NoError(t, repo.Add(ctx, newAccount(t, "other", "alice", "alice@example.com")), "tenants are separate")
	require.NoError(t, repo.Add(ctx, newAccount(t, "default", "carol", "")))
	require.NoError(t, repo.Add(ctx, newAccount(t, "default", "dave", "")), "blank emails never collide")
}

func TestRepository_UpdateVersioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository(memory.WithEnv(testEnv()))
	acct := newAccount(t, "default", "alice", "alice@example.com")
	require.NoError(t, repo.Add(ctx, acct))

	first, err := repo.Get(ctx, acct.ID())
	require.NoError(t, err)
	second, err := repo.Get(ctx, acct.ID())
	require.NoError(t, err)

	require.True(t, first.VerifyAccount(first.VerificationKey()))
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version())

	second.AddClaim("role", "admin")
	err = repo.Update(ctx, second)
	require.ErrorIs(t, err, account.ErrConcurrentUpdate)
	errutil.AssertErrorCode(t, err, "ACCOUNT_CONCURRENT_UPDATE")

	stored, err := repo.Get(ctx, acct.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsAccountVerified())
	assert.Empty(t, stored.Claims())
}

func TestRepository_UpdateUnknown(t *testing.T) {
	repo := memory.NewRepository()
	err := repo.Update(context.Background(), newAccount(t, "default", "alice", ""))
	require.ErrorIs(t, err, account.ErrNotFound)
}

func TestRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	acct := newAccount(t, "default", "alice", "")
	require.NoError(t, repo.Add(ctx, acct))

	acct.AddClaim("role", "admin")

	stored, err := repo.Get(ctx, acct.ID())
	require.NoError(t, err)
	assert.Empty(t, stored.Claims(), "unsaved changes are not visible")
}

func TestRepository_GetAll(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	a := newAccount(t, "default", "alice", "")
	b := newAccount(t, "default", "bob", "")
	c := newAccount(t, "other", "carol", "")
	for _, acct := range []*account.Account{a, b, c} {
		require.NoError(t, repo.Add(ctx, acct))
	}
	require.True(t, b.CloseAccount())
	require.NoError(t, repo.Update(ctx, b))

	all, err := repo.GetAll(ctx, account.Filter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	open, err := repo.GetAll(ctx, account.Filter{Tenant: "default"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "alice", open[0].Username())
}

func TestRepository_GetByLinkedAccountAndCertificate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	acct := newAccount(t, "default", "alice", "")
	acct.AddOrUpdateLinkedAccount("github", "1234", nil)
	acct.AddCertificate("AB12", "CN=alice")
	require.NoError(t, repo.Add(ctx, acct))

	got, err := repo.GetByLinkedAccount(ctx, "default", "GitHub", "1234")
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), got.ID())

	_, err = repo.GetByLinkedAccount(ctx, "other", "github", "1234")
	require.ErrorIs(t, err, account.ErrNotFound)

	got, err = repo.GetByCertificate(ctx, "default", "ab12")
	require.NoError(t, err)
	assert.Equal(t, acct.ID(), got.ID())
}

func TestRepository_Remove(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	acct := newAccount(t, "default", "alice", "")
	require.NoError(t, repo.Add(ctx, acct))

	require.NoError(t, repo.Remove(ctx, acct.ID()))
	_, err := repo.Get(ctx, acct.ID())
	require.ErrorIs(t, err, account.ErrNotFound)
}
