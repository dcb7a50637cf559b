// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/account/postgres"
	"github.com/latchkey/latchkey/internal/secret"
)

var _ = Describe("Repository", func() {
	var (
		ctx  context.Context
		repo *postgres.Repository
		env  account.Env
	)

	newAccount := func(tenant, username, email string) *account.Account {
		acct, err := account.New(env, tenant, username, "correct horse", email)
		Expect(err).NotTo(HaveOccurred())
		return acct
	}

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		env = account.Env{
			Now:    func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
			Hasher: &secret.Hasher{Iterations: 1000},
		}
		repo = postgres.NewRepository(pool).WithEnv(env)
	})

	Describe("Add and Get", func() {
		It("round-trips scalar fields and child collections", func() {
			acct := newAccount("default", "alice", "alice@example.com")
			Expect(acct.VerifyAccount(acct.VerificationKey())).To(BeTrue())
			acct.AddClaim("role", "admin")
			acct.AddClaim("role", "auditor")
			acct.AddOrUpdateLinkedAccount("github", "1234", []account.Claim{{Type: "login", Value: "alice"}})
			acct.AddCertificate("AB12", "CN=alice")
			added, err := acct.AddPasswordResetSecret("first pet", "Rex")
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())
			_, err = acct.CreateTwoFactorToken()
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Add(ctx, acct)).To(Succeed())
			Expect(acct.Version()).To(Equal(int64(1)))

			got, err := repo.Get(ctx, acct.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username()).To(Equal("alice"))
			Expect(got.Email()).To(Equal("alice@example.com"))
			Expect(got.IsAccountVerified()).To(BeTrue())
			Expect(got.Created()).To(BeTemporally("~", acct.Created(), time.Millisecond))
			Expect(got.Claims()).To(Equal(acct.Claims()))
			Expect(got.LinkedAccounts()).To(HaveLen(1))
			Expect(got.LinkedAccounts()[0].Claims).To(Equal([]account.Claim{{Type: "login", Value: "alice"}}))
			Expect(got.Certificates()).To(Equal(acct.Certificates()))
			Expect(got.PasswordResetSecrets()).To(HaveLen(1))
			Expect(got.PasswordResetSecrets()[0].ID).To(Equal(acct.PasswordResetSecrets()[0].ID))
			Expect(got.TwoFactorTokens()).To(HaveLen(1))
			Expect(got.IsCurrentPassword("correct horse")).To(BeTrue())
			Expect(got.Version()).To(Equal(int64(1)))
		})

		It("reports a duplicate username in the same tenant", func() {
			Expect(repo.Add(ctx, newAccount("default", "alice", ""))).To(Succeed())

			err := repo.Add(ctx, newAccount("default", "ALICE", ""))
			Expect(err).To(MatchError(account.ErrDuplicate))

			Expect(repo.Add(ctx, newAccount("other", "alice", ""))).To(Succeed())
		})

		It("reports a duplicate email but allows blank emails", func() {
			Expect(repo.Add(ctx, newAccount("default", "alice", "shared@example.com"))).To(Succeed())
			Expect(repo.Add(ctx, newAccount("default", "bob", "SHARED@example.com"))).To(MatchError(account.ErrDuplicate))
			Expect(repo.Add(ctx, newAccount("default", "carol", ""))).To(Succeed())
			Expect(repo.Add(ctx, newAccount("default", "dave", ""))).To(Succeed())
		})
	})

	Describe("lookups", func() {
		var acct *account.Account

		BeforeEach(func() {
			acct = newAccount("default", "alice", "alice@example.com")
			acct.AddOrUpdateLinkedAccount("github", "1234", nil)
			acct.AddCertificate("AB12", "CN=alice")
			Expect(repo.Add(ctx, acct)).To(Succeed())
		})

		It("finds by username and email case-insensitively", func() {
			got, err := repo.GetByUsername(ctx, "default", "Alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))

			got, err = repo.GetByEmail(ctx, "default", "ALICE@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))

			got, err = repo.GetByUsername(ctx, "", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))
		})

		It("finds by verification key, linked account and certificate", func() {
			got, err := repo.GetByVerificationKey(ctx, acct.VerificationKey())
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))

			got, err = repo.GetByLinkedAccount(ctx, "default", "GitHub", "1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))

			got, err = repo.GetByCertificate(ctx, "default", "ab12")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID()).To(Equal(acct.ID()))
		})

		It("returns ErrNotFound for other tenants", func() {
			_, err := repo.GetByUsername(ctx, "other", "alice")
			Expect(err).To(MatchError(account.ErrNotFound))

			_, err = repo.GetByLinkedAccount(ctx, "other", "github", "1234")
			Expect(err).To(MatchError(account.ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("bumps the version and rejects stale writers", func() {
			acct := newAccount("default", "alice", "alice@example.com")
			Expect(repo.Add(ctx, acct)).To(Succeed())

			first, err := repo.Get(ctx, acct.ID())
			Expect(err).NotTo(HaveOccurred())
			second, err := repo.Get(ctx, acct.ID())
			Expect(err).NotTo(HaveOccurred())

			first.AddClaim("role", "admin")
			Expect(repo.Update(ctx, first)).To(Succeed())
			Expect(first.Version()).To(Equal(int64(2)))

			second.AddClaim("role", "auditor")
			Expect(repo.Update(ctx, second)).To(MatchError(account.ErrConcurrentUpdate))

			stored, err := repo.Get(ctx, acct.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Claims()).To(Equal([]account.Claim{{Type: "role", Value: "admin"}}))
		})

		It("replaces child rows", func() {
			acct := newAccount("default", "alice", "")
			acct.AddCertificate("AB12", "CN=alice")
			Expect(repo.Add(ctx, acct)).To(Succeed())

			acct.RemoveCertificate("AB12")
			acct.AddCertificate("CD34", "CN=alice-2")
			Expect(repo.Update(ctx, acct)).To(Succeed())

			stored, err := repo.Get(ctx, acct.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Certificates()).To(Equal([]account.Certificate{{Thumbprint: "CD34", Subject: "CN=alice-2"}}))
		})

		It("returns ErrNotFound for an account that was never added", func() {
			Expect(repo.Update(ctx, newAccount("default", "ghost", ""))).To(MatchError(account.ErrNotFound))
		})
	})

	Describe("GetAll and Remove", func() {
		It("filters by tenant and closed state", func() {
			a := newAccount("default", "alice", "")
			b := newAccount("default", "bob", "")
			c := newAccount("other", "carol", "")
			for _, acct := range []*account.Account{a, b, c} {
				Expect(repo.Add(ctx, acct)).To(Succeed())
			}
			Expect(b.CloseAccount()).To(BeTrue())
			Expect(repo.Update(ctx, b)).To(Succeed())

			all, err := repo.GetAll(ctx, account.Filter{IncludeClosed: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))

			open, err := repo.GetAll(ctx, account.Filter{Tenant: "default"})
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(1))
			Expect(open[0].Username()).To(Equal("alice"))
		})

		It("removes the account and its children", func() {
			acct := newAccount("default", "alice", "")
			acct.AddClaim("role", "admin")
			Expect(repo.Add(ctx, acct)).To(Succeed())

			Expect(repo.Remove(ctx, acct.ID())).To(Succeed())
			_, err := repo.Get(ctx, acct.ID())
			Expect(err).To(MatchError(account.ErrNotFound))
			Expect(repo.Remove(ctx, ulid.Make())).To(MatchError(account.ErrNotFound))

			var claims int
			Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM account_claims`).Scan(&claims)).To(Succeed())
			Expect(claims).To(BeZero())
		})
	})
})
