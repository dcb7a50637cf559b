// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package postgres implements account.Repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// poolIface is the pool surface the repository uses. *pgxpool.Pool and
// pgxmock pools both satisfy it.
type poolIface interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository stores accounts in the accounts table and its child tables.
type Repository struct {
	pool poolIface
	env  account.Env
}

// NewRepository creates a Repository. Loaded accounts are bound to
// account.SystemEnv.
func NewRepository(pool poolIface) *Repository {
	return &Repository{pool: pool, env: account.SystemEnv()}
}

// WithEnv returns a copy of r that binds loaded accounts to env.
func (r *Repository) WithEnv(env account.Env) *Repository {
	return &Repository{pool: r.pool, env: env}
}

const accountColumns = `a.id, a.tenant, a.username, a.email,
	a.mobile_phone, a.mobile_phone_changed, a.created_at, a.updated_at,
	a.is_verified, a.is_login_allowed, a.is_closed, a.closed_at,
	a.last_login, a.last_failed_login, a.failed_login_count,
	a.password_hash, a.password_changed, a.requires_password_reset,
	a.verification_key, a.verification_purpose, a.verification_key_sent, a.verification_storage,
	a.mobile_code, a.mobile_code_sent, a.two_factor_mode, a.two_factor_status, a.totp_secret,
	a.totp_last_step, a.version`

func scanAccount(row pgx.Row) (account.State, error) {
	var (
		s        account.State
		id       string
		purpose  int
		mode     int
		status   int
		failures int
	)
	err := row.Scan(
		&id, &s.Tenant, &s.Username, &s.Email,
		&s.MobilePhone, &s.MobilePhoneChanged, &s.Created, &s.LastUpdated,
		&s.IsAccountVerified, &s.IsLoginAllowed, &s.IsAccountClosed, &s.AccountClosed,
		&s.LastLogin, &s.LastFailedLogin, &failures,
		&s.HashedPassword, &s.PasswordChanged, &s.RequiresPasswordReset,
		&s.VerificationKey, &purpose, &s.VerificationKeySent, &s.VerificationStorage,
		&s.MobileCode, &s.MobileCodeSent, &mode, &status, &s.TOTPSecret,
		&s.TOTPLastStep, &s.Version,
	)
	if err != nil {
		return account.State{}, err
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return account.State{}, oops.Code("ACCOUNT_CORRUPT_ID").With("id", id).Wrap(err)
	}
	s.ID = parsed
	s.FailedLoginCount = failures
	s.VerificationPurpose = account.VerificationPurpose(purpose)
	s.TwoFactorMode = account.TwoFactorMode(mode)
	s.CurrentTwoFactorStatus = account.TwoFactorMode(status)
	return s, nil
}

// selectAccounts runs a SELECT over accounts a with the given tail clause
// and loads child collections for every row.
func (r *Repository) selectAccounts(ctx context.Context, tail string, args ...any) ([]account.State, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM accounts a %s`, accountColumns, tail), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []account.State
	for rows.Next() {
		s, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	if err := r.loadChildren(ctx, states); err != nil {
		return nil, err
	}
	return states, nil
}

func (r *Repository) selectOne(ctx context.Context, op string, attrs []any, tail string, args ...any) (*account.Account, error) {
	states, err := r.selectAccounts(ctx, tail+` ORDER BY a.created_at, a.id LIMIT 1`, args...)
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", op).With(attrs...).Wrap(err)
	}
	if len(states) == 0 {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(attrs...).Wrap(account.ErrNotFound)
	}
	return r.restore(states[0]), nil
}

func (r *Repository) restore(s account.State) *account.Account {
	acct := account.Restore(s)
	acct.UseEnv(r.env)
	return acct
}

// GetAll returns accounts matching filter ordered by creation time.
func (r *Repository) GetAll(ctx context.Context, filter account.Filter) ([]*account.Account, error) {
	states, err := r.selectAccounts(ctx,
		`WHERE ($1 = '' OR a.tenant = $1) AND ($2 OR NOT a.is_closed) ORDER BY a.created_at, a.id`,
		filter.Tenant, filter.IncludeClosed)
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "get all").With("tenant", filter.Tenant).Wrap(err)
	}
	out := make([]*account.Account, len(states))
	for i, s := range states {
		out[i] = r.restore(s)
	}
	return out, nil
}

// Get returns the account with id.
func (r *Repository) Get(ctx context.Context, id ulid.ULID) (*account.Account, error) {
	return r.selectOne(ctx, "get", []any{"id", id.String()},
		`WHERE a.id = $1`, id.String())
}

// GetByUsername returns the account named username in tenant.
func (r *Repository) GetByUsername(ctx context.Context, tenant, username string) (*account.Account, error) {
	return r.selectOne(ctx, "get by username", []any{"tenant", tenant, "username", username},
		`WHERE ($1 = '' OR a.tenant = $1) AND LOWER(a.username) = LOWER($2)`, tenant, username)
}

// GetByEmail returns the account with email in tenant.
func (r *Repository) GetByEmail(ctx context.Context, tenant, email string) (*account.Account, error) {
	if email == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return r.selectOne(ctx, "get by email", []any{"tenant", tenant, "email", email},
		`WHERE ($1 = '' OR a.tenant = $1) AND LOWER(a.email) = LOWER($2)`, tenant, email)
}

// GetByVerificationKey returns the account holding key.
func (r *Repository) GetByVerificationKey(ctx context.Context, key string) (*account.Account, error) {
	if key == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return r.selectOne(ctx, "get by verification key", nil,
		`WHERE a.verification_key = $1`, key)
}

// GetByLinkedAccount returns the account linked to the external identity.
func (r *Repository) GetByLinkedAccount(ctx context.Context, tenant, provider, providerAccountID string) (*account.Account, error) {
	return r.selectOne(ctx, "get by linked account", []any{"tenant", tenant, "provider", provider},
		`JOIN account_linked_accounts la ON la.account_id = a.id
		 WHERE ($1 = '' OR a.tenant = $1) AND LOWER(la.provider) = LOWER($2) AND la.provider_account_id = $3`,
		tenant, provider, providerAccountID)
}

// GetByCertificate returns the account that registered thumbprint.
func (r *Repository) GetByCertificate(ctx context.Context, tenant, thumbprint string) (*account.Account, error) {
	return r.selectOne(ctx, "get by certificate", []any{"tenant", tenant, "thumbprint", thumbprint},
		`JOIN account_certificates c ON c.account_id = a.id
		 WHERE ($1 = '' OR a.tenant = $1) AND UPPER(c.thumbprint) = UPPER($2)`,
		tenant, thumbprint)
}

// Add inserts a new account with version 1.
func (r *Repository) Add(ctx context.Context, acct *account.Account) error {
	s := acct.Snapshot()
	s.Version = 1

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO accounts (
				id, tenant, username, email,
				mobile_phone, mobile_phone_changed, created_at, updated_at,
				is_verified, is_login_allowed, is_closed, closed_at,
				last_login, last_failed_login, failed_login_count,
				password_hash, password_changed, requires_password_reset,
				verification_key, verification_purpose, verification_key_sent, verification_storage,
				mobile_code, mobile_code_sent, two_factor_mode, two_factor_status, totp_secret,
				totp_last_step, version
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
			)`, rowArgs(s)...); err != nil {
			return err
		}
		return writeChildren(ctx, tx, s)
	})
	if err != nil {
		return classify(err, "ACCOUNT_ADD_FAILED", s)
	}
	acct.SetVersion(1)
	return nil
}

// Update writes acct when the stored version matches acct.Version and
// bumps the version.
func (r *Repository) Update(ctx context.Context, acct *account.Account) error {
	s := acct.Snapshot()
	next := s.Version + 1

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		args := rowArgs(s)
		args[28] = next
		args = append(args, s.Version)
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET
				tenant = $2, username = $3, email = $4,
				mobile_phone = $5, mobile_phone_changed = $6, created_at = $7, updated_at = $8,
				is_verified = $9, is_login_allowed = $10, is_closed = $11, closed_at = $12,
				last_login = $13, last_failed_login = $14, failed_login_count = $15,
				password_hash = $16, password_changed = $17, requires_password_reset = $18,
				verification_key = $19, verification_purpose = $20, verification_key_sent = $21, verification_storage = $22,
				mobile_code = $23, mobile_code_sent = $24, two_factor_mode = $25, two_factor_status = $26, totp_secret = $27,
				totp_last_step = $28, version = $29
			WHERE id = $1 AND version = $30`, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, s.ID.String()).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return account.ErrNotFound
			}
			return account.ErrConcurrentUpdate
		}
		if err := deleteChildren(ctx, tx, s.ID.String()); err != nil {
			return err
		}
		return writeChildren(ctx, tx, s)
	})
	if err != nil {
		return classify(err, "ACCOUNT_UPDATE_FAILED", s)
	}
	acct.SetVersion(next)
	return nil
}

// Remove deletes the account with id; child rows cascade.
func (r *Repository) Remove(ctx context.Context, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_REMOVE_FAILED").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// classify maps storage failures onto the repository's sentinel errors.
func classify(err error, code string, s account.State) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return oops.Code("ACCOUNT_DUPLICATE").
			With("tenant", s.Tenant).
			With("username", s.Username).
			With("constraint", pgErr.ConstraintName).
			Wrap(account.ErrDuplicate)
	case errors.Is(err, account.ErrNotFound):
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", s.ID.String()).Wrap(err)
	case errors.Is(err, account.ErrConcurrentUpdate):
		return oops.Code("ACCOUNT_CONCURRENT_UPDATE").
			With("id", s.ID.String()).
			With("expected_version", s.Version).
			Wrap(err)
	default:
		return oops.Code(code).With("id", s.ID.String()).Wrap(err)
	}
}

func rowArgs(s account.State) []any {
	return []any{
		s.ID.String(), s.Tenant, s.Username, s.Email,
		s.MobilePhone, s.MobilePhoneChanged, s.Created, s.LastUpdated,
		s.IsAccountVerified, s.IsLoginAllowed, s.IsAccountClosed, s.AccountClosed,
		s.LastLogin, s.LastFailedLogin, s.FailedLoginCount,
		s.HashedPassword, s.PasswordChanged, s.RequiresPasswordReset,
		s.VerificationKey, int(s.VerificationPurpose), s.VerificationKeySent, s.VerificationStorage,
		s.MobileCode, s.MobileCodeSent, int(s.TwoFactorMode), int(s.CurrentTwoFactorStatus), s.TOTPSecret,
		s.TOTPLastStep, s.Version,
	}
}

func deleteChildren(ctx context.Context, tx pgx.Tx, id string) error {
	for _, table := range []string{
		"account_claims",
		"account_linked_accounts",
		"account_certificates",
		"account_two_factor_tokens",
		"account_reset_secrets",
	} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE account_id = $1`, id); err != nil {
			return err
		}
	}
	return nil
}

func writeChildren(ctx context.Context, tx pgx.Tx, s account.State) error {
	id := s.ID.String()
	for i, c := range s.Claims {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_claims (account_id, position, claim_type, claim_value) VALUES ($1, $2, $3, $4)`,
			id, i, c.Type, c.Value); err != nil {
			return err
		}
	}
	for i, la := range s.LinkedAccounts {
		claims, err := json.Marshal(la.Claims)
		if err != nil {
			return oops.With("operation", "marshal linked claims").Wrap(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_linked_accounts (account_id, tenant, position, provider, provider_account_id, last_login, claims)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, s.Tenant, i, la.ProviderName, la.ProviderAccountID, la.LastLogin, claims); err != nil {
			return err
		}
	}
	for i, c := range s.Certificates {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_certificates (account_id, tenant, position, thumbprint, subject) VALUES ($1, $2, $3, $4, $5)`,
			id, s.Tenant, i, c.Thumbprint, c.Subject); err != nil {
			return err
		}
	}
	for _, t := range s.TwoFactorTokens {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_two_factor_tokens (account_id, token_hash, issued_at) VALUES ($1, $2, $3)`,
			id, t.TokenHash, t.Issued); err != nil {
			return err
		}
	}
	for i, rs := range s.ResetSecrets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_reset_secrets (id, account_id, position, question, answer_hash) VALUES ($1, $2, $3, $4, $5)`,
			rs.ID.String(), id, i, rs.Question, rs.AnswerHash); err != nil {
			return err
		}
	}
	return nil
}

// loadChildren fills the child collections of states with one query per
// table.
func (r *Repository) loadChildren(ctx context.Context, states []account.State) error {
	byID := make(map[string]*account.State, len(states))
	ids := make([]string, len(states))
	for i := range states {
		ids[i] = states[i].ID.String()
		byID[ids[i]] = &states[i]
	}

	if err := r.eachRow(ctx, `SELECT account_id, claim_type, claim_value FROM account_claims
		WHERE account_id = ANY($1) ORDER BY account_id, position`, ids,
		func(rows pgx.Rows) error {
			var owner string
			var c account.Claim
			if err := rows.Scan(&owner, &c.Type, &c.Value); err != nil {
				return err
			}
			if s := byID[owner]; s != nil {
				s.Claims = append(s.Claims, c)
			}
			return nil
		}); err != nil {
		return err
	}

	if err := r.eachRow(ctx, `SELECT account_id, provider, provider_account_id, last_login, claims FROM account_linked_accounts
		WHERE account_id = ANY($1) ORDER BY account_id, position`, ids,
		func(rows pgx.Rows) error {
			var owner string
			var la account.LinkedAccount
			var claims []byte
			if err := rows.Scan(&owner, &la.ProviderName, &la.ProviderAccountID, &la.LastLogin, &claims); err != nil {
				return err
			}
			if len(claims) > 0 {
				if err := json.Unmarshal(claims, &la.Claims); err != nil {
					return oops.With("operation", "unmarshal linked claims").Wrap(err)
				}
			}
			if s := byID[owner]; s != nil {
				s.LinkedAccounts = append(s.LinkedAccounts, la)
			}
			return nil
		}); err != nil {
		return err
	}

	if err := r.eachRow(ctx, `SELECT account_id, thumbprint, subject FROM account_certificates
		WHERE account_id = ANY($1) ORDER BY account_id, position`, ids,
		func(rows pgx.Rows) error {
			var owner string
			var c account.Certificate
			if err := rows.Scan(&owner, &c.Thumbprint, &c.Subject); err != nil {
				return err
			}
			if s := byID[owner]; s != nil {
				s.Certificates = append(s.Certificates, c)
			}
			return nil
		}); err != nil {
		return err
	}

	if err := r.eachRow(ctx, `SELECT account_id, token_hash, issued_at FROM account_two_factor_tokens
		WHERE account_id = ANY($1) ORDER BY account_id, issued_at`, ids,
		func(rows pgx.Rows) error {
			var owner string
			var t account.TwoFactorToken
			var issued time.Time
			if err := rows.Scan(&owner, &t.TokenHash, &issued); err != nil {
				return err
			}
			t.Issued = issued.UTC()
			if s := byID[owner]; s != nil {
				s.TwoFactorTokens = append(s.TwoFactorTokens, t)
			}
			return nil
		}); err != nil {
		return err
	}

	return r.eachRow(ctx, `SELECT id, account_id, question, answer_hash FROM account_reset_secrets
		WHERE account_id = ANY($1) ORDER BY account_id, position`, ids,
		func(rows pgx.Rows) error {
			var id, owner string
			var rs account.PasswordResetSecret
			if err := rows.Scan(&id, &owner, &rs.Question, &rs.AnswerHash); err != nil {
				return err
			}
			parsed, err := ulid.Parse(id)
			if err != nil {
				return oops.Code("ACCOUNT_CORRUPT_ID").With("secret_id", id).Wrap(err)
			}
			rs.ID = parsed
			if s := byID[owner]; s != nil {
				s.ResetSecrets = append(s.ResetSecrets, rs)
			}
			return nil
		})
}

func (r *Repository) eachRow(ctx context.Context, sql string, ids []string, fn func(pgx.Rows) error) error {
	rows, err := r.pool.Query(ctx, sql, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ account.Repository = (*Repository)(nil)
