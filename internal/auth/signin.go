// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
)

// Token lifetimes used when no override is configured.
const (
	DefaultTokenLifetime        = 8 * time.Hour
	DefaultPersistentLifetime   = 30 * 24 * time.Hour
	DefaultPartialTokenLifetime = 10 * time.Minute
)

// AuthState is where a sign-in stands.
type AuthState int

// Sign-in states.
const (
	NotAuthenticated AuthState = iota
	PartiallyAuthenticated
	FullyAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case PartiallyAuthenticated:
		return "partial"
	case FullyAuthenticated:
		return "full"
	default:
		return "none"
	}
}

// ParseAuthState is the inverse of AuthState.String.
func ParseAuthState(s string) (AuthState, bool) {
	switch s {
	case "none":
		return NotAuthenticated, true
	case "partial":
		return PartiallyAuthenticated, true
	case "full":
		return FullyAuthenticated, true
	}
	return NotAuthenticated, false
}

// PartialReason names the step a partially authenticated caller still owes.
type PartialReason string

// Outstanding sign-in steps.
const (
	PendingNone            PartialReason = ""
	PendingTwoFactor       PartialReason = "two_factor"
	PendingPasswordReset   PartialReason = "password_reset"
	PendingPasswordExpired PartialReason = "password_expired"
)

// TokenRequest describes the token to issue.
type TokenRequest struct {
	Subject  string
	Tenant   string
	Username string
	State    AuthState
	Pending  PartialReason
	Method   string
	Claims   []account.Claim
	Lifetime time.Duration
}

// Token is an issued credential.
type Token struct {
	ID        string
	Value     string
	ExpiresAt time.Time
}

// Principal is the identity a live token carries.
type Principal struct {
	TokenID   string
	Subject   string
	Tenant    string
	Username  string
	State     AuthState
	Pending   PartialReason
	Method    string
	Claims    []account.Claim
	ExpiresAt time.Time
}

// TokenIssuer issues and revokes credentials. CurrentPrincipal fails for
// expired, revoked, or malformed tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, req TokenRequest) (Token, error)
	RevokeToken(ctx context.Context, token string) error
	CurrentPrincipal(ctx context.Context, token string) (*Principal, error)
}

// SignInRecorder counts sign-in outcomes by state name.
type SignInRecorder interface {
	RecordSignIn(state string)
}

// SignInResult is the outcome of a sign-in step.
type SignInResult struct {
	State   AuthState
	Pending PartialReason
	Token   Token
	Account *account.Account
	// RememberToken is set when the caller asked to remember the device.
	RememberToken string
}

// SignInService turns authenticated accounts into issued tokens.
type SignInService struct {
	accounts *AccountService
	issuer   TokenIssuer
	logger   *slog.Logger
	recorder SignInRecorder

	lifetime           time.Duration
	persistentLifetime time.Duration
	partialLifetime    time.Duration
}

// SignInOption configures a SignInService.
type SignInOption func(*SignInService)

// WithSignInLogger sets the logger.
func WithSignInLogger(l *slog.Logger) SignInOption {
	return func(s *SignInService) { s.logger = l }
}

// WithSignInRecorder sets where sign-in outcomes are counted.
func WithSignInRecorder(r SignInRecorder) SignInOption {
	return func(s *SignInService) { s.recorder = r }
}

// WithTokenLifetimes overrides the session, persistent, and partial token
// lifetimes. Non-positive values keep the defaults.
func WithTokenLifetimes(session, persistent, partial time.Duration) SignInOption {
	return func(s *SignInService) {
		if session > 0 {
			s.lifetime = session
		}
		if persistent > 0 {
			s.persistentLifetime = persistent
		}
		if partial > 0 {
			s.partialLifetime = partial
		}
	}
}

// NewSignInService creates a SignInService.
func NewSignInService(accounts *AccountService, issuer TokenIssuer, opts ...SignInOption) (*SignInService, error) {
	if accounts == nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Errorf("account service is required")
	}
	if issuer == nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Errorf("token issuer is required")
	}
	s := &SignInService{
		accounts:           accounts,
		issuer:             issuer,
		logger:             slog.Default(),
		lifetime:           DefaultTokenLifetime,
		persistentLifetime: DefaultPersistentLifetime,
		partialLifetime:    DefaultPartialTokenLifetime,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func rejected(reason string) error {
	return oops.Code("SIGNIN_REJECTED").With("reason", reason).Errorf("sign-in rejected: %s", reason)
}

// pending reports the step acct still owes before full sign-in.
func (s *SignInService) pending(acct *account.Account) PartialReason {
	switch {
	case acct.RequiresTwoFactorAuthToSignIn():
		return PendingTwoFactor
	case acct.RequiresPasswordReset():
		return PendingPasswordReset
	case acct.HasPasswordExpired(s.accounts.settings.PasswordResetFrequency):
		return PendingPasswordExpired
	}
	return PendingNone
}

// SignIn issues a token for an already authenticated account. Accounts that
// still owe a second factor or a password change get a short-lived partial
// token that carries no username or custom claims.
func (s *SignInService) SignIn(ctx context.Context, acct *account.Account, method string, persistent bool) (*SignInResult, error) {
	if acct == nil {
		return nil, invalidArgument("account", "account is required")
	}
	switch {
	case acct.IsAccountClosed():
		return nil, rejected("account closed")
	case !acct.IsLoginAllowed():
		return nil, rejected("login not allowed")
	case s.accounts.settings.RequireAccountVerification && !acct.IsAccountVerified():
		return nil, rejected("account not verified")
	}

	req := TokenRequest{
		Subject: acct.ID().String(),
		Tenant:  acct.Tenant(),
		Method:  method,
	}
	result := &SignInResult{Account: acct}
	if reason := s.pending(acct); reason != PendingNone {
		req.State = PartiallyAuthenticated
		req.Pending = reason
		req.Lifetime = s.partialLifetime
		result.State = PartiallyAuthenticated
		result.Pending = reason
	} else {
		req.State = FullyAuthenticated
		req.Username = acct.Username()
		req.Claims = acct.Claims()
		req.Lifetime = s.lifetime
		if persistent {
			req.Lifetime = s.persistentLifetime
		}
		result.State = FullyAuthenticated
	}

	token, err := s.issuer.IssueToken(ctx, req)
	if err != nil {
		return nil, oops.Code("SIGNIN_TOKEN_FAILED").
			With("account_id", req.Subject).
			With("state", req.State.String()).
			Wrap(err)
	}
	result.Token = token

	s.logger.InfoContext(ctx, "signed in",
		"account_id", req.Subject,
		"tenant", req.Tenant,
		"state", result.State.String(),
		"pending", string(result.Pending),
		"method", method)
	if s.recorder != nil {
		s.recorder.RecordSignIn(result.State.String())
	}
	return result, nil
}

// SignInWithCredentials authenticates a username or email and signs in. A
// valid rememberToken satisfies an outstanding second factor.
func (s *SignInService) SignInWithCredentials(ctx context.Context, tenant, usernameOrEmail, password, rememberToken string, persistent bool) (*SignInResult, error) {
	acct, ok, err := s.accounts.AuthenticateWithUsernameOrEmail(ctx, tenant, usernameOrEmail, password)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "authenticate").Wrap(err)
	}
	if !ok {
		if s.recorder != nil {
			s.recorder.RecordSignIn(NotAuthenticated.String())
		}
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
	}

	if rememberToken != "" && acct.RequiresTwoFactorAuthToSignIn() {
		remembered, err := s.accounts.AuthenticateWithTwoFactorToken(ctx, acct.ID(), rememberToken)
		if err != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify remembered device").Wrap(err)
		}
		if remembered {
			if acct, err = s.accounts.GetByID(ctx, acct.ID()); err != nil {
				return nil, err
			}
		}
	}
	return s.SignIn(ctx, acct, "password", persistent)
}

// partial resolves a partial token to the account it was issued for.
func (s *SignInService) partial(ctx context.Context, token string, want ...PartialReason) (*Principal, ulid.ULID, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ulid.ULID{}, oops.Code("SIGNIN_TOKEN_EMPTY").Errorf("token cannot be empty")
	}
	p, err := s.issuer.CurrentPrincipal(ctx, token)
	if err != nil {
		return nil, ulid.ULID{}, err
	}
	if p.State != PartiallyAuthenticated {
		return nil, ulid.ULID{}, rejected("token is not a partial sign-in")
	}
	matched := false
	for _, w := range want {
		if p.Pending == w {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ulid.ULID{}, rejected("token is pending " + string(p.Pending))
	}
	id, err := ulid.Parse(p.Subject)
	if err != nil {
		return nil, ulid.ULID{}, oops.Code("SIGNIN_TOKEN_INVALID").With("subject", p.Subject).Wrap(err)
	}
	return p, id, nil
}

// finish revokes the partial token and signs in again from fresh state.
func (s *SignInService) finish(ctx context.Context, partialToken string, id ulid.ULID, method string) (*SignInResult, error) {
	if err := s.issuer.RevokeToken(ctx, partialToken); err != nil {
		return nil, oops.Code("SIGNIN_REVOKE_FAILED").With("account_id", id.String()).Wrap(err)
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SignIn(ctx, acct, method, false)
}

// CompleteTwoFactor answers the mobile or authenticator challenge behind a
// partial token. When rememberDevice is set the result carries a
// remembered-device token.
func (s *SignInService) CompleteTwoFactor(ctx context.Context, partialToken, code string, rememberDevice bool) (*SignInResult, error) {
	_, id, err := s.partial(ctx, partialToken, PendingTwoFactor)
	if err != nil {
		return nil, err
	}
	ok, err := s.accounts.AuthenticateWithCode(ctx, id, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("AUTH_INVALID_CODE").Errorf("invalid two-factor code")
	}
	return s.completeChallenge(ctx, partialToken, id, "two_factor", rememberDevice)
}

// CompleteTwoFactorWithCertificate answers a certificate challenge behind a
// partial token. The certificate must be registered to the token's account.
func (s *SignInService) CompleteTwoFactorWithCertificate(ctx context.Context, partialToken, thumbprint string, rememberDevice bool) (*SignInResult, error) {
	_, id, err := s.partial(ctx, partialToken, PendingTwoFactor)
	if err != nil {
		return nil, err
	}
	ok, err := s.accounts.CompleteCertificateChallenge(ctx, id, strings.TrimSpace(thumbprint))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("AUTH_INVALID_CERTIFICATE").Errorf("invalid certificate")
	}
	return s.completeChallenge(ctx, partialToken, id, "certificate", rememberDevice)
}

func (s *SignInService) completeChallenge(ctx context.Context, partialToken string, id ulid.ULID, method string, rememberDevice bool) (*SignInResult, error) {
	var remember string
	if rememberDevice {
		var err error
		if remember, err = s.accounts.CreateTwoFactorToken(ctx, id); err != nil {
			return nil, err
		}
	}
	result, err := s.finish(ctx, partialToken, id, method)
	if err != nil {
		return nil, err
	}
	result.RememberToken = remember
	return result, nil
}

// CompletePasswordChange changes a forced or expired password using a
// partial token, then signs in.
func (s *SignInService) CompletePasswordChange(ctx context.Context, partialToken, oldPassword, newPassword string) (*SignInResult, error) {
	_, id, err := s.partial(ctx, partialToken, PendingPasswordReset, PendingPasswordExpired)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.ChangePassword(ctx, id, oldPassword, newPassword); err != nil {
		return nil, err
	}
	return s.finish(ctx, partialToken, id, "password_change")
}

// SignOut revokes token. Blank and already revoked tokens succeed.
func (s *SignInService) SignOut(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := s.issuer.RevokeToken(ctx, token); err != nil {
		return oops.Code("SIGNOUT_FAILED").Wrap(err)
	}
	return nil
}
