// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package auth

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/secret"
)

// TOTPIssuer labels authenticator entries.
const TOTPIssuer = "Latchkey"

// ConfigureTwoFactor selects the second factor for future sign-ins.
func (s *AccountService) ConfigureTwoFactor(ctx context.Context, id ulid.ULID, mode account.TwoFactorMode) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if acct.ConfigureTwoFactor(mode) {
			return nil
		}
		switch mode {
		case account.TwoFactorMobile:
			return invalid("A confirmed mobile phone number is required.")
		case account.TwoFactorCertificate:
			return invalid("A registered certificate is required.")
		case account.TwoFactorTimeBasedToken:
			return invalid("An enrolled authenticator is required.")
		}
		return invalid("Two-factor mode is not available.")
	})
}

// SendTwoFactorCode re-sends the code for an outstanding mobile challenge.
// Requests inside the resend delay are absorbed.
func (s *AccountService) SendTwoFactorCode(ctx context.Context, id ulid.ULID) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if acct.CurrentTwoFactorStatus() != account.TwoFactorMobile {
			return invalid("No mobile two-factor challenge is outstanding.")
		}
		_, err := acct.BeginTwoFactorChallenge()
		return err
	})
}

// BeginTOTPEnrollment returns a fresh authenticator secret and its
// provisioning URI. Nothing is stored until EnableTOTP confirms it.
func (s *AccountService) BeginTOTPEnrollment(ctx context.Context, id ulid.ULID) (string, string, error) {
	acct, err := s.load(ctx, id)
	if err != nil {
		return "", "", err
	}
	if acct.IsAccountClosed() {
		return "", "", invalid("Account is closed.")
	}
	key, err := secret.GenerateTOTPSecret()
	if err != nil {
		return "", "", err
	}
	label := acct.Username()
	if s.settings.MultiTenant {
		label = acct.Tenant() + "/" + label
	}
	return key, secret.TOTPProvisioningURI(TOTPIssuer, label, key), nil
}

// EnableTOTP enrolls an authenticator once code proves the secret works.
func (s *AccountService) EnableTOTP(ctx context.Context, id ulid.ULID, totpSecret, code string) error {
	return s.mutate(ctx, id, func(acct *account.Account) error {
		if !acct.EnrollTOTP(totpSecret, code) {
			return invalid("Invalid authenticator code.")
		}
		return nil
	})
}

// DisableTOTP removes the authenticator. Accounts without one are left
// unchanged.
func (s *AccountService) DisableTOTP(ctx context.Context, id ulid.ULID) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemoveTOTP() {
		return nil
	}
	return s.save(ctx, acct)
}

// AddCertificate registers a client certificate. A thumbprint can belong to
// only one account per tenant.
func (s *AccountService) AddCertificate(ctx context.Context, id ulid.ULID, thumbprint, subject string) error {
	thumbprint = strings.TrimSpace(thumbprint)
	if thumbprint == "" {
		return invalid("Thumbprint is required.")
	}
	return s.mutate(ctx, id, func(acct *account.Account) error {
		owner, err := s.GetByCertificate(ctx, acct.Tenant(), thumbprint)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID() != acct.ID() {
			return invalid("Certificate already in use.")
		}
		if !acct.AddCertificate(thumbprint, subject) {
			return invalid("Certificate is already registered.")
		}
		return nil
	})
}

// RemoveCertificate unregisters a client certificate. Unknown thumbprints
// are ignored.
func (s *AccountService) RemoveCertificate(ctx context.Context, id ulid.ULID, thumbprint string) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemoveCertificate(thumbprint) {
		return nil
	}
	return s.save(ctx, acct)
}

// AddOrUpdateLinkedAccount links an external identity or refreshes its
// claims. An identity can be linked to only one account per tenant.
func (s *AccountService) AddOrUpdateLinkedAccount(ctx context.Context, id ulid.ULID, provider, providerAccountID string, claims []account.Claim) error {
	switch {
	case strings.TrimSpace(provider) == "":
		return invalid("Provider is required.")
	case strings.TrimSpace(providerAccountID) == "":
		return invalid("Provider account ID is required.")
	}
	return s.mutate(ctx, id, func(acct *account.Account) error {
		owner, err := s.GetByLinkedAccount(ctx, acct.Tenant(), provider, providerAccountID)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID() != acct.ID() {
			return invalid("That external account is linked to another account.")
		}
		if !acct.AddOrUpdateLinkedAccount(provider, providerAccountID, claims) {
			return invalid("Account is closed.")
		}
		return nil
	})
}

// RemoveLinkedAccount unlinks an external identity. Unknown identities are
// ignored.
func (s *AccountService) RemoveLinkedAccount(ctx context.Context, id ulid.ULID, provider, providerAccountID string) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemoveLinkedAccount(provider, providerAccountID) {
		return nil
	}
	return s.save(ctx, acct)
}

// AddClaim attaches a claim. Duplicates are ignored.
func (s *AccountService) AddClaim(ctx context.Context, id ulid.ULID, claimType, value string) error {
	if strings.TrimSpace(claimType) == "" {
		return invalid("Claim type is required.")
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.AddClaim(claimType, value) {
		return nil
	}
	return s.save(ctx, acct)
}

// RemoveClaim detaches matching claims. An empty value removes every claim
// of claimType.
func (s *AccountService) RemoveClaim(ctx context.Context, id ulid.ULID, claimType, value string) error {
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !acct.RemoveClaim(claimType, value) {
		return nil
	}
	return s.save(ctx, acct)
}
