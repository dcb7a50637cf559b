// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import "strings"

// Claims returns the account's claims.
func (a *Account) Claims() []Claim {
	out := make([]Claim, len(a.claims))
	copy(out, a.claims)
	return out
}

// HasClaim reports whether the exact type/value pair is present.
func (a *Account) HasClaim(claimType, value string) bool {
	for _, c := range a.claims {
		if c.Type == claimType && c.Value == value {
			return true
		}
	}
	return false
}

// AddClaim adds a claim. Duplicate pairs are ignored.
func (a *Account) AddClaim(claimType, value string) bool {
	if a.isAccountClosed || claimType == "" || a.HasClaim(claimType, value) {
		return false
	}
	a.claims = append(a.claims, Claim{Type: claimType, Value: value})
	a.touch()
	a.raise(EventClaimAdded, FieldClaimType, claimType, FieldClaimValue, value)
	return true
}

// RemoveClaim removes matching claims. An empty value removes every claim
// of claimType.
func (a *Account) RemoveClaim(claimType, value string) bool {
	if a.isAccountClosed {
		return false
	}
	kept := a.claims[:0]
	removed := false
	for _, c := range a.claims {
		if c.Type == claimType && (value == "" || c.Value == value) {
			removed = true
			a.raise(EventClaimRemoved, FieldClaimType, c.Type, FieldClaimValue, c.Value)
			continue
		}
		kept = append(kept, c)
	}
	a.claims = kept
	if removed {
		a.touch()
	}
	return removed
}

// LinkedAccounts returns the external identities linked to this account.
func (a *Account) LinkedAccounts() []LinkedAccount {
	if len(a.linkedAccounts) == 0 {
		return nil
	}
	out := make([]LinkedAccount, len(a.linkedAccounts))
	for i, la := range a.linkedAccounts {
		out[i] = la
		out[i].Claims = append([]Claim(nil), la.Claims...)
	}
	return out
}

func (a *Account) linkedIndex(provider, providerAccountID string) int {
	for i, la := range a.linkedAccounts {
		if strings.EqualFold(la.ProviderName, provider) && la.ProviderAccountID == providerAccountID {
			return i
		}
	}
	return -1
}

// AddOrUpdateLinkedAccount links an external identity, or refreshes its
// claims and last-login time when already linked.
func (a *Account) AddOrUpdateLinkedAccount(provider, providerAccountID string, claims []Claim) bool {
	if a.isAccountClosed || provider == "" || providerAccountID == "" {
		return false
	}
	now := a.env.now()
	claims = append([]Claim(nil), claims...)
	if i := a.linkedIndex(provider, providerAccountID); i >= 0 {
		a.linkedAccounts[i].LastLogin = now
		a.linkedAccounts[i].Claims = claims
		a.touch()
		return true
	}
	a.linkedAccounts = append(a.linkedAccounts, LinkedAccount{
		ProviderName:      provider,
		ProviderAccountID: providerAccountID,
		LastLogin:         now,
		Claims:            claims,
	})
	a.touch()
	a.raise(EventLinkedAccountAdded, FieldProvider, provider, FieldProviderAccountID, providerAccountID)
	return true
}

// RemoveLinkedAccount unlinks an external identity.
func (a *Account) RemoveLinkedAccount(provider, providerAccountID string) bool {
	if a.isAccountClosed {
		return false
	}
	i := a.linkedIndex(provider, providerAccountID)
	if i < 0 {
		return false
	}
	la := a.linkedAccounts[i]
	a.linkedAccounts = append(a.linkedAccounts[:i], a.linkedAccounts[i+1:]...)
	a.touch()
	a.raise(EventLinkedAccountRemoved, FieldProvider, la.ProviderName, FieldProviderAccountID, la.ProviderAccountID)
	return true
}

// Certificates returns the registered client certificates.
func (a *Account) Certificates() []Certificate {
	out := make([]Certificate, len(a.certificates))
	copy(out, a.certificates)
	return out
}

// HasCertificate reports whether thumbprint is registered.
func (a *Account) HasCertificate(thumbprint string) bool {
	for _, c := range a.certificates {
		if strings.EqualFold(c.Thumbprint, thumbprint) {
			return true
		}
	}
	return false
}

// AddCertificate registers a client certificate.
func (a *Account) AddCertificate(thumbprint, subject string) bool {
	thumbprint = strings.TrimSpace(thumbprint)
	if a.isAccountClosed || thumbprint == "" || a.HasCertificate(thumbprint) {
		return false
	}
	a.certificates = append(a.certificates, Certificate{Thumbprint: thumbprint, Subject: subject})
	a.touch()
	a.raise(EventCertificateAdded, FieldThumbprint, thumbprint)
	return true
}

// RemoveCertificate unregisters a client certificate. Removing the last
// certificate disables certificate two-factor.
func (a *Account) RemoveCertificate(thumbprint string) bool {
	if a.isAccountClosed {
		return false
	}
	for i, c := range a.certificates {
		if strings.EqualFold(c.Thumbprint, thumbprint) {
			a.certificates = append(a.certificates[:i], a.certificates[i+1:]...)
			a.touch()
			a.raise(EventCertificateRemoved, FieldThumbprint, c.Thumbprint)
			if len(a.certificates) == 0 && a.twoFactorMode == TwoFactorCertificate {
				a.setTwoFactorMode(TwoFactorNone)
			}
			return true
		}
	}
	return false
}
