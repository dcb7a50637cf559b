// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"strings"

	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/secret"
)

func (a *Account) setVerificationKey(purpose VerificationPurpose, storage string) (string, error) {
	key, err := secret.GenerateKey()
	if err != nil {
		return "", oops.Code("VERIFICATION_KEY_FAILED").Wrap(err)
	}
	a.verificationKey = key
	a.verificationPurpose = purpose
	a.verificationKeySent = a.nowPtr()
	a.verificationStorage = storage
	a.touch()
	return key, nil
}

func (a *Account) clearVerificationKey() {
	a.verificationKey = ""
	a.verificationPurpose = PurposeNone
	a.verificationKeySent = nil
	a.verificationStorage = ""
}

// emailBinding is the value stored alongside a ChangeEmail key so the key
// only confirms the address it was issued for.
func emailBinding(email string) string {
	return secret.Hash(strings.ToLower(strings.TrimSpace(email)))
}

// VerifyAccount consumes a VerifyAccount key. Account verification keys do
// not go stale.
func (a *Account) VerifyAccount(key string) bool {
	if key == "" || a.isAccountClosed || a.isAccountVerified {
		return false
	}
	if a.verificationPurpose != PurposeVerifyAccount || !secret.SlowEquals(key, a.verificationKey) {
		return false
	}
	a.isAccountVerified = true
	a.clearVerificationKey()
	a.touch()
	a.raise(EventAccountVerified)
	return true
}

// RequestAccountVerification re-sends the verification key for an
// unverified account, issuing a new one when the current key is stale.
func (a *Account) RequestAccountVerification() (bool, error) {
	if a.isAccountClosed || a.isAccountVerified {
		return false, nil
	}
	key := a.verificationKey
	if a.verificationPurpose != PurposeVerifyAccount || a.IsVerificationKeyStale() {
		var err error
		if key, err = a.setVerificationKey(PurposeVerifyAccount, ""); err != nil {
			return false, err
		}
	}
	a.raise(EventVerificationRequested, FieldVerificationKey, key)
	return true, nil
}

// CancelVerification discards the outstanding key when key matches. When
// the key was the initial account verification, the account is closed: the
// owner of the address never asked for it.
func (a *Account) CancelVerification(key string) bool {
	if key == "" || a.isAccountClosed || a.verificationPurpose == PurposeNone {
		return false
	}
	if !secret.SlowEquals(key, a.verificationKey) {
		return false
	}
	purpose := a.verificationPurpose
	a.clearVerificationKey()
	a.mobileCode = ""
	a.mobileCodeSent = nil
	a.touch()
	a.raise(EventVerificationCancelled, FieldPurpose, purpose.String())
	if purpose == PurposeVerifyAccount && !a.isAccountVerified {
		a.CloseAccount()
	}
	return true
}

// ChangeEmailRequest issues a ChangeEmail key bound to newEmail. Repeating
// the request for the same address while the key is fresh re-sends the
// existing key.
func (a *Account) ChangeEmailRequest(newEmail string) (bool, error) {
	newEmail = strings.TrimSpace(newEmail)
	if a.isAccountClosed || !a.isAccountVerified || newEmail == "" {
		return false, nil
	}
	if strings.EqualFold(newEmail, a.email) {
		return false, nil
	}
	binding := emailBinding(newEmail)
	key := a.verificationKey
	if a.verificationPurpose != PurposeChangeEmail || a.IsVerificationKeyStale() ||
		!secret.SlowEquals(binding, a.verificationStorage) {
		var err error
		if key, err = a.setVerificationKey(PurposeChangeEmail, binding); err != nil {
			return false, err
		}
	}
	a.raise(EventEmailChangeRequested, FieldVerificationKey, key, FieldNewEmail, newEmail)
	return true, nil
}

// ChangeEmailFromKey confirms a pending email change. The key must have been
// issued for newEmail.
func (a *Account) ChangeEmailFromKey(key, newEmail string) bool {
	newEmail = strings.TrimSpace(newEmail)
	if newEmail == "" || !a.keyMatches(key, PurposeChangeEmail) {
		return false
	}
	if !secret.SlowEquals(emailBinding(newEmail), a.verificationStorage) {
		return false
	}
	old := a.email
	a.email = newEmail
	a.clearVerificationKey()
	a.touch()
	a.raise(EventEmailChanged, FieldOldEmail, old, FieldNewEmail, newEmail)
	return true
}

// IsMobileCodeStale reports whether the texted code has expired.
func (a *Account) IsMobileCodeStale() bool {
	if a.mobileCodeSent == nil || a.mobileCode == "" {
		return true
	}
	return a.mobileCodeSent.Before(a.env.now().Add(-MobileCodeStaleDuration))
}

// CanResendMobileCode reports whether enough time has passed to text a new code.
func (a *Account) CanResendMobileCode() bool {
	if a.mobileCodeSent == nil || a.mobileCode == "" {
		return true
	}
	return !a.mobileCodeSent.After(a.env.now().Add(-MobileCodeResendDelay))
}

func (a *Account) issueMobileCode() (string, error) {
	code, err := secret.GenerateNumericCode(MobileCodeDigits)
	if err != nil {
		return "", oops.Code("MOBILE_CODE_FAILED").Wrap(err)
	}
	a.mobileCode = secret.Hash(code)
	a.mobileCodeSent = a.nowPtr()
	a.touch()
	return code, nil
}

func (a *Account) mobileCodeMatches(code string) bool {
	if code == "" || a.IsMobileCodeStale() {
		return false
	}
	return secret.SlowEquals(secret.Hash(code), a.mobileCode)
}

func (a *Account) clearMobileCode() {
	a.mobileCode = ""
	a.mobileCodeSent = nil
}

// ChangeMobileRequest texts a confirmation code to phone. A request for the
// same number inside MobileCodeResendDelay does not text again.
func (a *Account) ChangeMobileRequest(phone string) (bool, error) {
	phone = strings.TrimSpace(phone)
	if a.isAccountClosed || phone == "" || phone == a.mobilePhone {
		return false, nil
	}
	if a.verificationPurpose == PurposeChangeMobile && a.verificationStorage == phone && !a.CanResendMobileCode() {
		return true, nil
	}
	if _, err := a.setVerificationKey(PurposeChangeMobile, phone); err != nil {
		return false, err
	}
	code, err := a.issueMobileCode()
	if err != nil {
		return false, err
	}
	a.raise(EventMobileChangeRequested, FieldMobilePhone, phone, FieldCode, code)
	return true, nil
}

// ChangeMobileFromCode confirms a pending mobile change with the texted code.
func (a *Account) ChangeMobileFromCode(code string) bool {
	if a.isAccountClosed || a.verificationPurpose != PurposeChangeMobile {
		return false
	}
	if !a.mobileCodeMatches(code) {
		return false
	}
	a.mobilePhone = a.verificationStorage
	a.mobilePhoneChanged = a.nowPtr()
	a.clearVerificationKey()
	a.clearMobileCode()
	a.touch()
	a.raise(EventMobileChanged, FieldMobilePhone, a.mobilePhone)
	return true
}

// RemoveMobilePhone clears the mobile number, disabling mobile two-factor.
func (a *Account) RemoveMobilePhone() bool {
	if a.isAccountClosed || a.mobilePhone == "" {
		return false
	}
	if a.twoFactorMode == TwoFactorMobile {
		a.setTwoFactorMode(TwoFactorNone)
	}
	a.mobilePhone = ""
	a.mobilePhoneChanged = a.nowPtr()
	a.clearMobileCode()
	a.touch()
	a.raise(EventMobileRemoved)
	return true
}
