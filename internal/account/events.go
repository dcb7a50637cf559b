// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package account

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies a domain event raised by an Account transition.
type EventType string

// Domain event types.
const (
	EventAccountCreated             EventType = "account_created"
	EventVerificationRequested      EventType = "verification_requested"
	EventAccountVerified            EventType = "account_verified"
	EventVerificationCancelled      EventType = "verification_cancelled"
	EventAccountClosed              EventType = "account_closed"
	EventUsernameChanged            EventType = "username_changed"
	EventUsernameReminderRequested  EventType = "username_reminder_requested"
	EventPasswordChanged            EventType = "password_changed"
	EventPasswordResetRequested     EventType = "password_reset_requested"
	EventPasswordResetSecretAdded   EventType = "password_reset_secret_added"
	EventPasswordResetSecretRemoved EventType = "password_reset_secret_removed"
	EventPasswordResetSecretsFailed EventType = "password_reset_secrets_failed"
	EventEmailChangeRequested       EventType = "email_change_requested"
	EventEmailChanged               EventType = "email_changed"
	EventMobileChangeRequested      EventType = "mobile_change_requested"
	EventMobileChanged              EventType = "mobile_changed"
	EventMobileRemoved              EventType = "mobile_removed"
	EventSuccessfulLogin            EventType = "successful_login"
	EventFailedLogin                EventType = "failed_login"
	EventAccountLocked              EventType = "account_locked"
	EventTwoFactorCodeIssued        EventType = "two_factor_code_issued"
	EventTwoFactorEnabled           EventType = "two_factor_enabled"
	EventTwoFactorDisabled          EventType = "two_factor_disabled"
	EventClaimAdded                 EventType = "claim_added"
	EventClaimRemoved               EventType = "claim_removed"
	EventLinkedAccountAdded         EventType = "linked_account_added"
	EventLinkedAccountRemoved       EventType = "linked_account_removed"
	EventCertificateAdded           EventType = "certificate_added"
	EventCertificateRemoved         EventType = "certificate_removed"

	// EventAccountDeleted is raised by the service layer after a hard
	// delete; the aggregate never raises it itself.
	EventAccountDeleted EventType = "account_deleted"
)

// AllEventTypes lists every event type in declaration order.
var AllEventTypes = []EventType{
	EventAccountCreated,
	EventVerificationRequested,
	EventAccountVerified,
	EventVerificationCancelled,
	EventAccountClosed,
	EventUsernameChanged,
	EventUsernameReminderRequested,
	EventPasswordChanged,
	EventPasswordResetRequested,
	EventPasswordResetSecretAdded,
	EventPasswordResetSecretRemoved,
	EventPasswordResetSecretsFailed,
	EventEmailChangeRequested,
	EventEmailChanged,
	EventMobileChangeRequested,
	EventMobileChanged,
	EventMobileRemoved,
	EventSuccessfulLogin,
	EventFailedLogin,
	EventAccountLocked,
	EventTwoFactorCodeIssued,
	EventTwoFactorEnabled,
	EventTwoFactorDisabled,
	EventClaimAdded,
	EventClaimRemoved,
	EventLinkedAccountAdded,
	EventLinkedAccountRemoved,
	EventCertificateAdded,
	EventCertificateRemoved,
	EventAccountDeleted,
}

// AllowMultiple reports whether more than one event of this type may be
// pending at once. Collection changes may repeat within a single unit of
// work; everything else is recorded at most once.
func (t EventType) AllowMultiple() bool {
	switch t {
	case EventClaimAdded, EventClaimRemoved,
		EventLinkedAccountAdded, EventLinkedAccountRemoved,
		EventCertificateAdded, EventCertificateRemoved,
		EventPasswordResetSecretAdded, EventPasswordResetSecretRemoved:
		return true
	default:
		return false
	}
}

// Event field keys.
const (
	FieldVerificationKey   = "verification_key"
	FieldCode              = "code"
	FieldOldEmail          = "old_email"
	FieldNewEmail          = "new_email"
	FieldOldUsername       = "old_username"
	FieldNewUsername       = "new_username"
	FieldMobilePhone       = "mobile_phone"
	FieldReason            = "reason"
	FieldMethod            = "method"
	FieldPurpose           = "purpose"
	FieldMode              = "mode"
	FieldClaimType         = "claim_type"
	FieldClaimValue        = "claim_value"
	FieldProvider          = "provider"
	FieldProviderAccountID = "provider_account_id"
	FieldThumbprint        = "thumbprint"
	FieldQuestion          = "question"
)

// Failure reasons carried in FieldReason of EventFailedLogin.
const (
	ReasonNotVerified          = "account_not_verified"
	ReasonLoginNotAllowed      = "login_not_allowed"
	ReasonTooManyFailures      = "too_many_recent_failures"
	ReasonInvalidPassword      = "invalid_password"
	ReasonInvalidTwoFactorCode = "invalid_two_factor_code"
	ReasonInvalidCertificate   = "invalid_certificate"
)

// Event is a domain event raised by an Account transition.
type Event struct {
	ID         ulid.ULID
	Type       EventType
	Account    *Account
	OccurredAt time.Time
	Fields     map[string]string
}

// Field returns the named field or "".
func (e Event) Field(key string) string {
	return e.Fields[key]
}

// NewEvent builds an event for acct outside of an aggregate transition.
func NewEvent(t EventType, acct *Account, at time.Time, fields map[string]string) Event {
	if fields == nil {
		fields = map[string]string{}
	}
	return Event{
		ID:         ulid.Make(),
		Type:       t,
		Account:    acct,
		OccurredAt: at.UTC(),
		Fields:     fields,
	}
}

// raise records a pending event. Event types that do not allow multiples
// are recorded once per unit of work.
func (a *Account) raise(t EventType, kv ...string) {
	if !t.AllowMultiple() {
		for _, ev := range a.events {
			if ev.Type == t {
				return
			}
		}
	}
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	a.events = append(a.events, NewEvent(t, a, a.env.now(), fields))
}

// PendingEvents returns a copy of the events raised since the last drain.
func (a *Account) PendingEvents() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// PullEvents returns and clears the pending events.
func (a *Account) PullEvents() []Event {
	out := a.events
	a.events = nil
	return out
}
