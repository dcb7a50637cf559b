// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package notify turns account events into out-of-band messages.
//
// Rendering and delivery belong to a Sender. Delivery failures are logged
// and never propagate: by the time a message is sent the account change it
// describes is already stored.
package notify

import (
	"context"
	"log/slog"
	"maps"
	"sort"

	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/eventbus"
	"github.com/latchkey/latchkey/pkg/errutil"
)

// Channel is the medium a message travels on.
type Channel string

// Channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Fields added to every message.
const (
	FieldUsername = "username"
	FieldTenant   = "tenant"
)

// Message is the data a Sender needs to render and deliver one notification.
type Message struct {
	Channel   Channel
	Kind      account.EventType
	To        string
	Subject   string
	AccountID string
	Fields    map[string]string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type route struct {
	channel Channel
	subject string
	// toNew sends to the address carried in the event rather than the
	// account's current one.
	toNew bool
}

var routes = map[account.EventType]route{
	account.EventAccountCreated:            {channel: ChannelEmail, subject: "Welcome"},
	account.EventVerificationRequested:     {channel: ChannelEmail, subject: "Verify your account"},
	account.EventAccountVerified:           {channel: ChannelEmail, subject: "Account verified"},
	account.EventAccountClosed:             {channel: ChannelEmail, subject: "Account closed"},
	account.EventAccountLocked:             {channel: ChannelEmail, subject: "Too many sign-in attempts"},
	account.EventUsernameChanged:           {channel: ChannelEmail, subject: "Username changed"},
	account.EventUsernameReminderRequested: {channel: ChannelEmail, subject: "Username reminder"},
	account.EventPasswordChanged:           {channel: ChannelEmail, subject: "Password changed"},
	account.EventPasswordResetRequested:    {channel: ChannelEmail, subject: "Password reset requested"},
	account.EventEmailChangeRequested:      {channel: ChannelEmail, subject: "Confirm your new email", toNew: true},
	account.EventEmailChanged:              {channel: ChannelEmail, subject: "Email changed"},
	account.EventMobileChangeRequested:     {channel: ChannelSMS, subject: "Confirm your mobile number", toNew: true},
	account.EventMobileChanged:             {channel: ChannelEmail, subject: "Mobile number changed"},
	account.EventTwoFactorCodeIssued:       {channel: ChannelSMS, subject: "Sign-in code"},
	account.EventTwoFactorEnabled:          {channel: ChannelEmail, subject: "Two-factor authentication enabled"},
	account.EventTwoFactorDisabled:         {channel: ChannelEmail, subject: "Two-factor authentication disabled"},
}

// Kinds returns the event types that produce messages, sorted.
func Kinds() []account.EventType {
	out := make([]account.EventType, 0, len(routes))
	for t := range routes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handler converts events to messages and hands them to a Sender.
type Handler struct {
	sender Sender
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger means slog.Default().
func NewHandler(sender Sender, logger *slog.Logger) (*Handler, error) {
	if sender == nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Errorf("notify: sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sender: sender, logger: logger}, nil
}

// Register subscribes h to every event type it renders.
func (h *Handler) Register(bus *eventbus.Bus) {
	for _, t := range Kinds() {
		bus.Subscribe(t, "notify", h.Handle)
	}
}

// Build returns the message for event, or false when the event has no
// message or no destination.
func Build(event account.Event) (Message, bool) {
	r, ok := routes[event.Type]
	if !ok || event.Account == nil {
		return Message{}, false
	}
	acct := event.Account

	to := acct.Email()
	switch {
	case r.toNew && r.channel == ChannelEmail:
		to = event.Field(account.FieldNewEmail)
	case r.channel == ChannelSMS:
		to = event.Field(account.FieldMobilePhone)
		if to == "" {
			to = acct.MobilePhone()
		}
	case event.Type == account.EventEmailChanged:
		// Tell the address that lost access.
		to = event.Field(account.FieldOldEmail)
	}
	if to == "" {
		return Message{}, false
	}

	fields := make(map[string]string, len(event.Fields)+2)
	maps.Copy(fields, event.Fields)
	fields[FieldUsername] = acct.Username()
	fields[FieldTenant] = acct.Tenant()

	return Message{
		Channel:   r.channel,
		Kind:      event.Type,
		To:        to,
		Subject:   r.subject,
		AccountID: acct.ID().String(),
		Fields:    fields,
	}, true
}

// Handle sends the message for event. It always returns nil.
func (h *Handler) Handle(ctx context.Context, event account.Event) error {
	msg, ok := Build(event)
	if !ok {
		return nil
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		errutil.LogError(h.logger, "notification delivery failed",
			oops.With("kind", string(msg.Kind)).With("channel", string(msg.Channel)).With("account_id", msg.AccountID).Wrap(err))
	}
	return nil
}
