// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/eventbus"
	"github.com/latchkey/latchkey/internal/notify"
	"github.com/latchkey/latchkey/internal/secret"
)

var at = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newAccount(t *testing.T, email string) *account.Account {
	t.Helper()
	env := account.Env{Now: func() time.Time { return at }, Hasher: &secret.Hasher{Iterations: 1000}}
	acct, err := account.New(env, "default", "alice", "correct horse", email)
	require.NoError(t, err)
	return acct
}

type captureSender struct {
	sent []notify.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg notify.Message) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func TestBuild_AccountCreated(t *testing.T) {
	acct := newAccount(t, "alice@example.com")
	events := acct.PullEvents()
	require.Len(t, events, 1)

	msg, ok := notify.Build(events[0])
	require.True(t, ok)
	assert.Equal(t, notify.ChannelEmail, msg.Channel)
	assert.Equal(t, account.EventAccountCreated, msg.Kind)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, acct.ID().String(), msg.AccountID)
	assert.Equal(t, acct.VerificationKey(), msg.Fields[account.FieldVerificationKey])
	assert.Equal(t, "alice", msg.Fields[notify.FieldUsername])
	assert.Equal(t, "default", msg.Fields[notify.FieldTenant])
}

func TestBuild_Destinations(t *testing.T) {
	acct := newAccount(t, "alice@example.com")

	tests := []struct {
		name   string
		event  account.Event
		wantTo string
		wantOK bool
	}{
		{
			name: "email change goes to the new address",
			event: account.NewEvent(account.EventEmailChangeRequested, acct, at,
				map[string]string{account.FieldNewEmail: "new@example.com"}),
			wantTo: "new@example.com", wantOK: true,
		},
		{
			name: "email changed goes to the old address",
			event: account.NewEvent(account.EventEmailChanged, acct, at,
				map[string]string{account.FieldOldEmail: "old@example.com", account.FieldNewEmail: "alice@example.com"}),
			wantTo: "old@example.com", wantOK: true,
		},
		{
			name: "mobile change goes to the new phone",
			event: account.NewEvent(account.EventMobileChangeRequested, acct, at,
				map[string]string{account.FieldMobilePhone: "+15550100"}),
			wantTo: "+15550100", wantOK: true,
		},
		{
			name:   "sms without a phone is dropped",
			event:  account.NewEvent(account.EventTwoFactorCodeIssued, acct, at, nil),
			wantOK: false,
		},
		{
			name:   "events without a route are dropped",
			event:  account.NewEvent(account.EventClaimAdded, acct, at, nil),
			wantOK: false,
		},
		{
			name:   "events without an account are dropped",
			event:  account.NewEvent(account.EventPasswordChanged, nil, at, nil),
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := notify.Build(tt.event)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTo, msg.To)
		})
	}
}

func TestBuild_NoEmailNoMessage(t *testing.T) {
	acct := newAccount(t, "")
	_, ok := notify.Build(acct.PullEvents()[0])
	assert.False(t, ok)
}

func TestHandler_SwallowsDeliveryErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sender := &captureSender{err: errors.New("smtp down")}
	h, err := notify.NewHandler(sender, logger)
	require.NoError(t, err)

	bus := eventbus.New()
	h.Register(bus)

	acct := newAccount(t, "alice@example.com")
	acct.AddClaim("role", "admin")
	require.NoError(t, bus.Publish(context.Background(), acct.PullEvents()...))

	require.Len(t, sender.sent, 1, "claim events have no message")
	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "smtp down")
}

func TestNewHandler_RequiresSender(t *testing.T) {
	_, err := notify.NewHandler(nil, nil)
	require.Error(t, err)
}

func TestLogSender_RedactsSecrets(t *testing.T) {
	msg := notify.Message{
		Channel: notify.ChannelEmail,
		Kind:    account.EventPasswordResetRequested,
		To:      "alice@example.com",
		Fields:  map[string]string{account.FieldVerificationKey: "k3y", notify.FieldUsername: "alice"},
	}

	var buf bytes.Buffer
	require.NoError(t, notify.LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}.Send(context.Background(), msg))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[redacted]", fields[account.FieldVerificationKey])
	assert.Equal(t, "alice", fields[notify.FieldUsername])
	assert.Equal(t, "password_reset_requested", entry["kind"])

	buf.Reset()
	require.NoError(t, notify.LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil)), Reveal: true}.Send(context.Background(), msg))
	assert.Contains(t, buf.String(), "k3y")
}

func TestKinds_Sorted(t *testing.T) {
	kinds := notify.Kinds()
	require.NotEmpty(t, kinds)
	for i := 1; i < len(kinds); i++ {
		assert.Less(t, kinds[i-1], kinds[i])
	}
}
