// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package notify

import (
	"context"
	"log/slog"
	"sort"

	"github.com/latchkey/latchkey/internal/account"
)

// secretFields carry one-time credentials.
var secretFields = map[string]bool{
	account.FieldVerificationKey: true,
	account.FieldCode:            true,
}

// LogSender writes messages to a logger instead of delivering them. Secret
// fields are redacted unless Reveal is set.
type LogSender struct {
	Logger *slog.Logger
	Reveal bool
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		v := msg.Fields[k]
		if secretFields[k] && !s.Reveal {
			v = "[redacted]"
		}
		attrs = append(attrs, slog.String(k, v))
	}

	logger.InfoContext(ctx, "notification",
		"channel", string(msg.Channel),
		"kind", string(msg.Kind),
		"to", msg.To,
		"subject", msg.Subject,
		"account_id", msg.AccountID,
		slog.Group("fields", attrs...),
	)
	return nil
}
