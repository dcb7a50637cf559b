// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package token

import (
	"context"
	"sync"
	"time"
)

// MemoryRevocations keeps revoked token IDs in process. Entries are pruned
// once their TTL has passed.
type MemoryRevocations struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations creates an empty store. A nil now uses time.Now.
func NewMemoryRevocations(now func() time.Time) *MemoryRevocations {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocations{expires: make(map[string]time.Time), now: now}
}

// Revoke marks tokenID revoked for ttl.
func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.prune(now)
	m.expires[tokenID] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether tokenID is revoked.
func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.expires[tokenID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.expires, tokenID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of live entries.
func (m *MemoryRevocations) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())
	return len(m.expires)
}

func (m *MemoryRevocations) prune(now time.Time) {
	for id, until := range m.expires {
		if !now.Before(until) {
			delete(m.expires, id)
		}
	}
}

var _ Revocations = (*MemoryRevocations)(nil)
