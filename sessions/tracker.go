// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessions tracks which identities are currently active within a
// sliding time window, backing the active-users gauge.
package sessions

import (
	"sync"
	"time"
)

// DefaultTimeout is the window after which an idle identity stops
// counting as active.
const DefaultTimeout = 15 * time.Minute

// Tracker maintains last-seen timestamps per identity.
//
// Description:
//
//	Touch refreshes an identity's last-seen time; Count returns the
//	number of identities seen within the timeout window. Eviction is
//	folded into both operations (lazy): there is no background sweep, and
//	the count is never stale by more than one timeout window at the
//	moment it is read.
//
// Thread Safety: Safe for concurrent use. A Touch that has returned is
// visible to any subsequent Count.
type Tracker struct {
	timeout time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given activity window. A
// non-positive timeout falls back to DefaultTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		timeout:  timeout,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Touch records activity for an identity, then evicts expired entries.
func (t *Tracker) Touch(identity string) {
	if identity == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.lastSeen[identity] = now
	t.evictLocked(now)
}

// Count evicts expired entries and returns the number of identities still
// inside the activity window.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(t.now())
	return len(t.lastSeen)
}

// Timeout returns the configured activity window.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// evictLocked removes entries strictly older than the timeout window.
// An entry aged exactly timeout is still counted. Caller holds t.mu.
func (t *Tracker) evictLocked(now time.Time) {
	for id, last := range t.lastSeen {
		if now.Sub(last) > t.timeout {
			delete(t.lastSeen, id)
		}
	}
}
