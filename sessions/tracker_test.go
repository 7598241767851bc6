// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the tracker's notion of time in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(timeout time.Duration) (*Tracker, *fakeClock) {
	clock := newFakeClock()
	tracker := NewTracker(timeout)
	tracker.now = clock.Now
	return tracker, clock
}

func TestNewTracker_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewTracker(0).Timeout())
	assert.Equal(t, DefaultTimeout, NewTracker(-time.Second).Timeout())
	assert.Equal(t, time.Minute, NewTracker(time.Minute).Timeout())
}

// TestTracker_WindowedCardinality: count equals distinct identities
// touched within the window.
func TestTracker_WindowedCardinality(t *testing.T) {
	tracker, clock := newTestTracker(10 * time.Minute)

	tracker.Touch("user-1")
	tracker.Touch("user-2")
	tracker.Touch("user-1") // refresh, not a new identity

	assert.Equal(t, 2, tracker.Count())

	clock.Advance(6 * time.Minute)
	tracker.Touch("user-3")

	assert.Equal(t, 3, tracker.Count())

	// user-1 and user-2 age out, user-3 survives.
	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, tracker.Count())
}

// TestTracker_CountIdempotent: back-to-back reads with no touches and no
// time movement agree.
func TestTracker_CountIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	tracker.Touch("a")
	tracker.Touch("b")

	first := tracker.Count()
	second := tracker.Count()
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first)
}

// TestTracker_EvictionBoundary pins the window edge: an entry aged
// exactly timeout is counted, one epsilon past it is not.
func TestTracker_EvictionBoundary(t *testing.T) {
	const timeout = 15 * time.Minute
	tracker, clock := newTestTracker(timeout)

	tracker.Touch("edge")

	clock.Advance(timeout - time.Nanosecond)
	assert.Equal(t, 1, tracker.Count(), "inside the window")

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, tracker.Count(), "exactly at the window edge")

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 0, tracker.Count(), "past the window edge")
}

// TestTracker_TouchEvicts verifies eviction also runs on the write path.
func TestTracker_TouchEvicts(t *testing.T) {
	tracker, clock := newTestTracker(time.Minute)

	tracker.Touch("old")
	clock.Advance(2 * time.Minute)
	tracker.Touch("new")

	// "old" was evicted during the second Touch, before any Count.
	tracker.mu.Lock()
	_, stillThere := tracker.lastSeen["old"]
	tracker.mu.Unlock()
	assert.False(t, stillThere)

	assert.Equal(t, 1, tracker.Count())
}

func TestTracker_EmptyIdentityIgnored(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	tracker.Touch("")
	assert.Equal(t, 0, tracker.Count())
}

// TestTracker_ConcurrentTouchDedup: 100 concurrent touches of one
// identity count as one active session.
func TestTracker_ConcurrentTouchDedup(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Touch("user-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tracker.Count())
}

func TestTracker_ConcurrentMixedAccess(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Touch(fmt.Sprintf("user-%d", n))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = tracker.Count()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 20, tracker.Count())
}
