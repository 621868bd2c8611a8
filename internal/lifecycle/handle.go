// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/spindlehq/warden/internal/provider"
)

// Handle is one session's live connection plus the mutable reconnect
// bookkeeping attached to it. The orchestrator owns the handle; adapters
// never see it.
type Handle struct {
	SessionID  string
	Platform   provider.Platform
	InstanceID string

	// client is swapped on every reconnect attempt; guarded by mu.
	client provider.Client

	// reconnecting is the CAS guard keeping concurrent failure signals
	// from starting two reconnect procedures.
	reconnecting atomic.Bool

	mu sync.Mutex

	// conflictCount tracks remote conflict signals within the current
	// connection's lifetime.
	conflictCount int

	// reconnectTimes is the rolling window used for loop detection.
	reconnectTimes []time.Time

	// longerWait applies the logout penalty to the next backoff wait.
	longerWait bool

	// timer is the pending scheduled reconnect, if any.
	timer *time.Timer

	// stopped marks the handle dead; scheduled callbacks bail out.
	stopped bool

	// stopCh is closed by MarkStopped so in-flight backoff waits cancel
	// without waiting out their timers.
	stopCh chan struct{}
}

func newHandle(sessionID string, platform provider.Platform, instanceID string, client provider.Client) *Handle {
	return &Handle{
		SessionID:  sessionID,
		Platform:   platform,
		InstanceID: instanceID,
		client:     client,
		stopCh:     make(chan struct{}),
	}
}

// Client returns the current connection client.
func (h *Handle) Client() provider.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

// SetClient swaps the connection client after a reconnect.
func (h *Handle) SetClient(c provider.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = c
}

// Connected reports the live state of the current client.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	c := h.client
	h.mu.Unlock()
	return c != nil && c.Connected()
}

// NoteConflict increments and returns the conflict count.
func (h *Handle) NoteConflict() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflictCount++
	return h.conflictCount
}

// SetLongerWait flags the next backoff wait for the logout penalty.
func (h *Handle) SetLongerWait() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.longerWait = true
}

// TakeLongerWait returns and clears the penalty flag.
func (h *Handle) TakeLongerWait() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.longerWait
	h.longerWait = false
	return v
}

// ResetCounters clears the per-connection failure bookkeeping. Called
// after a successful connect so old failures never haunt a healthy
// connection.
func (h *Handle) ResetCounters() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflictCount = 0
	h.longerWait = false
}

// RecordReconnect appends now to the rolling window, prunes entries older
// than window, and returns the count of reconnects inside the window.
func (h *Handle) RecordReconnect(now time.Time, window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-window)
	kept := h.reconnectTimes[:0]
	for _, t := range h.reconnectTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.reconnectTimes = append(kept, now)
	return len(h.reconnectTimes)
}

// BeginReconnect wins or loses the reconnect guard.
func (h *Handle) BeginReconnect() bool {
	return h.reconnecting.CompareAndSwap(false, true)
}

// EndReconnect releases the reconnect guard.
func (h *Handle) EndReconnect() {
	h.reconnecting.Store(false)
}

// Reconnecting reports whether a reconnect procedure is in flight.
func (h *Handle) Reconnecting() bool {
	return h.reconnecting.Load()
}

// Schedule arms a cancellable timer running fn after d. A stopped handle
// refuses to schedule; a pending timer is replaced.
func (h *Handle) Schedule(d time.Duration, fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(d, fn)
	return true
}

// CancelTimer stops any pending scheduled reconnect.
func (h *Handle) CancelTimer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// MarkStopped cancels pending timers, cancels in-flight backoff waits,
// and refuses future scheduling. Idempotent.
func (h *Handle) MarkStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopCh)
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// StopChan returns the channel closed when the handle is stopped.
func (h *Handle) StopChan() <-chan struct{} {
	return h.stopCh
}

// Stopped reports whether MarkStopped was called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
