// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package failure classifies connection errors and computes reconnect
// backoff. Both halves are pure: no I/O, no clocks, no globals, so they are
// unit-testable without a live network connection.
package failure

import (
	"sync"

	"github.com/spindlehq/warden/internal/provider"
)

// Kind is the failure taxonomy the lifecycle core acts on.
type Kind int

const (
	// KindTransient self-heals or is retried by the reconnect path; never
	// escalated on its own.
	KindTransient Kind = iota

	// KindUnauthorized is an expired or invalid credential; triggers
	// reconnect with the stored credential.
	KindUnauthorized

	// KindConflict means another live instance holds the same credential on
	// the remote network.
	KindConflict

	// KindLoggedOut is a remote-initiated forced logout, expected as the
	// side effect of conflict resolution performed by this process.
	KindLoggedOut

	// KindFatal is unrecoverable; escalated immediately without reconnect.
	KindFatal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindLoggedOut:
		return "logged_out"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps structured provider error codes to failure kinds.
// Each platform adapter registers its own table at startup; codes absent
// from a table fall back to KindTransient, the safe log-only default.
type Classifier struct {
	mu     sync.RWMutex
	tables map[provider.Platform]map[provider.ErrorCode]Kind
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		tables: make(map[provider.Platform]map[provider.ErrorCode]Kind),
	}
}

// Register installs the code table for a platform, replacing any previous
// registration. The table is copied; the caller's map is not retained.
func (c *Classifier) Register(platform provider.Platform, table map[provider.ErrorCode]Kind) {
	cp := make(map[provider.ErrorCode]Kind, len(table))
	for code, kind := range table {
		cp[code] = kind
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[platform] = cp
}

// Classify maps err to a Kind using the table registered for platform.
// A nil error, an unregistered platform, or an unmapped code all yield
// KindTransient.
func (c *Classifier) Classify(platform provider.Platform, err error) Kind {
	if err == nil {
		return KindTransient
	}

	code := provider.CodeOf(err)

	c.mu.RLock()
	defer c.mu.RUnlock()

	table, ok := c.tables[platform]
	if !ok {
		return KindTransient
	}
	kind, ok := table[code]
	if !ok {
		return KindTransient
	}
	return kind
}
