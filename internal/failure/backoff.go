// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package failure

import "time"

// BackoffPolicy is a stateless reconnect wait calculator.
//
// The wait grows linearly with the attempt count and is capped at MaxWait.
// When the caller performed a remote forced logout before reconnecting,
// LogoutPenalty is added on top: remote networks need time to propagate the
// eviction, and reconnecting too early just reproduces the conflict.
type BackoffPolicy struct {
	// BaseStep is multiplied by the attempt count. Default: 2s.
	BaseStep time.Duration

	// MaxWait caps the attempt-scaled portion of the wait. Default: 10s.
	MaxWait time.Duration

	// LogoutPenalty is added when longerWait is requested. Default: 5s.
	LogoutPenalty time.Duration
}

// DefaultBackoffPolicy returns production defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseStep:      2 * time.Second,
		MaxWait:       10 * time.Second,
		LogoutPenalty: 5 * time.Second,
	}
}

// Wait returns the duration to sleep before reconnect attempt number
// attempt (1-based). Attempts below 1 are treated as 1.
func (p BackoffPolicy) Wait(attempt int, longerWait bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	wait := time.Duration(attempt) * p.BaseStep
	if wait > p.MaxWait {
		wait = p.MaxWait
	}
	if longerWait {
		wait += p.LogoutPenalty
	}
	return wait
}
