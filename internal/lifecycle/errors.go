// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import "errors"

// Sentinel errors returned by the orchestrator.
var (
	// ErrAlreadyConnected is returned by Start when the session already has
	// a live connection and force was not requested.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrClaimHeld is returned when another goroutine holds the in-process
	// singleton claim for the session.
	ErrClaimHeld = errors.New("session claim held by another connection")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotConnected is returned when an operation needs a live connection
	// and there is none.
	ErrNotConnected = errors.New("session not connected")

	// ErrPlatformUnknown is returned when no factory is registered for the
	// requested platform.
	ErrPlatformUnknown = errors.New("unknown platform")

	// ErrLoopDetected is recorded when a session exceeds its reconnect
	// budget and is permanently deactivated.
	ErrLoopDetected = errors.New("reconnect loop detected, session deactivated")

	// ErrShuttingDown is returned when the orchestrator is draining.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
