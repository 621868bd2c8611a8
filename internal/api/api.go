// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package api exposes the operator HTTP surface: session lifecycle
// commands, status queries, health, and Prometheus metrics.
package api

import (
	"context"

	"github.com/spindlehq/warden/internal/lifecycle"
)

// Lifecycle is the slice of the orchestrator the API consumes.
type Lifecycle interface {
	Start(ctx context.Context, req lifecycle.StartRequest) error
	Stop(ctx context.Context, sessionID string) error
	ForceReconnect(ctx context.Context, sessionID string) error
	SendText(ctx context.Context, sessionID, chatID, text string) error
	ListActiveSessions(ctx context.Context) ([]lifecycle.SessionStatus, error)
	Status(ctx context.Context, sessionID string) (lifecycle.SessionStatus, error)
}
