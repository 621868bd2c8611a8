// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package services

import (
	"context"
	"fmt"
)

// BlockingServer matches api.Server: Serve blocks until the context is
// cancelled and handles its own graceful shutdown.
type BlockingServer interface {
	Serve(ctx context.Context) error
}

// HTTPService runs the operator API server under supervision.
type HTTPService struct {
	server BlockingServer
	name   string
}

// NewHTTPService creates the supervised HTTP server wrapper.
func NewHTTPService(server BlockingServer) *HTTPService {
	return &HTTPService{
		server: server,
		name:   "http-server",
	}
}

// Serve implements suture.Service. The underlying server already
// translates context cancellation into graceful shutdown, so this is a
// straight pass-through; a non-nil error makes suture restart it.
func (h *HTTPService) Serve(ctx context.Context) error {
	if err := h.server.Serve(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (h *HTTPService) String() string {
	return h.name
}
