// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package services adapts warden's long-running components to the
// suture.Service interface.
package services

import (
	"context"
	"fmt"
	"time"
)

// SessionOrchestrator is the slice of the lifecycle orchestrator the
// supervisor needs: resume previously active sessions on start, tear
// everything down on stop.
type SessionOrchestrator interface {
	AutoResume(ctx context.Context) error
	ShutdownAll(ctx context.Context) error
}

// OrchestratorService runs the session orchestrator under supervision.
//
//  1. AutoResume reconnects every session whose stored intent is active
//  2. blocks until the context is cancelled
//  3. ShutdownAll disconnects everything while preserving active intent
type OrchestratorService struct {
	orch            SessionOrchestrator
	shutdownTimeout time.Duration
	name            string
}

// NewOrchestratorService creates the supervised orchestrator wrapper.
func NewOrchestratorService(orch SessionOrchestrator, shutdownTimeout time.Duration) *OrchestratorService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &OrchestratorService{
		orch:            orch,
		shutdownTimeout: shutdownTimeout,
		name:            "session-orchestrator",
	}
}

// Serve implements suture.Service.
//
// An AutoResume failure is returned so suture restarts the service and
// retries the resume after backoff. Individual session failures are not
// resume failures; AutoResume only reports infrastructure errors.
func (s *OrchestratorService) Serve(ctx context.Context) error {
	if err := s.orch.AutoResume(ctx); err != nil {
		return fmt.Errorf("auto-resume: %w", err)
	}

	<-ctx.Done()

	// The serve context is already cancelled; shutdown gets its own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.orch.ShutdownAll(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *OrchestratorService) String() string {
	return s.name
}
