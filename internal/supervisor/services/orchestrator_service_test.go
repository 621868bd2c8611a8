// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeOrchestrator struct {
	resumeErr   error
	shutdownErr error

	resumed  atomic.Int32
	shutdown atomic.Int32
}

func (f *fakeOrchestrator) AutoResume(ctx context.Context) error {
	f.resumed.Add(1)
	return f.resumeErr
}

func (f *fakeOrchestrator) ShutdownAll(ctx context.Context) error {
	f.shutdown.Add(1)
	return f.shutdownErr
}

func TestOrchestratorServiceLifecycle(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc := NewOrchestratorService(orch, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitFor(t, func() bool { return orch.resumed.Load() == 1 })
	if orch.shutdown.Load() != 0 {
		t.Fatal("shutdown before cancellation")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if orch.shutdown.Load() != 1 {
		t.Errorf("shutdown calls = %d, want 1", orch.shutdown.Load())
	}
}

func TestOrchestratorServiceResumeFailure(t *testing.T) {
	orch := &fakeOrchestrator{resumeErr: errors.New("store offline")}
	svc := NewOrchestratorService(orch, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected resume error")
	}
	if orch.shutdown.Load() != 0 {
		t.Error("shutdown must not run when resume fails")
	}
}

func TestOrchestratorServiceShutdownFailure(t *testing.T) {
	orch := &fakeOrchestrator{shutdownErr: errors.New("sessions stuck")}
	svc := NewOrchestratorService(orch, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want shutdown error", err)
	}
}

func TestOrchestratorServiceString(t *testing.T) {
	svc := NewOrchestratorService(&fakeOrchestrator{}, 0)
	if svc.String() != "session-orchestrator" {
		t.Errorf("String() = %q", svc.String())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
