// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeServer struct {
	err error
}

func (f *fakeServer) Serve(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func TestHTTPServiceBlocksUntilCancelled(t *testing.T) {
	svc := NewHTTPService(&fakeServer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
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
}

func TestHTTPServiceWrapsServerError(t *testing.T) {
	boom := errors.New("listen: address in use")
	svc := NewHTTPService(&fakeServer{err: boom})

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Serve returned %v, want wrapped %v", err, boom)
	}
}

func TestHTTPServiceString(t *testing.T) {
	svc := NewHTTPService(&fakeServer{})
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}
