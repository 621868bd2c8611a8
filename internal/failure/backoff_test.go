// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package failure

import (
	"testing"
	"time"
)

func TestBackoffWait(t *testing.T) {
	p := DefaultBackoffPolicy()

	tests := []struct {
		name       string
		attempt    int
		longerWait bool
		want       time.Duration
	}{
		{"first attempt", 1, false, 2 * time.Second},
		{"second attempt", 2, false, 4 * time.Second},
		{"fifth attempt hits cap", 5, false, 10 * time.Second},
		{"tenth attempt stays at cap", 10, false, 10 * time.Second},
		{"zero attempt treated as first", 0, false, 2 * time.Second},
		{"negative attempt treated as first", -3, false, 2 * time.Second},
		{"logout penalty added", 1, true, 7 * time.Second},
		{"penalty applies on top of cap", 10, true, 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Wait(tt.attempt, tt.longerWait); got != tt.want {
				t.Errorf("Wait(%d, %v) = %v, want %v", tt.attempt, tt.longerWait, got, tt.want)
			}
		})
	}
}

// Monotonicity: for fixed longerWait, Wait(n+1) >= Wait(n) up to the cap.
func TestBackoffMonotonic(t *testing.T) {
	p := BackoffPolicy{
		BaseStep:      500 * time.Millisecond,
		MaxWait:       8 * time.Second,
		LogoutPenalty: 3 * time.Second,
	}

	for _, longer := range []bool{false, true} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 30; attempt++ {
			w := p.Wait(attempt, longer)
			if w < prev {
				t.Fatalf("Wait(%d, %v) = %v < previous %v", attempt, longer, w, prev)
			}
			prev = w
		}
	}
}

func TestBackoffStateless(t *testing.T) {
	p := DefaultBackoffPolicy()

	// Same inputs must always give the same output.
	for i := 0; i < 5; i++ {
		if got := p.Wait(3, true); got != p.Wait(3, true) {
			t.Fatal("Wait is not deterministic")
		}
	}

	if got := p.Wait(3, false); got != 6*time.Second {
		t.Errorf("Wait(3, false) = %v, want 6s", got)
	}
}
