// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spindlehq/warden/internal/provider"
)

func testTable() map[provider.ErrorCode]Kind {
	return map[provider.ErrorCode]Kind{
		provider.CodeTimeout:        KindTransient,
		provider.CodeConnectionLost: KindTransient,
		provider.CodeUnauthorized:   KindUnauthorized,
		provider.CodeStreamConflict: KindConflict,
		provider.CodeLoggedOut:      KindLoggedOut,
		provider.CodeBadConfig:      KindFatal,
	}
}

func TestClassify(t *testing.T) {
	c := NewClassifier()
	c.Register(provider.PlatformQRLink, testTable())

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "timeout is transient",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeTimeout, "read", errors.New("i/o timeout")),
			want: KindTransient,
		},
		{
			name: "unauthorized",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeUnauthorized, "dial", nil),
			want: KindUnauthorized,
		},
		{
			name: "stream conflict",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeStreamConflict, "read", nil),
			want: KindConflict,
		},
		{
			name: "logged out",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeLoggedOut, "read", nil),
			want: KindLoggedOut,
		},
		{
			name: "bad config is fatal",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeBadConfig, "dial", nil),
			want: KindFatal,
		},
		{
			name: "unmapped code falls back to transient",
			err:  provider.NewError(provider.PlatformQRLink, provider.CodeBadRequest, "send", nil),
			want: KindTransient,
		},
		{
			name: "plain error falls back to transient",
			err:  errors.New("something broke"),
			want: KindTransient,
		},
		{
			name: "nil error is transient",
			err:  nil,
			want: KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(provider.PlatformQRLink, tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	c := NewClassifier()
	c.Register(provider.PlatformBotPoll, testTable())

	inner := provider.NewError(provider.PlatformBotPoll, provider.CodeUnauthorized, "poll", nil)
	wrapped := fmt.Errorf("poll loop: %w", inner)

	if got := c.Classify(provider.PlatformBotPoll, wrapped); got != KindUnauthorized {
		t.Errorf("Classify(wrapped) = %v, want %v", got, KindUnauthorized)
	}
}

func TestClassifyUnregisteredPlatform(t *testing.T) {
	c := NewClassifier()

	err := provider.NewError(provider.PlatformBotPoll, provider.CodeUnauthorized, "poll", nil)
	if got := c.Classify(provider.PlatformBotPoll, err); got != KindTransient {
		t.Errorf("Classify() = %v, want transient for unregistered platform", got)
	}
}

func TestRegisterCopiesTable(t *testing.T) {
	c := NewClassifier()
	table := testTable()
	c.Register(provider.PlatformQRLink, table)

	// Mutating the caller's map must not affect the classifier.
	table[provider.CodeUnauthorized] = KindFatal

	err := provider.NewError(provider.PlatformQRLink, provider.CodeUnauthorized, "dial", nil)
	if got := c.Classify(provider.PlatformQRLink, err); got != KindUnauthorized {
		t.Errorf("Classify() = %v, want %v after caller mutation", got, KindUnauthorized)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindUnauthorized, "unauthorized"},
		{KindConflict, "conflict"},
		{KindLoggedOut, "logged_out"},
		{KindFatal, "fatal"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
