// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))

	logger.Info("supervisor event", "service", "sessions-layer", "attempt", int64(2))

	out := buf.String()
	if !strings.Contains(out, `"message":"supervisor event"`) {
		t.Errorf("missing message: %q", out)
	}
	if !strings.Contains(out, `"service":"sessions-layer"`) {
		t.Errorf("missing string attr: %q", out)
	}
	if !strings.Contains(out, `"attempt":2`) {
		t.Errorf("missing int attr: %q", out)
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, `"level":"debug"`},
		{slog.LevelInfo, `"level":"info"`},
		{slog.LevelWarn, `"level":"warn"`},
		{slog.LevelError, `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
			logger := slog.New(NewSlogHandlerWithLogger(zl))

			logger.Log(t.Context(), tt.level, "msg")

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("got %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSlogHandlerWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)

	logger := slog.New(NewSlogHandlerWithLogger(zl).
		WithAttrs([]slog.Attr{slog.String("component", "supervisor")}).
		WithGroup("tree"))

	logger.Info("restart", "service", "api-layer")

	out := buf.String()
	if !strings.Contains(out, `"tree.component":"supervisor"`) {
		t.Errorf("missing grouped pre-attr: %q", out)
	}
	if !strings.Contains(out, `"tree.service":"api-layer"`) {
		t.Errorf("missing grouped attr: %q", out)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	zl := zerolog.New(nil).Level(zerolog.WarnLevel)
	h := NewSlogHandlerWithLogger(zl)

	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}
