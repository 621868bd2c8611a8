// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package bus publishes session lifecycle events over Watermill. The
// in-process GoChannel transport is always active; a NATS JetStream
// mirror can be enabled with the nats build tag for multi-process
// deployments.
package bus

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/spindlehq/warden/internal/provider"
)

// Topics for session lifecycle events.
const (
	TopicSessionConnected    = "session.connected"
	TopicSessionDisconnected = "session.disconnected"
	TopicSessionError        = "session.error"
	TopicMessageReceived     = "message.received"
)

// Event is the envelope for every message published on the bus.
type Event struct {
	EventID   string            `json:"event_id"`
	SessionID string            `json:"session_id"`
	Platform  provider.Platform `json:"platform"`
	Timestamp time.Time         `json:"timestamp"`

	// Reason carries the disconnect or error description. Empty for
	// connected events.
	Reason string `json:"reason,omitempty"`

	// Kind carries the classified failure kind for error events.
	Kind string `json:"kind,omitempty"`

	// Message carries the inbound payload for message.received events.
	Message *provider.InboundMessage `json:"message,omitempty"`
}

// NewEvent builds an event envelope with a fresh ID and UTC timestamp.
func NewEvent(sessionID string, platform provider.Platform) Event {
	return Event{
		EventID:   uuid.New().String(),
		SessionID: sessionID,
		Platform:  platform,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal serializes the event for the wire.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return data, nil
}

// Unmarshal deserializes an event and checks the required fields.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.EventID == "" {
		return Event{}, fmt.Errorf("event missing event_id")
	}
	if e.SessionID == "" {
		return Event{}, fmt.Errorf("event %s missing session_id", e.EventID)
	}
	return e, nil
}
