// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

//go:build !nats

package bus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// NATSMirrorConfig configures the JetStream mirror publisher.
type NATSMirrorConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSMirror is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the JetStream mirror.
type NATSMirror struct{}

// NewNATSMirror returns an error when NATS support is not compiled in.
func NewNATSMirror(cfg NATSMirrorConfig, logger watermill.LoggerAdapter) (*NATSMirror, error) {
	return nil, fmt.Errorf("NATS mirror not available: build with -tags=nats")
}

// Publish is a stub that returns an error.
func (m *NATSMirror) Publish(topic string, msgs ...*message.Message) error {
	return fmt.Errorf("NATS mirror not available: build with -tags=nats")
}

// Close is a no-op stub.
func (m *NATSMirror) Close() error {
	return nil
}
