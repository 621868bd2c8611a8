// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/spindlehq/warden/internal/metrics"
	"github.com/spindlehq/warden/internal/provider"
)

// ErrBusClosed is returned when publishing after Close.
var ErrBusClosed = errors.New("event bus is closed")

// Config holds event bus settings.
type Config struct {
	// BufferSize is the per-subscriber channel buffer. Zero means
	// unbuffered delivery.
	BufferSize int
}

// Bus is the in-process lifecycle event bus. Publishing never blocks the
// lifecycle path beyond the subscriber buffer; slow consumers drop behind
// rather than stall reconnect handling.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool

	// mirror, when set, receives a copy of every published event.
	// Wired by the nats build tag.
	mirror message.Publisher
}

// New creates the in-process event bus.
func New(cfg Config, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: int64(cfg.BufferSize),
		},
		logger,
	)

	return &Bus{
		pubsub: pubsub,
		logger: logger,
	}
}

// SetMirror attaches a secondary publisher that receives a copy of every
// event. Mirror failures are logged and counted, never propagated.
func (b *Bus) SetMirror(pub message.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = pub
}

// Publish serializes the event and publishes it on the given topic.
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	mirror := b.mirror
	b.mu.RUnlock()

	data, err := Marshal(event)
	if err != nil {
		metrics.RecordBusPublish(topic, err)
		return err
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("session_id", event.SessionID)
	msg.Metadata.Set("platform", string(event.Platform))
	msg.SetContext(ctx)

	err = b.pubsub.Publish(topic, msg)
	metrics.RecordBusPublish(topic, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	if mirror != nil {
		if mErr := mirror.Publish(topic, message.NewMessage(event.EventID, data)); mErr != nil {
			b.logger.Error("mirror publish failed", mErr, watermill.LogFields{
				"topic":    topic,
				"event_id": event.EventID,
			})
		}
	}
	return nil
}

// PublishConnected publishes a session.connected event.
func (b *Bus) PublishConnected(ctx context.Context, sessionID string, platform provider.Platform) error {
	return b.Publish(ctx, TopicSessionConnected, NewEvent(sessionID, platform))
}

// PublishDisconnected publishes a session.disconnected event with the
// disconnect reason.
func (b *Bus) PublishDisconnected(ctx context.Context, sessionID string, platform provider.Platform, reason string) error {
	e := NewEvent(sessionID, platform)
	e.Reason = reason
	return b.Publish(ctx, TopicSessionDisconnected, e)
}

// PublishError publishes a session.error event carrying the classified
// failure kind.
func (b *Bus) PublishError(ctx context.Context, sessionID string, platform provider.Platform, kind, reason string) error {
	e := NewEvent(sessionID, platform)
	e.Kind = kind
	e.Reason = reason
	return b.Publish(ctx, TopicSessionError, e)
}

// PublishMessage publishes an inbound platform message.
func (b *Bus) PublishMessage(ctx context.Context, sessionID string, platform provider.Platform, msg provider.InboundMessage) error {
	e := NewEvent(sessionID, platform)
	e.Message = &msg
	return b.Publish(ctx, TopicMessageReceived, e)
}

// Subscribe returns a channel of raw messages for the topic. Consumers
// must Ack or Nack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the bus and the mirror publisher, if any.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.pubsub.Close()
	if b.mirror != nil {
		if mErr := b.mirror.Close(); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}
