// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

//go:build nats

package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// NATSMirrorConfig configures the JetStream mirror publisher.
type NATSMirrorConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSMirror publishes a copy of every bus event to NATS JetStream so
// other processes can observe session lifecycle changes. A circuit
// breaker keeps a dead broker from slowing the lifecycle path.
type NATSMirror struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.Mutex
	closed bool
}

// NewNATSMirror connects to NATS and prepares the mirror publisher.
func NewNATSMirror(cfg NATSMirrorConfig, logger watermill.LoggerAdapter) (*NATSMirror, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			TrackMsgId: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS mirror publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "nats-mirror",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &NATSMirror{
		publisher: pub,
		breaker:   breaker,
	}, nil
}

// Publish sends a message through the circuit breaker, stamping the
// message UUID as Nats-Msg-Id for JetStream deduplication.
func (m *NATSMirror) Publish(topic string, msgs ...*message.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrBusClosed
	}
	m.mu.Unlock()

	for _, msg := range msgs {
		if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
		}
		if _, err := m.breaker.Execute(func() (any, error) {
			return nil, m.publisher.Publish(topic, msg)
		}); err != nil {
			return fmt.Errorf("mirror publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Close shuts down the mirror publisher.
func (m *NATSMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.publisher.Close()
}
