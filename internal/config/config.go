// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package config provides layered configuration for Warden via Koanf v2.
// Precedence, highest first: environment variables, config file, built-in
// defaults.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
	QRLink    QRLinkConfig    `koanf:"qrlink"`
	BotPoll   BotPollConfig   `koanf:"botpoll"`
	Bus       BusConfig       `koanf:"bus"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig configures the BadgerDB session store.
type StoreConfig struct {
	Dir string `koanf:"dir" validate:"required"`

	// EncryptionSecret enables credential encryption at rest when set.
	// Must be at least 16 characters when non-empty.
	EncryptionSecret string `koanf:"encryption_secret"`
}

// LifecycleConfig tunes the session lifecycle state machine. The conflict
// threshold and reconnect caps are deliberately configuration, not code:
// operators fighting a credential war between two deployments need to be
// able to tighten them without a rebuild.
type LifecycleConfig struct {
	// ConflictThreshold is the number of remote conflict signals tolerated
	// within one connection's lifetime before a reconnect is forced.
	ConflictThreshold int `koanf:"conflict_threshold" validate:"gte=1"`

	// AttemptCap bounds consecutive reconnect attempts per failure.
	AttemptCap int `koanf:"attempt_cap" validate:"gte=1"`

	// TotalReconnectCap bounds reconnects within ReconnectWindow; exceeding
	// it permanently deactivates the session (loop detection).
	TotalReconnectCap int           `koanf:"total_reconnect_cap" validate:"gte=1"`
	ReconnectWindow   time.Duration `koanf:"reconnect_window"`

	// RetryDelay is the fixed pause between reconnect attempts that failed
	// under the attempt cap.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// SettleTime is the pause after stopping same-credential siblings,
	// giving the remote network time to release the credential.
	SettleTime time.Duration `koanf:"settle_time"`

	// Backoff shapes the pre-reconnect wait.
	BackoffBaseStep      time.Duration `koanf:"backoff_base_step"`
	BackoffMaxWait       time.Duration `koanf:"backoff_max_wait"`
	BackoffLogoutPenalty time.Duration `koanf:"backoff_logout_penalty"`

	// ShutdownTimeout bounds how long shutdownAll waits for in-flight
	// disconnects before the process is allowed to exit.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// QRLinkConfig configures the QR-paired socket platform adapter.
type QRLinkConfig struct {
	Enabled          bool          `koanf:"enabled"`
	GatewayURL       string        `koanf:"gateway_url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
}

// BotPollConfig configures the long-polling bot platform adapter.
type BotPollConfig struct {
	Enabled     bool          `koanf:"enabled"`
	APIBaseURL  string        `koanf:"api_base_url"`
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// RequestsPerSecond paces outbound API calls (token bucket).
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Breaker settings for the API circuit breaker.
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	// BufferSize is the per-topic buffer of the in-process bus.
	BufferSize int64 `koanf:"buffer_size"`

	// NATS mirrors session events to JetStream (build tag: nats).
	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig configures optional JetStream event mirroring.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}
