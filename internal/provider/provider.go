// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package provider defines the capability contract between the session
// lifecycle core and the platform-specific wire clients.
//
// Each messaging platform supplies an adapter implementing Client. Adapters
// own the wire protocol; the lifecycle core owns connection policy. Errors
// cross the boundary as structured *Error values carrying an ErrorCode, so
// the lifecycle core never inspects protocol-specific message text.
package provider

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Platform identifies a messaging network.
type Platform string

const (
	// PlatformQRLink is the QR-code-paired socket protocol.
	PlatformQRLink Platform = "qrlink"

	// PlatformBotPoll is the long-polling bot API protocol.
	PlatformBotPoll Platform = "botpoll"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformQRLink || p == PlatformBotPoll
}

// InboundMessage is a message received from the remote network, normalized
// across platforms. Raw preserves the platform payload for downstream
// consumers that need fields the normalization drops.
type InboundMessage struct {
	ChatID    string          `json:"chat_id"`
	SenderID  string          `json:"sender_id"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Callbacks are the event hooks a client invokes as the connection changes
// state. All fields are optional; adapters must treat nil hooks as no-ops.
//
// Hooks may be invoked from the client's internal goroutines. The lifecycle
// core is responsible for its own synchronization.
type Callbacks struct {
	// OnConnected fires when the connection reaches the live state.
	OnConnected func()

	// OnDisconnected fires when the connection drops. A nil reason means a
	// clean, locally requested disconnect.
	OnDisconnected func(reason error)

	// OnMessage fires for each inbound message.
	OnMessage func(msg InboundMessage)

	// OnError fires for connection-level errors. The error is always a
	// *provider.Error so the caller can classify it by code.
	OnError func(err error)

	// OnQRCode fires when the platform requires QR pairing; the payload is
	// the code to render. Only the qrlink platform uses this.
	OnQRCode func(code string)
}

// Config is the per-connection configuration handed to a client factory.
// InstanceID is unique per connection attempt; a client instance is never
// reused across sessions or reconnects.
type Config struct {
	SessionID  string
	InstanceID string
	Credential string
}

// Client is one live connection to a messaging network on behalf of one
// session. Implementations must support explicit listener teardown: after
// Disconnect returns, no callback may fire again.
type Client interface {
	// Initialize opens the connection and registers callbacks. It blocks
	// until the connection is live or fails.
	Initialize(ctx context.Context, cb Callbacks) error

	// Disconnect tears the connection down, including all event listeners.
	Disconnect(ctx context.Context) error

	// SendText delivers a text message to a chat.
	SendText(ctx context.Context, chatID, text string) error

	// ForceLogout asks the remote network to evict every other holder of
	// this client's credential. Used during conflict resolution.
	ForceLogout(ctx context.Context) error

	// Connected reports the live state of the connection.
	Connected() bool
}

// Factory constructs a fresh client bound to one session. The lifecycle
// core calls it on every connection attempt.
type Factory func(cfg Config) (Client, error)

// Traits describe platform behavior the lifecycle core must account for.
type Traits struct {
	// SelfHealingTransient is true when the protocol stack retries
	// transient failures internally, so the lifecycle core should only log
	// them. Platforms without internal retry get the full reconnect path.
	SelfHealingTransient bool
}
