// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package qrlink implements the provider.Client adapter for the QR-paired
// socket platform.
//
// The gateway speaks JSON frames over a single WebSocket. Pairing is
// interactive: until the account owner scans the QR code the gateway keeps
// sending fresh codes, then a ready frame completes the handshake. The
// protocol stack re-dials transient drops internally, so the lifecycle core
// treats transient failures from this platform as log-only.
package qrlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/spindlehq/warden/internal/failure"
	"github.com/spindlehq/warden/internal/logging"
	"github.com/spindlehq/warden/internal/provider"
)

// Frame types exchanged with the gateway.
const (
	frameQR        = "qr"
	frameReady     = "ready"
	frameMessage   = "message"
	frameConflict  = "conflict"
	frameLoggedOut = "logged_out"
	framePing      = "ping"
	framePong      = "pong"
	frameSend      = "send"
	frameLogoutAll = "logout_all"
)

// Gateway close codes in the private range.
const (
	closeUnauthorized   = 4401
	closeLoggedOut      = 4403
	closeStreamConflict = 4409
)

const (
	defaultHandshakeTimeout = 2 * time.Minute
	defaultPingInterval     = 30 * time.Second
	readDeadline            = 90 * time.Second

	// redialAttempts bounds the internal transient re-dial loop before the
	// drop is surfaced to the lifecycle core.
	redialAttempts = 3
	redialDelay    = 2 * time.Second
)

// Options configures the qrlink adapter.
type Options struct {
	GatewayURL       string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type messagePayload struct {
	ChatID    string          `json:"chat_id"`
	SenderID  string          `json:"sender_id"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type sendPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Client is one live gateway connection for one session. Instances are
// single-use: after Disconnect the client cannot be re-initialized.
type Client struct {
	cfg  provider.Config
	opts Options

	conn   *websocket.Conn
	connMu sync.RWMutex

	cb   provider.Callbacks
	cbMu sync.RWMutex

	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	connected atomic.Bool
}

// New creates an unconnected client for the session in cfg.
func New(cfg provider.Config, opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Client{
		cfg:      cfg,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
}

// NewFactory returns a provider.Factory bound to the given gateway options.
func NewFactory(opts Options) provider.Factory {
	return func(cfg provider.Config) (provider.Client, error) {
		if cfg.SessionID == "" {
			return nil, provider.NewError(provider.PlatformQRLink, provider.CodeBadConfig, "factory", errors.New("empty session id"))
		}
		if opts.GatewayURL == "" {
			return nil, provider.NewError(provider.PlatformQRLink, provider.CodeBadConfig, "factory", errors.New("empty gateway URL"))
		}
		return New(cfg, opts), nil
	}
}

// Traits reports platform behavior for the lifecycle core.
func Traits() provider.Traits {
	return provider.Traits{SelfHealingTransient: true}
}

// FailureTable maps gateway error codes to lifecycle failure kinds.
func FailureTable() map[provider.ErrorCode]failure.Kind {
	return map[provider.ErrorCode]failure.Kind{
		provider.CodeTimeout:        failure.KindTransient,
		provider.CodeConnectionLost: failure.KindTransient,
		provider.CodeUnauthorized:   failure.KindUnauthorized,
		provider.CodeStreamConflict: failure.KindConflict,
		provider.CodeLoggedOut:      failure.KindLoggedOut,
		provider.CodeBadRequest:     failure.KindFatal,
		provider.CodeBadConfig:      failure.KindFatal,
	}
}

// Initialize dials the gateway and performs the pairing handshake. It
// blocks until the ready frame arrives, the handshake times out, or ctx is
// canceled. QR codes received during pairing are delivered via OnQRCode.
func (c *Client) Initialize(ctx context.Context, cb provider.Callbacks) error {
	select {
	case <-c.stopChan:
		return provider.NewError(provider.PlatformQRLink, provider.CodeBadRequest, "initialize", errors.New("client already disconnected"))
	default:
	}

	c.cbMu.Lock()
	c.cb = cb
	c.cbMu.Unlock()

	if err := c.dial(ctx); err != nil {
		return err
	}

	if err := c.awaitReady(ctx); err != nil {
		c.closeConn(websocket.CloseNormalClosure)
		return err
	}

	c.connected.Store(true)
	c.hooks().onConnected()

	c.wg.Add(2)
	go c.listen()
	go c.pingLoop()

	return nil
}

// Disconnect tears down the connection and all listeners. After it returns
// no callback fires again.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.connected.Store(false)

	c.closeConn(websocket.CloseNormalClosure)
	c.wg.Wait()

	// Drop the hooks last so in-flight callbacks finish first.
	c.cbMu.Lock()
	c.cb = provider.Callbacks{}
	c.cbMu.Unlock()

	return nil
}

// SendText delivers a text message through the gateway.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if !c.connected.Load() {
		return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, "send", errors.New("not connected"))
	}
	data, err := json.Marshal(sendPayload{ChatID: chatID, Text: text})
	if err != nil {
		return provider.NewError(provider.PlatformQRLink, provider.CodeBadRequest, "send", err)
	}
	if err := c.writeFrame(frame{Type: frameSend, Data: data}); err != nil {
		return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, "send", err)
	}
	return nil
}

// ForceLogout asks the gateway to evict every other holder of this
// client's credential.
func (c *Client) ForceLogout(ctx context.Context) error {
	if err := c.writeFrame(frame{Type: frameLogoutAll}); err != nil {
		return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, "logout_all", err)
	}
	return nil
}

// Connected reports the live state of the connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	url := fmt.Sprintf("%s?session=%s&instance=%s", c.opts.GatewayURL, c.cfg.SessionID, c.cfg.InstanceID)
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		code := provider.CodeConnectionLost
		if resp != nil {
			switch resp.StatusCode {
			case 401, 403:
				code = provider.CodeUnauthorized
			case 409:
				code = provider.CodeStreamConflict
			}
		}
		return provider.NewError(provider.PlatformQRLink, code, "dial", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// awaitReady consumes handshake frames until the gateway reports the
// session live. QR frames are forwarded to the pairing hook.
func (c *Client) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		if err := ctx.Err(); err != nil {
			return provider.NewError(provider.PlatformQRLink, provider.CodeTimeout, "handshake", err)
		}

		conn := c.currentConn()
		if conn == nil {
			return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, "handshake", errors.New("connection closed"))
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, "handshake", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return c.readError("handshake", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("qrlink: unparseable handshake frame")
			continue
		}

		switch f.Type {
		case frameQR:
			var code string
			if err := json.Unmarshal(f.Data, &code); err == nil {
				c.hooks().onQRCode(code)
			}
		case frameReady:
			return nil
		case frameConflict:
			return provider.NewError(provider.PlatformQRLink, provider.CodeStreamConflict, "handshake", errors.New("credential in use elsewhere"))
		case frameLoggedOut:
			return provider.NewError(provider.PlatformQRLink, provider.CodeLoggedOut, "handshake", errors.New("credential revoked"))
		default:
			// Pre-ready chatter, ignore.
		}
	}
}

// listen processes gateway frames until the connection drops or Disconnect
// is called. Transient drops are re-dialed internally; everything else is
// surfaced through the error hook exactly once.
func (c *Client) listen() {
	defer c.wg.Done()

	log := logging.With().Str("session_id", c.cfg.SessionID).Str("platform", "qrlink").Logger()
	redials := 0

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		conn := c.currentConn()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			log.Warn().Err(err).Msg("set read deadline failed")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}

			perr := c.readError("read", err)
			if provider.CodeOf(perr) == provider.CodeTimeout || provider.CodeOf(perr) == provider.CodeConnectionLost {
				if redials < redialAttempts && c.redial(log) {
					redials++
					continue
				}
			}

			c.surfaceDrop(perr)
			return
		}

		redials = 0
		c.handleFrame(log, data)
	}
}

func (c *Client) handleFrame(log zerolog.Logger, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Msg("unparseable frame")
		return
	}

	switch f.Type {
	case frameMessage:
		var p messagePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			log.Warn().Err(err).Msg("unparseable message payload")
			return
		}
		c.hooks().onMessage(provider.InboundMessage{
			ChatID:    p.ChatID,
			SenderID:  p.SenderID,
			Text:      p.Text,
			Timestamp: p.Timestamp,
			Raw:       p.Raw,
		})

	case frameConflict:
		c.hooks().onError(provider.NewError(provider.PlatformQRLink, provider.CodeStreamConflict, "stream", errors.New("credential in use elsewhere")))

	case frameLoggedOut:
		c.surfaceDrop(provider.NewError(provider.PlatformQRLink, provider.CodeLoggedOut, "stream", errors.New("remote forced logout")))
		c.closeConn(websocket.CloseNormalClosure)

	case framePong, framePing:
		// Keep-alive traffic.

	default:
		log.Debug().Str("type", f.Type).Msg("unknown frame type")
	}
}

// redial replaces the connection after a transient drop. Returns false
// when the re-dial fails or the client is stopping.
func (c *Client) redial(log zerolog.Logger) bool {
	c.closeConn(websocket.CloseAbnormalClosure)

	select {
	case <-time.After(redialDelay):
	case <-c.stopChan:
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.dial(ctx); err != nil {
		log.Warn().Err(err).Msg("transient re-dial failed")
		return false
	}
	if err := c.awaitReady(ctx); err != nil {
		log.Warn().Err(err).Msg("transient re-dial handshake failed")
		c.closeConn(websocket.CloseNormalClosure)
		return false
	}
	log.Info().Msg("transient drop healed")
	return true
}

// pingLoop keeps the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := c.writeFrame(frame{Type: framePing}); err != nil {
				logging.Debug().Err(err).Str("session_id", c.cfg.SessionID).Msg("qrlink: keep-alive failed")
			}
		}
	}
}

// surfaceDrop marks the connection dead and fires the disconnect hooks.
func (c *Client) surfaceDrop(err error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	h := c.hooks()
	h.onError(err)
	h.onDisconnected(err)
}

// readError maps a WebSocket read failure to a structured adapter error.
func (c *Client) readError(op string, err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case closeUnauthorized:
			return provider.NewError(provider.PlatformQRLink, provider.CodeUnauthorized, op, err)
		case closeLoggedOut:
			return provider.NewError(provider.PlatformQRLink, provider.CodeLoggedOut, op, err)
		case closeStreamConflict:
			return provider.NewError(provider.PlatformQRLink, provider.CodeStreamConflict, op, err)
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return provider.NewError(provider.PlatformQRLink, provider.CodeTimeout, op, err)
	}
	return provider.NewError(provider.PlatformQRLink, provider.CodeConnectionLost, op, err)
}

func (c *Client) writeFrame(f frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(f)
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) closeConn(code int) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	_ = c.conn.Close()
	c.conn = nil
}

// hooks returns a snapshot of the callbacks with nil-safe wrappers.
func (c *Client) hooks() callbackSet {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return callbackSet{cb: c.cb}
}

type callbackSet struct {
	cb provider.Callbacks
}

func (s callbackSet) onConnected() {
	if s.cb.OnConnected != nil {
		s.cb.OnConnected()
	}
}

func (s callbackSet) onDisconnected(reason error) {
	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(reason)
	}
}

func (s callbackSet) onMessage(msg provider.InboundMessage) {
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(msg)
	}
}

func (s callbackSet) onError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s callbackSet) onQRCode(code string) {
	if s.cb.OnQRCode != nil {
		s.cb.OnQRCode(code)
	}
}
