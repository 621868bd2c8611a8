// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package botpoll implements the provider.Client adapter for the
// long-polling bot API platform.
//
// The API is plain HTTPS: the bot token authenticates every call, and
// inbound messages arrive through a long-poll loop that carries a
// monotonically increasing update offset. Only one consumer may poll a
// token at a time; the API answers a second poller with 409. The protocol
// stack does not retry drops itself, so transient failures from this
// platform feed the lifecycle reconnect path.
package botpoll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/spindlehq/warden/internal/failure"
	"github.com/spindlehq/warden/internal/logging"
	"github.com/spindlehq/warden/internal/provider"
)

const (
	defaultPollTimeout = 50 * time.Second
	defaultRPS         = 10

	// pollFailureBudget is the number of consecutive poll failures
	// tolerated before the connection is declared lost.
	pollFailureBudget = 3
)

// Options configures the botpoll adapter.
type Options struct {
	APIBaseURL  string
	PollTimeout time.Duration

	// RequestsPerSecond paces outbound API calls.
	RequestsPerSecond float64

	// Circuit breaker settings for the API endpoint.
	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32

	// HTTPClient overrides the default client, used in tests.
	HTTPClient *http.Client
}

type update struct {
	UpdateID int64           `json:"update_id"`
	ChatID   string          `json:"chat_id"`
	SenderID string          `json:"sender_id"`
	Text     string          `json:"text"`
	Date     int64           `json:"date"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

type apiResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description,omitempty"`
	Updates     []update `json:"updates,omitempty"`
}

// Client is one live polling loop for one session.
type Client struct {
	cfg  provider.Config
	opts Options

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*apiResponse]

	cb   provider.Callbacks
	cbMu sync.RWMutex

	offset    atomic.Int64
	stopChan  chan struct{}
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected atomic.Bool
}

// New creates an unconnected client for the session in cfg.
func New(cfg provider.Config, opts Options) *Client {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRPS
	}
	if opts.BreakerFailureThreshold == 0 {
		opts.BreakerFailureThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			// Long polls must outlive the poll timeout.
			Timeout: opts.PollTimeout + 10*time.Second,
		}
	}

	threshold := opts.BreakerFailureThreshold
	breaker := gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        "botpoll-api",
		MaxRequests: opts.BreakerMaxRequests,
		Interval:    opts.BreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Client{
		cfg:        cfg,
		opts:       opts,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		breaker:    breaker,
		stopChan:   make(chan struct{}),
	}
}

// NewFactory returns a provider.Factory bound to the given API options.
func NewFactory(opts Options) provider.Factory {
	return func(cfg provider.Config) (provider.Client, error) {
		if cfg.SessionID == "" {
			return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeBadConfig, "factory", errors.New("empty session id"))
		}
		if cfg.Credential == "" {
			return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeUnauthorized, "factory", errors.New("empty bot token"))
		}
		if opts.APIBaseURL == "" {
			return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeBadConfig, "factory", errors.New("empty API base URL"))
		}
		return New(cfg, opts), nil
	}
}

// Traits reports platform behavior for the lifecycle core.
func Traits() provider.Traits {
	return provider.Traits{SelfHealingTransient: false}
}

// FailureTable maps API error codes to lifecycle failure kinds.
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

// Initialize verifies the bot token and starts the poll loop. It blocks
// until the identity check completes or fails.
func (c *Client) Initialize(ctx context.Context, cb provider.Callbacks) error {
	select {
	case <-c.stopChan:
		return provider.NewError(provider.PlatformBotPoll, provider.CodeBadRequest, "initialize", errors.New("client already disconnected"))
	default:
	}

	c.cbMu.Lock()
	c.cb = cb
	c.cbMu.Unlock()

	if _, err := c.call(ctx, http.MethodGet, "/me", nil); err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.connected.Store(true)
	c.hooks().onConnected()

	c.wg.Add(1)
	go c.pollLoop(pollCtx)

	return nil
}

// Disconnect stops the poll loop. After it returns no callback fires again.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.cancel != nil {
			c.cancel()
		}
	})
	c.connected.Store(false)
	c.wg.Wait()

	c.cbMu.Lock()
	c.cb = provider.Callbacks{}
	c.cbMu.Unlock()

	return nil
}

// SendText delivers a text message to a chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	body := map[string]string{"chat_id": chatID, "text": text}
	_, err := c.call(ctx, http.MethodPost, "/send", body)
	return err
}

// ForceLogout evicts every other consumer of this bot token, releasing
// the poll claim held elsewhere.
func (c *Client) ForceLogout(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/logout_all", nil)
	return err
}

// Connected reports whether the poll loop is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// pollLoop long-polls for updates until stopped or the failure budget is
// exhausted.
func (c *Client) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	log := logging.With().Str("session_id", c.cfg.SessionID).Str("platform", "botpoll").Logger()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := c.call(ctx, http.MethodGet,
			fmt.Sprintf("/updates?offset=%d&timeout=%d", c.offset.Load(), int(c.opts.PollTimeout.Seconds())), nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			switch provider.CodeOf(err) {
			case provider.CodeUnauthorized, provider.CodeLoggedOut, provider.CodeBadRequest:
				c.surfaceDrop(err)
				return
			case provider.CodeStreamConflict:
				// Another consumer grabbed the poll claim. Signal and keep
				// trying; the lifecycle core decides when to escalate.
				c.hooks().onError(err)
				failures++
			default:
				log.Warn().Err(err).Int("consecutive", failures+1).Msg("poll failed")
				failures++
			}

			if failures >= pollFailureBudget {
				c.surfaceDrop(provider.NewError(provider.PlatformBotPoll, provider.CodeConnectionLost, "poll",
					fmt.Errorf("%d consecutive poll failures: %w", failures, err)))
				return
			}

			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		failures = 0
		for _, u := range resp.Updates {
			if u.UpdateID >= c.offset.Load() {
				c.offset.Store(u.UpdateID + 1)
			}
			c.hooks().onMessage(provider.InboundMessage{
				ChatID:    u.ChatID,
				SenderID:  u.SenderID,
				Text:      u.Text,
				Timestamp: time.Unix(u.Date, 0).UTC(),
				Raw:       u.Raw,
			})
		}
	}
}

// call performs one API request through the rate limiter and circuit
// breaker, mapping HTTP failures to structured adapter errors.
func (c *Client) call(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	op := method + " " + path

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeTimeout, op, err)
	}

	resp, err := c.breaker.Execute(func() (*apiResponse, error) {
		return c.doRequest(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeConnectionLost, op, err)
		}
		var perr *provider.Error
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeConnectionLost, op, err)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeBadRequest, op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.APIBaseURL+path, reader)
	if err != nil {
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeBadRequest, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		code := provider.CodeConnectionLost
		if errors.Is(err, context.DeadlineExceeded) {
			code = provider.CodeTimeout
		}
		return nil, provider.NewError(provider.PlatformBotPoll, code, op, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeConnectionLost, op, err)
	}

	if code := statusToCode(httpResp.StatusCode); code != "" {
		return nil, provider.NewError(provider.PlatformBotPoll, code, op,
			fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(data, 200)))
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeUnknown, op, err)
	}
	if !parsed.OK {
		return nil, provider.NewError(provider.PlatformBotPoll, provider.CodeUnknown, op,
			fmt.Errorf("API error: %s", parsed.Description))
	}
	return &parsed, nil
}

// statusToCode maps HTTP status to an adapter error code. Empty string
// means success.
func statusToCode(status int) provider.ErrorCode {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized:
		return provider.CodeUnauthorized
	case status == http.StatusForbidden:
		return provider.CodeLoggedOut
	case status == http.StatusConflict:
		return provider.CodeStreamConflict
	case status == http.StatusBadRequest:
		return provider.CodeBadRequest
	case status == http.StatusTooManyRequests:
		return provider.CodeTimeout
	case status >= 500:
		return provider.CodeConnectionLost
	default:
		return provider.CodeUnknown
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// surfaceDrop marks the poll loop dead and fires the disconnect hooks.
func (c *Client) surfaceDrop(err error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	h := c.hooks()
	h.onError(err)
	h.onDisconnected(err)
}

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
