// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validation errors.
var (
	ErrNoProviderEnabled = errors.New("no platform adapter enabled: set qrlink.enabled or botpoll.enabled")
	ErrGatewayURLMissing = errors.New("qrlink.gateway_url is required when qrlink is enabled")
	ErrAPIBaseURLMissing = errors.New("botpoll.api_base_url is required when botpoll is enabled")
	ErrShortSecret       = errors.New("store.encryption_secret must be at least 16 characters")
	ErrDurationNegative  = errors.New("lifecycle durations must be positive")
)

// Validate checks the configuration for consistency. Struct-tag constraints
// run first via go-playground/validator, then cross-field checks that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("struct validation: %w", err)
	}

	validators := []func() error{
		c.validateProviders,
		c.validateStore,
		c.validateLifecycle,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	if !c.QRLink.Enabled && !c.BotPoll.Enabled {
		return ErrNoProviderEnabled
	}

	if c.QRLink.Enabled {
		if c.QRLink.GatewayURL == "" {
			return ErrGatewayURLMissing
		}
		if err := validateURL(c.QRLink.GatewayURL, "ws", "wss"); err != nil {
			return fmt.Errorf("qrlink.gateway_url: %w", err)
		}
	}

	if c.BotPoll.Enabled {
		if c.BotPoll.APIBaseURL == "" {
			return ErrAPIBaseURLMissing
		}
		if err := validateURL(c.BotPoll.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("botpoll.api_base_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if s := c.Store.EncryptionSecret; s != "" && len(s) < 16 {
		return ErrShortSecret
	}
	return nil
}

func (c *Config) validateLifecycle() error {
	durations := map[string]int64{
		"reconnect_window":  int64(c.Lifecycle.ReconnectWindow),
		"retry_delay":       int64(c.Lifecycle.RetryDelay),
		"backoff_base_step": int64(c.Lifecycle.BackoffBaseStep),
		"backoff_max_wait":  int64(c.Lifecycle.BackoffMaxWait),
		"shutdown_timeout":  int64(c.Lifecycle.ShutdownTimeout),
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("lifecycle.%s: %w", name, ErrDurationNegative)
		}
	}
	// SettleTime and the logout penalty may be zero (disabled), never negative.
	if c.Lifecycle.SettleTime < 0 || c.Lifecycle.BackoffLogoutPenalty < 0 {
		return fmt.Errorf("lifecycle.settle_time: %w", ErrDurationNegative)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s, got %q", strings.Join(schemes, "/"), u.Scheme)
}
