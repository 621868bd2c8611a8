// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/warden/config.yaml",
	"/etc/warden/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Dir:              "/data/warden",
			EncryptionSecret: "",
		},
		Lifecycle: LifecycleConfig{
			ConflictThreshold:    3,
			AttemptCap:           2,
			TotalReconnectCap:    3,
			ReconnectWindow:      5 * time.Minute,
			RetryDelay:           3 * time.Second,
			SettleTime:           2 * time.Second,
			BackoffBaseStep:      2 * time.Second,
			BackoffMaxWait:       10 * time.Second,
			BackoffLogoutPenalty: 5 * time.Second,
			ShutdownTimeout:      10 * time.Second,
		},
		QRLink: QRLinkConfig{
			Enabled:          false,
			GatewayURL:       "",
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
		},
		BotPoll: BotPollConfig{
			Enabled:                 false,
			APIBaseURL:              "",
			PollTimeout:             50 * time.Second,
			RequestsPerSecond:       30,
			BreakerMaxRequests:      3,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          2 * time.Minute,
			BreakerFailureThreshold: 5,
		},
		Bus: BusConfig{
			BufferSize: 256,
			NATS: NATSConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				MaxReconnects: 10,
				ReconnectWait: 2 * time.Second,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// WARDEN_SERVER_PORT -> server.port, WARDEN_LIFECYCLE_ATTEMPT_CAP ->
	// lifecycle.attempt_cap, and so on.
	if err := k.Load(env.Provider("WARDEN_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields. Env vars arrive as strings; the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps WARDEN_* environment variables to koanf paths.
// The first underscore after the prefix separates the section:
// WARDEN_LIFECYCLE_ATTEMPT_CAP -> lifecycle.attempt_cap.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "WARDEN_"))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	// Nested bus.nats.* keys.
	if section == "bus" {
		if sub, tail, ok := strings.Cut(rest, "_"); ok && sub == "nats" {
			return "bus.nats." + tail
		}
	}
	return section + "." + rest
}
