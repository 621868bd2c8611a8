// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package main is the entry point for the warden daemon.
//
// Warden supervises long-lived bot connections to messaging networks.
// It keeps a persistent registry of sessions, reconnects them after
// transient drops, resolves same-credential conflicts between
// deployments, and exposes an operator HTTP API.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered config (env > file > defaults)
//  2. Logging: global zerolog logger
//  3. Store: BadgerDB session registry, optional credential encryption
//  4. Bus: Watermill in-process event bus, optional NATS mirror
//  5. Orchestrator: lifecycle state machine with platform adapters
//  6. HTTP: chi operator API
//  7. Supervisor tree: suture runs the orchestrator and HTTP server
//
// # Platforms
//
// Platform adapters are enabled by configuration:
//   - qrlink: WARDEN_QRLINK_ENABLED=true plus WARDEN_QRLINK_GATEWAY_URL
//   - botpoll: WARDEN_BOTPOLL_ENABLED=true plus WARDEN_BOTPOLL_API_BASE_URL
//
// # Build tags
//
//	go build -tags "nats" ./cmd/warden   # enable JetStream event mirror
//
// # Signal handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains,
// every live connection disconnects, and stored session intent is
// preserved so the next start resumes where this one left off.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spindlehq/warden/internal/api"
	"github.com/spindlehq/warden/internal/bus"
	"github.com/spindlehq/warden/internal/config"
	"github.com/spindlehq/warden/internal/failure"
	"github.com/spindlehq/warden/internal/lifecycle"
	"github.com/spindlehq/warden/internal/logging"
	"github.com/spindlehq/warden/internal/provider"
	"github.com/spindlehq/warden/internal/provider/botpoll"
	"github.com/spindlehq/warden/internal/provider/qrlink"
	"github.com/spindlehq/warden/internal/store"
	"github.com/spindlehq/warden/internal/supervisor"
	"github.com/spindlehq/warden/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("warden failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().Str("store_dir", cfg.Store.Dir).Msg("warden starting")

	// Credential encryption at rest is optional but loudly absent.
	var enc store.Encryptor
	if cfg.Store.EncryptionSecret != "" {
		ce, err := config.NewCredentialEncryptor(cfg.Store.EncryptionSecret)
		if err != nil {
			return err
		}
		enc = ce
	} else {
		logging.Warn().Msg("credential encryption disabled; set WARDEN_STORE_ENCRYPTION_SECRET")
	}

	st, err := store.Open(cfg.Store.Dir, enc)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("closing session store")
		}
	}()

	wmLogger := bus.NewWatermillLogger(logging.Logger())
	events := bus.New(bus.Config{BufferSize: int(cfg.Bus.BufferSize)}, wmLogger)
	defer func() {
		if err := events.Close(); err != nil {
			logging.Error().Err(err).Msg("closing event bus")
		}
	}()

	if cfg.Bus.NATS.Enabled {
		mirror, err := bus.NewNATSMirror(bus.NATSMirrorConfig{
			URL:           cfg.Bus.NATS.URL,
			MaxReconnects: cfg.Bus.NATS.MaxReconnects,
			ReconnectWait: cfg.Bus.NATS.ReconnectWait,
		}, wmLogger)
		if err != nil {
			// The mirror is an observer; its broker being down must not
			// keep sessions from running.
			logging.Warn().Err(err).Msg("NATS mirror unavailable, events stay in-process")
		} else {
			events.SetMirror(mirror)
			logging.Info().Str("url", cfg.Bus.NATS.URL).Msg("NATS event mirror enabled")
		}
	}

	orch := lifecycle.New(lifecycleSettings(cfg), st, failure.NewClassifier(), events)
	if err := registerPlatforms(orch, cfg); err != nil {
		return err
	}
	orch.SetQRHandler(func(sessionID, code string) {
		logging.Info().Str("session_id", sessionID).Str("qr", code).Msg("pairing code issued")
	})

	router := api.NewRouter(orch, api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})
	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, router)

	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddSessionService(services.NewOrchestratorService(orch, cfg.Lifecycle.ShutdownTimeout))
	tree.AddAPIService(services.NewHTTPService(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("warden stopped")
	return nil
}

// lifecycleSettings maps configuration onto orchestrator settings.
func lifecycleSettings(cfg *config.Config) lifecycle.Settings {
	s := lifecycle.DefaultSettings()
	s.ConflictThreshold = cfg.Lifecycle.ConflictThreshold
	s.AttemptCap = cfg.Lifecycle.AttemptCap
	s.TotalReconnectCap = cfg.Lifecycle.TotalReconnectCap
	s.ReconnectWindow = cfg.Lifecycle.ReconnectWindow
	s.RetryDelay = cfg.Lifecycle.RetryDelay
	s.SettleTime = cfg.Lifecycle.SettleTime
	s.ShutdownTimeout = cfg.Lifecycle.ShutdownTimeout
	s.Backoff = failure.BackoffPolicy{
		BaseStep:      cfg.Lifecycle.BackoffBaseStep,
		MaxWait:       cfg.Lifecycle.BackoffMaxWait,
		LogoutPenalty: cfg.Lifecycle.BackoffLogoutPenalty,
	}
	return s
}

// registerPlatforms wires the enabled platform adapters into the
// orchestrator. At least one platform must be enabled.
func registerPlatforms(orch *lifecycle.Orchestrator, cfg *config.Config) error {
	var enabled int

	if cfg.QRLink.Enabled {
		if cfg.QRLink.GatewayURL == "" {
			return errors.New("qrlink enabled without gateway_url")
		}
		orch.RegisterPlatform(
			provider.PlatformQRLink,
			qrlink.NewFactory(qrlink.Options{
				GatewayURL:       cfg.QRLink.GatewayURL,
				HandshakeTimeout: cfg.QRLink.HandshakeTimeout,
				PingInterval:     cfg.QRLink.PingInterval,
			}),
			qrlink.Traits(),
			qrlink.FailureTable(),
		)
		logging.Info().Str("gateway", cfg.QRLink.GatewayURL).Msg("qrlink platform enabled")
		enabled++
	}

	if cfg.BotPoll.Enabled {
		if cfg.BotPoll.APIBaseURL == "" {
			return errors.New("botpoll enabled without api_base_url")
		}
		orch.RegisterPlatform(
			provider.PlatformBotPoll,
			botpoll.NewFactory(botpoll.Options{
				APIBaseURL:              cfg.BotPoll.APIBaseURL,
				PollTimeout:             cfg.BotPoll.PollTimeout,
				RequestsPerSecond:       cfg.BotPoll.RequestsPerSecond,
				BreakerMaxRequests:      cfg.BotPoll.BreakerMaxRequests,
				BreakerInterval:         cfg.BotPoll.BreakerInterval,
				BreakerTimeout:          cfg.BotPoll.BreakerTimeout,
				BreakerFailureThreshold: cfg.BotPoll.BreakerFailureThreshold,
			}),
			botpoll.Traits(),
			botpoll.FailureTable(),
		)
		logging.Info().Str("api", cfg.BotPoll.APIBaseURL).Msg("botpoll platform enabled")
		enabled++
	}

	if enabled == 0 {
		return errors.New("no platform enabled; set WARDEN_QRLINK_ENABLED or WARDEN_BOTPOLL_ENABLED")
	}
	return nil
}
