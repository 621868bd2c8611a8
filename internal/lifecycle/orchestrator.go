// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package lifecycle is the session lifecycle core: a concurrency-safe
// registry of live connections, the connect/disconnect/reconnect state
// machine, same-credential conflict resolution, and ordered shutdown.
//
// Concurrency model: one keyed mutex per session ID serializes lifecycle
// operations for that session; different sessions proceed in parallel. A
// process-wide claim set enforces at most one live connection per session
// ID, and a CAS guard per handle keeps concurrent failure signals from
// racing two reconnect procedures.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spindlehq/warden/internal/bus"
	"github.com/spindlehq/warden/internal/failure"
	"github.com/spindlehq/warden/internal/logging"
	"github.com/spindlehq/warden/internal/metrics"
	"github.com/spindlehq/warden/internal/provider"
	"github.com/spindlehq/warden/internal/store"
)

// Settings tunes the lifecycle state machine.
type Settings struct {
	// ConflictThreshold is the number of remote conflict signals tolerated
	// within one connection's lifetime before a reconnect is forced.
	ConflictThreshold int

	// AttemptCap bounds consecutive reconnect attempts per failure.
	AttemptCap int

	// TotalReconnectCap bounds reconnects within ReconnectWindow; exceeding
	// it permanently deactivates the session.
	TotalReconnectCap int
	ReconnectWindow   time.Duration

	// RetryDelay is the fixed pause before re-entering the reconnect
	// procedure after the attempt cap is exhausted.
	RetryDelay time.Duration

	// SettleTime is the pause after stopping same-credential siblings.
	SettleTime time.Duration

	// Backoff shapes the pre-reconnect wait.
	Backoff failure.BackoffPolicy

	// ShutdownTimeout bounds ShutdownAll.
	ShutdownTimeout time.Duration

	// DisconnectTimeout bounds individual client teardowns.
	DisconnectTimeout time.Duration
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		ConflictThreshold: 3,
		AttemptCap:        2,
		TotalReconnectCap: 3,
		ReconnectWindow:   5 * time.Minute,
		RetryDelay:        3 * time.Second,
		SettleTime:        2 * time.Second,
		Backoff:           failure.DefaultBackoffPolicy(),
		ShutdownTimeout:   10 * time.Second,
		DisconnectTimeout: 5 * time.Second,
	}
}

type platformSpec struct {
	factory provider.Factory
	traits  provider.Traits
}

// Orchestrator owns every session's lifecycle in this process.
type Orchestrator struct {
	settings   Settings
	store      store.Store
	classifier *failure.Classifier
	events     *bus.Bus

	registry *Registry
	claims   *claimSet
	locks    *keyedMutex

	mu        sync.RWMutex
	platforms map[provider.Platform]platformSpec
	onQR      func(sessionID, code string)

	shuttingDown atomic.Bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New creates an orchestrator. Platforms must be registered before Start
// is called for them.
func New(settings Settings, st store.Store, classifier *failure.Classifier, events *bus.Bus) *Orchestrator {
	if settings.DisconnectTimeout <= 0 {
		settings.DisconnectTimeout = 5 * time.Second
	}
	return &Orchestrator{
		settings:   settings,
		store:      st,
		classifier: classifier,
		events:     events,
		registry:   NewRegistry(),
		claims:     newClaimSet(),
		locks:      newKeyedMutex(),
		platforms:  make(map[provider.Platform]platformSpec),
		stopCh:     make(chan struct{}),
	}
}

// RegisterPlatform wires a platform adapter: its client factory, its
// behavior traits, and its failure classification table.
func (o *Orchestrator) RegisterPlatform(p provider.Platform, f provider.Factory, traits provider.Traits, table map[provider.ErrorCode]failure.Kind) {
	o.classifier.Register(p, table)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.platforms[p] = platformSpec{factory: f, traits: traits}
}

// SetQRHandler installs the hook invoked when a platform requires QR
// pairing.
func (o *Orchestrator) SetQRHandler(fn func(sessionID, code string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onQR = fn
}

// StartRequest describes one session start.
type StartRequest struct {
	SessionID string
	Platform  provider.Platform

	// Credential, when non-empty, replaces the stored secret. Empty uses
	// the stored one.
	Credential string

	// Force tears down an existing live connection for this session first.
	Force bool
}

// Start brings a session's connection up: persists intent, resolves
// same-credential conflicts, claims the singleton, dials, and registers
// the handle. It blocks until the connection is live or the attempt fails.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	if o.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if !req.Platform.Valid() {
		return fmt.Errorf("%w: %q", ErrPlatformUnknown, req.Platform)
	}
	if _, ok := o.spec(req.Platform); !ok {
		return fmt.Errorf("%w: %q not registered", ErrPlatformUnknown, req.Platform)
	}

	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	return o.startLocked(ctx, req)
}

func (o *Orchestrator) startLocked(ctx context.Context, req StartRequest) error {
	log := o.log(req.SessionID, req.Platform)

	if prev := o.registry.Get(req.SessionID); prev != nil {
		if !req.Force && prev.Connected() {
			return ErrAlreadyConnected
		}
		log.Info().Bool("force", req.Force).Msg("replacing existing connection")
		// Stopped must be set before teardown: a reconnect goroutine for
		// the old handle that already won its reconnect slot but has not
		// taken the keyed lock yet must see it and bail, or it would dial
		// a second live connection for this session.
		prev.MarkStopped()
		o.teardown(prev, "replaced by new start")
	}

	// The record must exist before SetCredential: it stamps the digest
	// onto the record it loads. Upsert keeps CreatedAt and the digest of
	// a previously stored credential intact.
	rec, err := o.store.Get(ctx, req.SessionID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("load session record: %w", err)
	}
	if rec == nil {
		rec = &store.Record{SessionID: req.SessionID}
	}
	rec.Platform = req.Platform
	rec.IsActive = true
	rec.Status = store.StatusConnecting
	if err := o.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}

	if req.Credential != "" {
		if err := o.store.SetCredential(ctx, req.SessionID, req.Credential); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
	}
	credential, err := o.store.Credential(ctx, req.SessionID)
	if err != nil {
		return err
	}

	o.resolveConflicts(ctx, req.SessionID, credential)

	if !o.claims.TryClaim(req.SessionID) {
		return ErrClaimHeld
	}
	connected := false
	defer func() {
		if !connected {
			o.claims.Release(req.SessionID)
		}
	}()

	h, err := o.dial(ctx, req.SessionID, req.Platform, credential)
	if err != nil {
		if sErr := o.store.UpdateStatus(ctx, req.SessionID, store.StatusError, true); sErr != nil {
			log.Warn().Err(sErr).Msg("status update failed")
		}
		kind := o.classifier.Classify(req.Platform, err)
		o.publishError(req.SessionID, req.Platform, kind, err)
		return err
	}

	if prev := o.registry.Put(h); prev != nil {
		// A stale handle slipped in; make sure its timers are dead.
		prev.MarkStopped()
	} else {
		metrics.SessionsActive.Inc()
	}

	if err := o.store.UpdateStatus(ctx, req.SessionID, store.StatusConnected, true); err != nil {
		log.Warn().Err(err).Msg("status update failed")
	}

	metrics.SessionConnects.WithLabelValues(string(req.Platform)).Inc()
	o.publishConnected(req.SessionID, req.Platform)
	connected = true

	log.Info().Str("instance_id", h.InstanceID).Msg("session connected")
	return nil
}

// dial builds a fresh client and brings it live. The handle is created
// before Initialize so callbacks firing during the handshake already see
// a consistent handle.
func (o *Orchestrator) dial(ctx context.Context, sessionID string, platform provider.Platform, credential string) (*Handle, error) {
	spec, ok := o.spec(platform)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlatformUnknown, platform)
	}

	instanceID := uuid.New().String()
	client, err := spec.factory(provider.Config{
		SessionID:  sessionID,
		InstanceID: instanceID,
		Credential: credential,
	})
	if err != nil {
		return nil, err
	}

	h := newHandle(sessionID, platform, instanceID, client)

	cb := provider.Callbacks{
		OnConnected: func() {
			o.log(sessionID, platform).Debug().Msg("connection live")
		},
		OnDisconnected: func(reason error) {
			o.handleDisconnect(h, reason)
		},
		OnError: func(err error) {
			o.handleError(h, err)
		},
		OnMessage: func(msg provider.InboundMessage) {
			if err := o.events.PublishMessage(context.Background(), sessionID, platform, msg); err != nil {
				o.log(sessionID, platform).Warn().Err(err).Msg("message publish failed")
			}
		},
		OnQRCode: func(code string) {
			o.mu.RLock()
			fn := o.onQR
			o.mu.RUnlock()
			if fn != nil {
				fn(sessionID, code)
			}
		},
	}

	if err := client.Initialize(ctx, cb); err != nil {
		return nil, err
	}
	return h, nil
}

// resolveConflicts stops every live same-credential sibling before a
// start, then waits the settle time so the remote network releases the
// credential. Losing siblings also lose their active intent; otherwise
// the next auto-resume would restart the credential fight. Best-effort:
// a sibling that fails to stop is logged, not fatal.
func (o *Orchestrator) resolveConflicts(ctx context.Context, sessionID, credential string) {
	siblings, err := o.store.FindByCredential(ctx, credential, sessionID)
	if err != nil {
		logging.Warn().Err(err).Str("session_id", sessionID).Msg("sibling lookup failed")
		return
	}

	stopped := 0
	for _, rec := range siblings {
		h := o.registry.Get(rec.SessionID)
		if h == nil {
			continue
		}
		o.log(rec.SessionID, rec.Platform).Info().
			Str("winner", sessionID).
			Msg("stopping same-credential sibling")

		h.MarkStopped()

		// The caller already holds its own session's keyed lock; blocking
		// on the sibling's here could deadlock against a sibling doing the
		// same in reverse. MarkStopped above makes the sibling's in-flight
		// work bail, so skipping a busy sibling is safe: its own path
		// observes Stopped and tears itself down.
		unlock, ok := o.locks.TryLock(rec.SessionID)
		if !ok {
			o.log(rec.SessionID, rec.Platform).Warn().Msg("sibling busy, teardown left to its own path")
			continue
		}
		o.teardown(h, "credential claimed by "+sessionID)
		if sErr := o.store.UpdateStatus(ctx, rec.SessionID, store.StatusDisconnected, false); sErr != nil {
			logging.Warn().Err(sErr).Str("session_id", rec.SessionID).Msg("status update failed")
		}
		unlock()

		metrics.ConflictResolutions.WithLabelValues("stopped").Inc()
		stopped++
	}

	if stopped > 0 && o.settings.SettleTime > 0 {
		select {
		case <-time.After(o.settings.SettleTime):
		case <-ctx.Done():
		case <-o.stopCh:
		}
	}
}

// Stop tears a session down on operator request and clears its active
// intent so it will not auto-resume.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	h := o.registry.Get(sessionID)
	if h != nil {
		// Cancel pending reconnect work before taking the keyed lock, so a
		// reconnect sleeping in backoff wakes up and releases it.
		h.MarkStopped()
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	rec, err := o.store.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		// An unreadable record must fail the call: returning success here
		// would leave the stop intent unpersisted and auto-resume would
		// bring the session back.
		return fmt.Errorf("load session record: %w", err)
	}
	if errors.Is(err, store.ErrRecordNotFound) && h == nil {
		return ErrSessionNotFound
	}

	if h != nil {
		o.teardown(h, "operator stop")
		metrics.SessionDisconnects.WithLabelValues(string(h.Platform), "operator").Inc()
		o.publishDisconnected(sessionID, h.Platform, "operator stop")
	}

	if rec != nil {
		if err := o.store.UpdateStatus(ctx, sessionID, store.StatusDisconnected, false); err != nil {
			return fmt.Errorf("persist stop: %w", err)
		}
	}
	return nil
}

// ForceReconnect stops every same-credential sibling and force-starts
// the session from its stored record. This is the operator path back for
// a session deactivated by loop detection or a lost credential fight.
func (o *Orchestrator) ForceReconnect(ctx context.Context, sessionID string) error {
	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if h := o.registry.Get(sessionID); h != nil {
		// Wake any reconnect sleeping in backoff so it releases the
		// keyed lock before Start takes it.
		h.MarkStopped()
	}
	return o.Start(ctx, StartRequest{SessionID: sessionID, Platform: rec.Platform, Force: true})
}

// SendText delivers a message through a session's live connection.
func (o *Orchestrator) SendText(ctx context.Context, sessionID, chatID, text string) error {
	h := o.registry.Get(sessionID)
	if h == nil {
		return ErrNotConnected
	}
	client := h.Client()
	if client == nil || !client.Connected() {
		return ErrNotConnected
	}
	return client.SendText(ctx, chatID, text)
}

// SessionStatus is the merged durable and live view of one session.
type SessionStatus struct {
	Record       *store.Record `json:"record"`
	Live         bool          `json:"live"`
	Reconnecting bool          `json:"reconnecting"`
}

// ListActiveSessions returns every session with active intent, merged
// with its live connection state.
func (o *Orchestrator) ListActiveSessions(ctx context.Context) ([]SessionStatus, error) {
	records, err := o.store.FindActive(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]SessionStatus, 0, len(records))
	for _, rec := range records {
		s := SessionStatus{Record: rec}
		if h := o.registry.Get(rec.SessionID); h != nil {
			s.Live = h.Connected()
			s.Reconnecting = h.Reconnecting()
		}
		out = append(out, s)
	}
	return out, nil
}

// Status returns the merged view of one session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	s := SessionStatus{Record: rec}
	if h := o.registry.Get(sessionID); h != nil {
		s.Live = h.Connected()
		s.Reconnecting = h.Reconnecting()
	}
	return s, nil
}

// IsConnected reports whether the session has a live connection in this
// process.
func (o *Orchestrator) IsConnected(sessionID string) bool {
	h := o.registry.Get(sessionID)
	return h != nil && h.Connected()
}

// AutoResume starts every session whose durable intent is active. Sessions
// resume in parallel; a session without a stored credential is deactivated
// instead of failing the whole resume.
func (o *Orchestrator) AutoResume(ctx context.Context) error {
	records, err := o.store.FindActive(ctx, "")
	if err != nil {
		return fmt.Errorf("find active sessions: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	logging.Info().Int("count", len(records)).Msg("auto-resuming sessions")

	var wg sync.WaitGroup
	errCh := make(chan error, len(records))

	for _, rec := range records {
		wg.Add(1)
		go func(rec *store.Record) {
			defer wg.Done()

			if _, err := o.store.Credential(ctx, rec.SessionID); errors.Is(err, store.ErrCredentialMissing) {
				o.log(rec.SessionID, rec.Platform).Warn().Msg("no stored credential, deactivating")
				if sErr := o.store.UpdateStatus(ctx, rec.SessionID, store.StatusError, false); sErr != nil {
					errCh <- fmt.Errorf("deactivate %s: %w", rec.SessionID, sErr)
				}
				return
			}

			err := o.Start(ctx, StartRequest{SessionID: rec.SessionID, Platform: rec.Platform})
			if err != nil && !errors.Is(err, ErrAlreadyConnected) {
				o.log(rec.SessionID, rec.Platform).Error().Err(err).Msg("resume failed")
				errCh <- fmt.Errorf("resume %s: %w", rec.SessionID, err)
			}
		}(rec)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ShutdownAll disconnects every live session concurrently, persisting the
// disconnected status while preserving active intent so sessions resume
// on next boot. Bounded by the shutdown timeout.
func (o *Orchestrator) ShutdownAll(ctx context.Context) error {
	if !o.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(o.stopCh)

	handles := o.registry.List()
	logging.Info().Int("count", len(handles)).Msg("shutting down sessions")

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()

			h.MarkStopped()
			if client := h.Client(); client != nil {
				dctx, cancel := context.WithTimeout(context.Background(), o.settings.DisconnectTimeout)
				if err := client.Disconnect(dctx); err != nil {
					o.log(h.SessionID, h.Platform).Warn().Err(err).Msg("disconnect failed during shutdown")
				}
				cancel()
			}

			// Status only: IsActive survives so auto-resume restores the
			// session after redeploy.
			if err := o.store.UpdateStatusOnly(ctx, h.SessionID, store.StatusDisconnected); err != nil {
				o.log(h.SessionID, h.Platform).Warn().Err(err).Msg("status update failed during shutdown")
			}

			o.claims.Release(h.SessionID)
			if o.registry.Remove(h.SessionID, h) {
				metrics.SessionsActive.Dec()
			}
			metrics.SessionDisconnects.WithLabelValues(string(h.Platform), "shutdown").Inc()
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info().Msg("all sessions shut down")
		return nil
	case <-time.After(o.settings.ShutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", o.settings.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleError processes a connection error signal from an adapter.
// Conflict signals are counted toward the forced-reconnect threshold;
// everything else is observability only, because teardown-worthy failures
// also arrive through the disconnect hook.
func (o *Orchestrator) handleError(h *Handle, err error) {
	if o.shuttingDown.Load() || h.Stopped() {
		return
	}

	kind := o.classifier.Classify(h.Platform, err)
	metrics.RecordProviderError(string(h.Platform), kind.String())
	log := o.log(h.SessionID, h.Platform)

	switch kind {
	case failure.KindConflict:
		count := h.NoteConflict()
		log.Warn().Err(err).
			Int("conflict_count", count).
			Int("threshold", o.settings.ConflictThreshold).
			Msg("remote conflict signal")
		o.publishError(h.SessionID, h.Platform, kind, err)

		if count >= o.settings.ConflictThreshold {
			log.Warn().Msg("conflict threshold reached, forcing reconnect with remote logout")
			o.startReconnect(h, true)
		}

	case failure.KindLoggedOut:
		// Absorbed silently: the expected echo of conflict resolution
		// performed by this or another process. The disconnect hook does
		// the teardown.
		log.Debug().Err(err).Msg("remote logout signal")

	case failure.KindTransient:
		if spec, ok := o.spec(h.Platform); ok && spec.traits.SelfHealingTransient {
			log.Debug().Err(err).Msg("transient error, platform stack self-heals")
		} else {
			log.Warn().Err(err).Msg("transient error")
		}

	default:
		log.Error().Err(err).Str("kind", kind.String()).Msg("connection error")
		o.publishError(h.SessionID, h.Platform, kind, err)
	}
}

// handleDisconnect processes a connection drop. A nil reason is a clean
// local disconnect and is ignored.
func (o *Orchestrator) handleDisconnect(h *Handle, reason error) {
	if reason == nil || o.shuttingDown.Load() || h.Stopped() {
		return
	}

	kind := o.classifier.Classify(h.Platform, reason)
	log := o.log(h.SessionID, h.Platform)
	metrics.SessionDisconnects.WithLabelValues(string(h.Platform), "remote").Inc()

	switch kind {
	case failure.KindLoggedOut:
		// Another holder of the credential forced us out, most likely our
		// own conflict resolution running elsewhere. Tear down without an
		// error event and clear active intent.
		log.Info().Msg("logged out remotely, absorbing")
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.deactivate(h, store.StatusDisconnected, "")
		}()

	case failure.KindFatal:
		log.Error().Err(reason).Msg("fatal connection failure, deactivating")
		o.publishError(h.SessionID, h.Platform, kind, reason)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.deactivate(h, store.StatusError, "")
		}()

	case failure.KindConflict:
		o.publishDisconnected(h.SessionID, h.Platform, reason.Error())
		o.startReconnect(h, true)

	default:
		// Transient and unauthorized drops feed the reconnect path with the
		// stored credential.
		o.publishDisconnected(h.SessionID, h.Platform, reason.Error())
		o.startReconnect(h, false)
	}
}

// deactivate tears a session down permanently: no reconnect, active
// intent cleared. A stale handle that was already replaced tears down
// its own client only; the replacement's record stays untouched.
func (o *Orchestrator) deactivate(h *Handle, status store.Status, reason string) {
	h.MarkStopped()
	unlock := o.locks.Lock(h.SessionID)
	defer unlock()

	if !o.teardown(h, reason) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.settings.DisconnectTimeout)
	defer cancel()
	if err := o.store.UpdateStatus(ctx, h.SessionID, status, false); err != nil {
		o.log(h.SessionID, h.Platform).Warn().Err(err).Msg("status update failed")
	}
}

// startReconnect launches the reconnect procedure if no other is in
// flight for this handle.
func (o *Orchestrator) startReconnect(h *Handle, conflict bool) {
	if !h.BeginReconnect() {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer h.EndReconnect()
		o.runReconnect(h, conflict)
	}()
}

// runReconnect is the reconnect procedure: loop detection, optional remote
// logout for conflicts, full client teardown, cancellable backoff wait,
// and redial retaining the singleton claim. Runs under the session's keyed
// lock.
func (o *Orchestrator) runReconnect(h *Handle, conflict bool) {
	unlock := o.locks.Lock(h.SessionID)
	defer unlock()

	if h.Stopped() || o.shuttingDown.Load() {
		return
	}

	log := o.log(h.SessionID, h.Platform)
	ctx, cancel := context.WithTimeout(context.Background(), o.settings.DisconnectTimeout)
	defer cancel()

	count := h.RecordReconnect(time.Now(), o.settings.ReconnectWindow)
	if count > o.settings.TotalReconnectCap {
		log.Error().
			Int("reconnects_in_window", count).
			Dur("window", o.settings.ReconnectWindow).
			Msg("reconnect loop detected, deactivating session")
		metrics.LoopDetections.Inc()
		o.publishError(h.SessionID, h.Platform, failure.KindFatal, ErrLoopDetected)

		h.MarkStopped()
		o.teardown(h, ErrLoopDetected.Error())
		if err := o.store.UpdateStatus(ctx, h.SessionID, store.StatusError, false); err != nil {
			log.Warn().Err(err).Msg("status update failed")
		}
		return
	}

	credential, err := o.store.Credential(ctx, h.SessionID)
	if err != nil {
		log.Error().Err(err).Msg("credential unavailable, deactivating")
		h.MarkStopped()
		o.teardown(h, "credential unavailable")
		if sErr := o.store.UpdateStatus(ctx, h.SessionID, store.StatusError, false); sErr != nil {
			log.Warn().Err(sErr).Msg("status update failed")
		}
		return
	}

	if sErr := o.store.UpdateStatusOnly(ctx, h.SessionID, store.StatusConnecting); sErr != nil {
		log.Warn().Err(sErr).Msg("status update failed")
	}

	if conflict {
		// Evict the competing holder before we reconnect, and wait longer
		// so the eviction propagates.
		if client := h.Client(); client != nil {
			if err := client.ForceLogout(ctx); err != nil {
				log.Warn().Err(err).Msg("remote force-logout failed")
			} else {
				metrics.ForcedLogouts.Inc()
			}
		}
		h.SetLongerWait()
	}

	for attempt := 1; attempt <= o.settings.AttemptCap; attempt++ {
		metrics.ReconnectAttempts.WithLabelValues(string(h.Platform)).Inc()

		// Full teardown of the old client: stale listeners must never
		// outlive the connection they belong to.
		if old := h.Client(); old != nil {
			dctx, dcancel := context.WithTimeout(context.Background(), o.settings.DisconnectTimeout)
			if err := old.Disconnect(dctx); err != nil {
				log.Warn().Err(err).Msg("old client teardown failed")
			}
			dcancel()
			h.SetClient(nil)
		}

		wait := o.settings.Backoff.Wait(attempt, h.TakeLongerWait())
		metrics.RecordBackoffWait(wait)
		log.Info().Int("attempt", attempt).Dur("wait", wait).Msg("reconnecting")

		if !o.sleep(h, wait) {
			log.Debug().Msg("reconnect cancelled")
			return
		}

		dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Minute)
		client, err := o.dialForHandle(dctx, h, credential)
		dcancel()
		if err == nil {
			h.SetClient(client)
			h.ResetCounters()
			if sErr := o.store.UpdateStatusOnly(context.Background(), h.SessionID, store.StatusConnected); sErr != nil {
				log.Warn().Err(sErr).Msg("status update failed")
			}
			metrics.SessionConnects.WithLabelValues(string(h.Platform)).Inc()
			o.publishConnected(h.SessionID, h.Platform)
			log.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		kind := o.classifier.Classify(h.Platform, err)
		if kind == failure.KindFatal {
			log.Error().Err(err).Msg("fatal failure during reconnect, deactivating")
			o.publishError(h.SessionID, h.Platform, kind, err)
			h.MarkStopped()
			o.teardown(h, err.Error())
			if sErr := o.store.UpdateStatus(context.Background(), h.SessionID, store.StatusError, false); sErr != nil {
				log.Warn().Err(sErr).Msg("status update failed")
			}
			return
		}
	}

	// Attempt cap exhausted: pause, then re-enter the procedure. The
	// rolling window converts endless failures into loop detection.
	if sErr := o.store.UpdateStatusOnly(context.Background(), h.SessionID, store.StatusError); sErr != nil {
		log.Warn().Err(sErr).Msg("status update failed")
	}
	log.Warn().Dur("retry_delay", o.settings.RetryDelay).Msg("attempt cap exhausted, scheduling retry")
	h.Schedule(o.settings.RetryDelay, func() {
		o.startReconnect(h, false)
	})
}

// dialForHandle rebuilds the client for an existing handle, reusing its
// callbacks wiring but a fresh instance ID.
func (o *Orchestrator) dialForHandle(ctx context.Context, h *Handle, credential string) (provider.Client, error) {
	spec, ok := o.spec(h.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlatformUnknown, h.Platform)
	}

	client, err := spec.factory(provider.Config{
		SessionID:  h.SessionID,
		InstanceID: uuid.New().String(),
		Credential: credential,
	})
	if err != nil {
		return nil, err
	}

	cb := provider.Callbacks{
		OnDisconnected: func(reason error) { o.handleDisconnect(h, reason) },
		OnError:        func(err error) { o.handleError(h, err) },
		OnMessage: func(msg provider.InboundMessage) {
			if err := o.events.PublishMessage(context.Background(), h.SessionID, h.Platform, msg); err != nil {
				o.log(h.SessionID, h.Platform).Warn().Err(err).Msg("message publish failed")
			}
		},
		OnQRCode: func(code string) {
			o.mu.RLock()
			fn := o.onQR
			o.mu.RUnlock()
			if fn != nil {
				fn(h.SessionID, code)
			}
		},
	}

	if err := client.Initialize(ctx, cb); err != nil {
		return nil, err
	}
	return client, nil
}

// teardown disconnects the handle's client and, only when the registry
// still maps the session to this exact handle, removes it and releases
// the singleton claim. A stale handle (already replaced by a force start)
// must never release the claim its successor holds. Callers hold the
// keyed lock. Returns whether this handle was the current one.
func (o *Orchestrator) teardown(h *Handle, reason string) bool {
	h.CancelTimer()

	if client := h.Client(); client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.settings.DisconnectTimeout)
		if err := client.Disconnect(ctx); err != nil {
			o.log(h.SessionID, h.Platform).Warn().Err(err).Msg("client teardown failed")
		}
		cancel()
		h.SetClient(nil)
	}

	current := o.registry.Remove(h.SessionID, h)
	if current {
		o.claims.Release(h.SessionID)
		metrics.SessionsActive.Dec()
	}

	if reason != "" {
		o.log(h.SessionID, h.Platform).Debug().
			Str("reason", reason).
			Bool("current", current).
			Msg("handle torn down")
	}
	return current
}

// sleep waits d, cancellable by handle stop and orchestrator shutdown.
// Returns false when cancelled.
func (o *Orchestrator) sleep(h *Handle, d time.Duration) bool {
	if d <= 0 {
		return !h.Stopped() && !o.shuttingDown.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !h.Stopped() && !o.shuttingDown.Load()
	case <-h.StopChan():
		return false
	case <-o.stopCh:
		return false
	}
}

func (o *Orchestrator) spec(p provider.Platform) (platformSpec, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.platforms[p]
	return s, ok
}

func (o *Orchestrator) publishConnected(sessionID string, platform provider.Platform) {
	if err := o.events.PublishConnected(context.Background(), sessionID, platform); err != nil {
		o.log(sessionID, platform).Warn().Err(err).Msg("event publish failed")
	}
}

func (o *Orchestrator) publishDisconnected(sessionID string, platform provider.Platform, reason string) {
	if err := o.events.PublishDisconnected(context.Background(), sessionID, platform, reason); err != nil {
		o.log(sessionID, platform).Warn().Err(err).Msg("event publish failed")
	}
}

func (o *Orchestrator) publishError(sessionID string, platform provider.Platform, kind failure.Kind, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := o.events.PublishError(context.Background(), sessionID, platform, kind.String(), reason); err != nil {
		o.log(sessionID, platform).Warn().Err(err).Msg("event publish failed")
	}
}

// log returns a pointer so call sites can chain level methods directly.
func (o *Orchestrator) log(sessionID string, platform provider.Platform) *zerolog.Logger {
	l := logging.With().
		Str("session_id", sessionID).
		Str("platform", string(platform)).
		Logger()
	return &l
}
