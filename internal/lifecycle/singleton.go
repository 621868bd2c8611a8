// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import "sync"

// claimSet enforces the per-process singleton: at most one live connection
// per session ID. TryClaim is an atomic check-and-set, so two concurrent
// starts for the same session cannot both win.
type claimSet struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func newClaimSet() *claimSet {
	return &claimSet{claims: make(map[string]struct{})}
}

// TryClaim claims the session ID. Returns false when already claimed.
func (s *claimSet) TryClaim(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.claims[sessionID]; held {
		return false
	}
	s.claims[sessionID] = struct{}{}
	return true
}

// Release frees the claim. Releasing an unheld claim is a no-op.
func (s *claimSet) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, sessionID)
}

// Held reports whether the session ID is currently claimed.
func (s *claimSet) Held(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.claims[sessionID]
	return held
}

// Len returns the number of held claims.
func (s *claimSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// keyedMutex serializes lifecycle operations per session ID so a stop and
// a reconnect for the same session never interleave, while different
// sessions proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for the key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// TryLock acquires the mutex for the key only if it is free. Callers
// already holding another session's lock must use this instead of Lock:
// two sessions blocking on each other's keys would deadlock.
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	e := k.acquire(key)
	if !e.mu.TryLock() {
		k.release(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}, true
}

func (k *keyedMutex) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
