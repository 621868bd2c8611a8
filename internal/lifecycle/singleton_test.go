// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestClaimSetSingleWinner(t *testing.T) {
	claims := newClaimSet()

	const contenders = 50
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if claims.TryClaim("contested") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want exactly 1", wins.Load())
	}
	if !claims.Held("contested") {
		t.Error("claim not held after win")
	}
}

func TestClaimSetReleaseAllowsReclaim(t *testing.T) {
	claims := newClaimSet()

	if !claims.TryClaim("s1") {
		t.Fatal("initial claim failed")
	}
	if claims.TryClaim("s1") {
		t.Error("double claim succeeded")
	}

	claims.Release("s1")
	if claims.Held("s1") {
		t.Error("claim held after release")
	}
	if !claims.TryClaim("s1") {
		t.Error("reclaim after release failed")
	}

	// Releasing an unheld claim is a no-op.
	claims.Release("never-claimed")
	if claims.Len() != 1 {
		t.Errorf("Len = %d, want 1", claims.Len())
	}
}

func TestClaimSetIndependentKeys(t *testing.T) {
	claims := newClaimSet()

	if !claims.TryClaim("a") || !claims.TryClaim("b") {
		t.Error("independent claims interfered")
	}
	if claims.Len() != 2 {
		t.Errorf("Len = %d, want 2", claims.Len())
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	locks := newKeyedMutex()

	var mu sync.Mutex
	order := []int{}

	unlock := locks.Lock("k")

	done := make(chan struct{})
	go func() {
		defer close(done)
		u := locks.Lock("k")
		defer u()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()

	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	locks := newKeyedMutex()

	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		defer close(done)
		u := locks.Lock("b")
		u()
	}()

	select {
	case <-done:
	default:
		// Give the goroutine a chance to run.
		<-done
	}
}

func TestKeyedMutexCleansUpEntries(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("temp")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("entries = %d, want 0 after release", len(locks.locks))
	}
}

func TestKeyedMutexTryLock(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("a")
	if _, ok := locks.TryLock("a"); ok {
		t.Fatal("TryLock acquired a held key")
	}
	unlock()

	tryUnlock, ok := locks.TryLock("a")
	if !ok {
		t.Fatal("TryLock refused a free key")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		u := locks.Lock("a")
		u()
	}()
	tryUnlock()
	<-done

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("entries = %d, want 0 after release", len(locks.locks))
	}
}

func TestKeyedMutexFailedTryLockDropsRef(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("a")
	if _, ok := locks.TryLock("a"); ok {
		t.Fatal("TryLock acquired a held key")
	}
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("entries = %d, want 0 after failed TryLock", len(locks.locks))
	}
}
