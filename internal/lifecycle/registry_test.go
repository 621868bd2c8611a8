// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import "testing"

func TestRegistryPutReturnsPrevious(t *testing.T) {
	r := NewRegistry()

	a := newHandle("s1", testPlatform, "inst-a", nil)
	if prev := r.Put(a); prev != nil {
		t.Errorf("prev = %v, want nil", prev)
	}

	b := newHandle("s1", testPlatform, "inst-b", nil)
	if prev := r.Put(b); prev != a {
		t.Error("Put did not return the replaced handle")
	}

	if got := r.Get("s1"); got != b {
		t.Error("Get did not return the latest handle")
	}
}

func TestRegistryConditionalRemove(t *testing.T) {
	r := NewRegistry()

	a := newHandle("s1", testPlatform, "inst-a", nil)
	b := newHandle("s1", testPlatform, "inst-b", nil)
	r.Put(a)
	r.Put(b)

	// A stale teardown must not evict the newer handle.
	if r.Remove("s1", a) {
		t.Error("stale Remove succeeded")
	}
	if r.Get("s1") != b {
		t.Error("newer handle evicted by stale Remove")
	}

	if !r.Remove("s1", b) {
		t.Error("current Remove failed")
	}
	if r.Get("s1") != nil {
		t.Error("handle still present after Remove")
	}
	if r.Remove("s1", b) {
		t.Error("Remove of absent handle succeeded")
	}
}

func TestRegistryListAndLen(t *testing.T) {
	r := NewRegistry()
	r.Put(newHandle("s1", testPlatform, "i1", nil))
	r.Put(newHandle("s2", testPlatform, "i2", nil))

	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("List len = %d, want 2", got)
	}
}
