// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spindlehq/warden/internal/provider"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory(nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func putRecord(t *testing.T, s *BadgerStore, id string, platform provider.Platform, active bool) {
	t.Helper()
	err := s.Put(context.Background(), &Record{
		SessionID: id,
		Platform:  platform,
		IsActive:  active,
		Status:    StatusDisconnected,
	})
	if err != nil {
		t.Fatalf("Put(%s): %v", id, err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "sess-1", provider.PlatformQRLink, true)

	rec, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.SessionID != "sess-1" || rec.Platform != provider.PlatformQRLink || !rec.IsActive {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("got %v, want ErrRecordNotFound", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "sess-1", provider.PlatformBotPoll, true)

	if err := s.SetCredential(ctx, "sess-1", "token-abc"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	secret, err := s.Credential(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if secret != "token-abc" {
		t.Errorf("got %q, want token-abc", secret)
	}

	rec, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.CredentialDigest != CredentialDigest("token-abc") {
		t.Error("record digest not stamped")
	}
}

func TestCredentialMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "sess-1", provider.PlatformBotPoll, true)

	_, err := s.Credential(ctx, "sess-1")
	if !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("got %v, want ErrCredentialMissing", err)
	}
}

func TestFindActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "a", provider.PlatformQRLink, true)
	putRecord(t, s, "b", provider.PlatformBotPoll, true)
	putRecord(t, s, "c", provider.PlatformQRLink, false)

	t.Run("all platforms", func(t *testing.T) {
		recs, err := s.FindActive(ctx, "")
		if err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("got %d records, want 2", len(recs))
		}
	})

	t.Run("filtered by platform", func(t *testing.T) {
		recs, err := s.FindActive(ctx, provider.PlatformQRLink)
		if err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if len(recs) != 1 || recs[0].SessionID != "a" {
			t.Errorf("unexpected records: %+v", recs)
		}
	})
}

func TestFindByCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformBotPoll, true)
	putRecord(t, s, "s2", provider.PlatformBotPoll, true)
	putRecord(t, s, "s3", provider.PlatformBotPoll, true)

	for _, id := range []string{"s1", "s2"} {
		if err := s.SetCredential(ctx, id, "shared-token"); err != nil {
			t.Fatalf("SetCredential(%s): %v", id, err)
		}
	}
	if err := s.SetCredential(ctx, "s3", "other-token"); err != nil {
		t.Fatalf("SetCredential(s3): %v", err)
	}

	t.Run("finds sharers", func(t *testing.T) {
		recs, err := s.FindByCredential(ctx, "shared-token", "")
		if err != nil {
			t.Fatalf("FindByCredential: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("got %d records, want 2", len(recs))
		}
	})

	t.Run("excludes requested session", func(t *testing.T) {
		recs, err := s.FindByCredential(ctx, "shared-token", "s1")
		if err != nil {
			t.Fatalf("FindByCredential: %v", err)
		}
		if len(recs) != 1 || recs[0].SessionID != "s2" {
			t.Errorf("unexpected records: %+v", recs)
		}
	})

	t.Run("no match", func(t *testing.T) {
		recs, err := s.FindByCredential(ctx, "unknown-token", "")
		if err != nil {
			t.Fatalf("FindByCredential: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("got %d records, want 0", len(recs))
		}
	})
}

func TestSetCredentialReplacesIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformBotPoll, true)

	if err := s.SetCredential(ctx, "s1", "first"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := s.SetCredential(ctx, "s1", "second"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	recs, err := s.FindByCredential(ctx, "first", "")
	if err != nil {
		t.Fatalf("FindByCredential: %v", err)
	}
	if len(recs) != 0 {
		t.Error("stale index entry for replaced credential")
	}

	recs, err = s.FindByCredential(ctx, "second", "")
	if err != nil {
		t.Fatalf("FindByCredential: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records for new credential, want 1", len(recs))
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformQRLink, true)

	if err := s.UpdateStatus(ctx, "s1", StatusError, false); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rec, _ := s.Get(ctx, "s1")
	if rec.Status != StatusError || rec.IsActive {
		t.Errorf("unexpected record after UpdateStatus: %+v", rec)
	}
}

func TestUpdateStatusOnlyPreservesActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformQRLink, true)

	if err := s.UpdateStatusOnly(ctx, "s1", StatusDisconnected); err != nil {
		t.Fatalf("UpdateStatusOnly: %v", err)
	}

	rec, _ := s.Get(ctx, "s1")
	if rec.Status != StatusDisconnected {
		t.Errorf("status = %s, want disconnected", rec.Status)
	}
	if !rec.IsActive {
		t.Error("IsActive was not preserved")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformQRLink, true)
	if err := s.SetCredential(ctx, "s1", "tok"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrRecordNotFound) {
		t.Error("record still present after delete")
	}
	if _, err := s.Credential(ctx, "s1"); !errors.Is(err, ErrCredentialMissing) {
		t.Error("credential still present after delete")
	}
	recs, _ := s.FindByCredential(ctx, "tok", "")
	if len(recs) != 0 {
		t.Error("credential index still present after delete")
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

// reversingEncryptor is a trivial Encryptor for verifying the store calls
// Encrypt before persisting and Decrypt on the way out.
type reversingEncryptor struct{}

func (reversingEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (reversingEncryptor) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("not encrypted")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

func TestCredentialEncryptedAtRest(t *testing.T) {
	s, err := OpenInMemory(reversingEncryptor{})
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	putRecord(t, s, "s1", provider.PlatformBotPoll, true)
	if err := s.SetCredential(ctx, "s1", "secret"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	secret, err := s.Credential(ctx, "s1")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if secret != "secret" {
		t.Errorf("got %q, want secret", secret)
	}

	// The index must still be keyed by plaintext digest.
	recs, err := s.FindByCredential(ctx, "secret", "")
	if err != nil {
		t.Fatalf("FindByCredential: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}
