// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/spindlehq/warden/internal/provider"
)

// Key prefixes for BadgerDB storage.
const (
	recordKeyPrefix   = "record:"
	credKeyPrefix     = "cred:"
	credIdxKeyPrefix  = "cred_idx:" // cred_idx:<digest>:<session_id> -> session_id
	credIdxKeySepByte = ':'
)

// BadgerStore implements Store on BadgerDB. Suitable for production use
// with persistence across restarts.
type BadgerStore struct {
	db  *badger.DB
	enc Encryptor // nil means plaintext storage
}

// NewBadgerStore wraps an open BadgerDB handle. enc may be nil.
func NewBadgerStore(db *badger.DB, enc Encryptor) *BadgerStore {
	return &BadgerStore{db: db, enc: enc}
}

// Open opens (or creates) a BadgerDB at dir and wraps it. The badger
// default logger is disabled; callers log through internal/logging.
func Open(dir string, enc Encryptor) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return NewBadgerStore(db, enc), nil
}

// OpenInMemory opens an in-memory BadgerDB. Used by tests.
func OpenInMemory(enc Encryptor) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return NewBadgerStore(db, enc), nil
}

// CredentialDigest returns the SHA-256 hex digest of a secret. The digest,
// not the secret, is used for the same-credential index.
func CredentialDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Put creates or replaces a session record.
func (s *BadgerStore) Put(_ context.Context, rec *Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordKeyPrefix+rec.SessionID), data)
	})
}

// Get returns the record for a session, or ErrRecordNotFound.
func (s *BadgerStore) Get(_ context.Context, sessionID string) (*Record, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordKeyPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record, its credential, and its index entry.
func (s *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	rec, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			[]byte(recordKeyPrefix + sessionID),
			[]byte(credKeyPrefix + sessionID),
		} {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		if rec.CredentialDigest != "" {
			idx := credIdxKey(rec.CredentialDigest, sessionID)
			if err := txn.Delete(idx); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete credential index: %w", err)
			}
		}
		return nil
	})
}

// FindActive returns all records with IsActive=true, optionally filtered by
// platform.
func (s *BadgerStore) FindActive(_ context.Context, platform provider.Platform) ([]*Record, error) {
	var out []*Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if !rec.IsActive {
				continue
			}
			if platform != "" && rec.Platform != platform {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByCredential resolves sessions sharing a credential via the digest
// index, then loads their records.
func (s *BadgerStore) FindByCredential(ctx context.Context, credential, excludingID string) ([]*Record, error) {
	digest := CredentialDigest(credential)
	prefix := []byte(credIdxKeyPrefix + digest + string(credIdxKeySepByte))

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			if id == excludingID {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			// Stale index entry; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateStatus persists status and active intent.
func (s *BadgerStore) UpdateStatus(ctx context.Context, sessionID string, status Status, isActive bool) error {
	return s.mutateRecord(ctx, sessionID, func(rec *Record) {
		rec.Status = status
		rec.IsActive = isActive
	})
}

// UpdateStatusOnly persists status while preserving IsActive.
func (s *BadgerStore) UpdateStatusOnly(ctx context.Context, sessionID string, status Status) error {
	return s.mutateRecord(ctx, sessionID, func(rec *Record) {
		rec.Status = status
	})
}

func (s *BadgerStore) mutateRecord(ctx context.Context, sessionID string, mutate func(*Record)) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	mutate(rec)
	return s.Put(ctx, rec)
}

// SetCredential stores the secret (encrypted when an Encryptor is set),
// updates the digest index, and stamps the digest onto the record.
func (s *BadgerStore) SetCredential(ctx context.Context, sessionID, secret string) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	stored := secret
	if s.enc != nil {
		stored, err = s.enc.Encrypt(secret)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
	}

	digest := CredentialDigest(secret)
	oldDigest := rec.CredentialDigest

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(credKeyPrefix+sessionID), []byte(stored)); err != nil {
			return fmt.Errorf("set credential: %w", err)
		}
		if err := txn.Set(credIdxKey(digest, sessionID), []byte(sessionID)); err != nil {
			return fmt.Errorf("set credential index: %w", err)
		}
		if oldDigest != "" && oldDigest != digest {
			if err := txn.Delete(credIdxKey(oldDigest, sessionID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete stale credential index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.CredentialDigest = digest
	return s.Put(ctx, rec)
}

// Credential returns the decrypted secret, or ErrCredentialMissing.
func (s *BadgerStore) Credential(_ context.Context, sessionID string) (string, error) {
	var stored string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credKeyPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCredentialMissing
		}
		if err != nil {
			return fmt.Errorf("get credential: %w", err)
		}
		return item.Value(func(val []byte) error {
			stored = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	if s.enc == nil {
		return stored, nil
	}
	secret, err := s.enc.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return secret, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func credIdxKey(digest, sessionID string) []byte {
	return []byte(credIdxKeyPrefix + digest + string(credIdxKeySepByte) + sessionID)
}
