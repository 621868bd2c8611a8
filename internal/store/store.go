// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package store persists session records and credentials.
//
// The store is the durable half of the session model: the declarative
// "operator wants this running" intent (IsActive) survives process
// restarts, while the observed runtime Status is advisory. Credentials are
// encrypted at rest when an Encryptor is supplied.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spindlehq/warden/internal/provider"
)

// Status is the observed runtime state of a session. It is persisted for
// operator visibility but is never authoritative; IsActive is.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Record is one session's durable state.
//
// Invariant: IsActive=true with Status=disconnected after a clean shutdown
// means "resume me on next boot"; IsActive=false means "leave me alone".
type Record struct {
	SessionID string            `json:"session_id"`
	Platform  provider.Platform `json:"platform"`
	IsActive  bool              `json:"is_active"`
	Status    Status            `json:"status"`

	// CredentialDigest is the SHA-256 hex digest of the stored credential,
	// kept on the record so same-credential sessions can be found without
	// decrypting every secret.
	CredentialDigest string `json:"credential_digest,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sentinel errors.
var (
	// ErrRecordNotFound is returned when no record exists for a session ID.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrCredentialMissing is returned when a session has no stored
	// credential. Starting such a session is a precondition failure.
	ErrCredentialMissing = errors.New("no credential stored for session")
)

// Encryptor encrypts credentials before they hit disk. A nil Encryptor
// stores plaintext; production wiring uses config.CredentialEncryptor.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Store is the persistence contract consumed by the lifecycle orchestrator.
type Store interface {
	// Put creates or replaces a session record. CreatedAt/UpdatedAt are
	// maintained by the store.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for a session, or ErrRecordNotFound.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Delete removes a record and its credential. Deleting an absent
	// record is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// FindActive returns all records with IsActive=true. An empty platform
	// matches every platform.
	FindActive(ctx context.Context, platform provider.Platform) ([]*Record, error)

	// FindByCredential returns every record whose credential matches the
	// given secret, excluding excludingID when non-empty.
	FindByCredential(ctx context.Context, credential, excludingID string) ([]*Record, error)

	// UpdateStatus persists both the observed status and the declarative
	// active intent.
	UpdateStatus(ctx context.Context, sessionID string, status Status, isActive bool) error

	// UpdateStatusOnly persists the observed status while preserving
	// IsActive as-is. Used by ordered shutdown so auto-resume still works
	// after a redeploy.
	UpdateStatusOnly(ctx context.Context, sessionID string, status Status) error

	// SetCredential stores (and indexes) the secret for a session.
	SetCredential(ctx context.Context, sessionID, secret string) error

	// Credential returns the stored secret, or ErrCredentialMissing.
	Credential(ctx context.Context, sessionID string) (string, error)

	// Close releases the underlying database.
	Close() error
}
