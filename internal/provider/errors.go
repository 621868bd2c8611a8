// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package provider

import (
	"errors"
	"fmt"
)

// ErrorCode is a structured error code produced at the adapter boundary.
// Adapters map protocol-specific failures (status codes, close frames,
// error payloads) to these codes exactly once; everything above the
// boundary works with codes, never message text.
type ErrorCode string

const (
	// CodeTimeout is a network timeout or temporary I/O failure.
	CodeTimeout ErrorCode = "timeout"

	// CodeConnectionLost is an unexpected connection drop.
	CodeConnectionLost ErrorCode = "connection_lost"

	// CodeUnauthorized is an expired or invalid credential.
	CodeUnauthorized ErrorCode = "unauthorized"

	// CodeStreamConflict means the remote network detected another live
	// connection using the same credential.
	CodeStreamConflict ErrorCode = "stream_conflict"

	// CodeLoggedOut is a remote-initiated forced logout.
	CodeLoggedOut ErrorCode = "logged_out"

	// CodeBadRequest is a malformed request the adapter produced; retrying
	// cannot help.
	CodeBadRequest ErrorCode = "bad_request"

	// CodeBadConfig is an unrecoverable configuration error.
	CodeBadConfig ErrorCode = "bad_config"

	// CodeUnknown is any failure the adapter could not map.
	CodeUnknown ErrorCode = "unknown"
)

// Error is a connection error crossing the adapter boundary.
type Error struct {
	Platform Platform
	Code     ErrorCode
	Op       string // adapter operation, e.g. "dial", "poll", "read"
	Err      error  // underlying cause, may be nil
}

// NewError builds a structured adapter error.
func NewError(platform Platform, code ErrorCode, op string, err error) *Error {
	return &Error{Platform: platform, Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Platform, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Op, e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err. Returns CodeUnknown when err is
// not a *provider.Error.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}
