// Package agenterr defines the finite set of error kinds the connection core
// can produce, so callers can branch on semantics (fatal vs. reconnect-worthy)
// instead of matching on error strings.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	// ConfigInvalid means config or auth material was missing or malformed.
	// Fatal at startup.
	ConfigInvalid Kind = "config_invalid"
	// SerialUnavailable means the device identity could not be determined.
	// Fatal at startup.
	SerialUnavailable Kind = "serial_unavailable"
	// TlsFailed means the TLS handshake failed.
	TlsFailed Kind = "tls_failed"
	// ConnectFailed means the TCP dial failed.
	ConnectFailed Kind = "connect_failed"
	// UpgradeFailed means the WebSocket upgrade handshake failed.
	UpgradeFailed Kind = "upgrade_failed"
	// AuthRejected means the join reply carried an auth-refusal reason.
	AuthRejected Kind = "auth_rejected"
	// JoinFailed means the join reply was a non-ok, non-auth-refusal error.
	JoinFailed Kind = "join_failed"
	// ProtocolMalformed means a frame was structurally invalid.
	ProtocolMalformed Kind = "protocol_malformed"
	// HeartbeatTimeout means no heartbeat reply arrived within the interval.
	HeartbeatTimeout Kind = "heartbeat_timeout"
	// DownloadFailed means the firmware image could not be fetched.
	DownloadFailed Kind = "download_failed"
	// ApplyUnavailable means the writer binary could not be spawned.
	ApplyUnavailable Kind = "apply_unavailable"
	// ApplyFailed means the writer exited non-zero.
	ApplyFailed Kind = "apply_failed"
	// IoFailed means a local file I/O operation failed.
	IoFailed Kind = "io_failed"
)

// Error wraps an underlying cause with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind, operation label, and cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or does
// not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
