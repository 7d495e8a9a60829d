// Package auth produces, per connect attempt, the TLS configuration and
// optional upgrade headers needed to open the device WebSocket, under either
// of the two supported authentication modes. The two modes are a closed,
// two-member tagged union rather than an open interface meant for
// third-party implementations -- the Authenticator interface exists only
// because the channel session needs one call that works for both.
package auth

import (
	"context"
	"crypto/tls"
	"net/http"
)

// Result is what an Authenticator produces for a single connect attempt.
type Result struct {
	TLSConfig *tls.Config
	// Headers is nil for the mTLS variant; populated fresh per call for the
	// shared-secret variant.
	Headers http.Header
}

// Authenticator produces connect-attempt material for the given target host
// and device serial (the serial is only consumed by the shared-secret
// variant's signature; the mTLS variant ignores it).
type Authenticator interface {
	Prepare(ctx context.Context, host, serial string) (Result, error)
}
