package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// sigAlg is the fixed algorithm identifier advertised in x-nh-alg.
	sigAlg = "NH1-HMAC-sha256-1000-32"

	pbkdf2Iterations = 1000
	pbkdf2KeyLen      = 32
)

// sharedSecretAuthenticator signs the upgrade request with an HMAC derived
// from a shared secret, regenerating headers on every connect attempt because
// the embedded timestamp must stay within the server's validity window.
type sharedSecretAuthenticator struct {
	keyID  string
	secret []byte

	// now is overridable in tests for deterministic signatures.
	now func() time.Time
}

// NewSharedSecret builds an Authenticator that signs every connect attempt
// with HMAC-SHA256 over a PBKDF2-derived key.
func NewSharedSecret(keyID, secret string) Authenticator {
	return &sharedSecretAuthenticator{
		keyID:  keyID,
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Prepare implements Authenticator. host is unused -- the signed payload is
// keyed on the device serial, not the target host.
func (s *sharedSecretAuthenticator) Prepare(_ context.Context, _, serial string) (Result, error) {
	ts := s.now().Unix()
	headers := s.headersAt(serial, ts)

	return Result{
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		Headers:   headers,
	}, nil
}

// headersAt computes the four upgrade headers for the given serial and unix
// timestamp. Factored out so tests can pin the timestamp.
func (s *sharedSecretAuthenticator) headersAt(serial string, unixTime int64) http.Header {
	tsStr := strconv.FormatInt(unixTime, 10)
	sig := Sign(s.secret, s.keyID, tsStr, serial)

	h := http.Header{}
	h.Set("x-nh-alg", sigAlg)
	h.Set("x-nh-key", s.keyID)
	h.Set("x-nh-time", tsStr)
	h.Set("x-nh-signature", sig)
	return h
}

// Sign implements the signature algorithm as a pure function so it can
// be exercised directly by tests.
//
//  1. salt = "NH1:device-socket:shared-secret:connect\n\nx-nh-alg={alg}\nx-nh-key={key}\nx-nh-time={ts}"
//  2. derivedKey = PBKDF2-HMAC-SHA256(password=secret, salt=salt, iter=1000, keyLen=32)
//  3. sig = HMAC-SHA256(key=derivedKey, message=serial)
//  4. return base64-std(sig)
func Sign(secret []byte, keyID, ts, serial string) string {
	salt := fmt.Sprintf(
		"NH1:device-socket:shared-secret:connect\n\nx-nh-alg=%s\nx-nh-key=%s\nx-nh-time=%s",
		sigAlg, keyID, ts,
	)
	derivedKey := pbkdf2.Key(secret, []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	mac := hmac.New(sha256.New, derivedKey)
	mac.Write([]byte(serial))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
