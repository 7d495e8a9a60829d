package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// TestSign_ConcreteScenario pins an exact known-answer vector:
// key="k", secret="s", serial="SN", timestamp=0.
func TestSign_ConcreteScenario(t *testing.T) {
	salt := "NH1:device-socket:shared-secret:connect\n\nx-nh-alg=NH1-HMAC-sha256-1000-32\nx-nh-key=k\nx-nh-time=0"
	derived := pbkdf2.Key([]byte("s"), []byte(salt), 1000, 32, sha256.New)
	mac := hmac.New(sha256.New, derived)
	mac.Write([]byte("SN"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got := Sign([]byte("s"), "k", "0", "SN")
	if got != want {
		t.Errorf("Sign mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestSharedSecret_HeadersDeterministicAtSameTimestamp(t *testing.T) {
	a := NewSharedSecret("k", "s").(*sharedSecretAuthenticator)
	a.now = func() time.Time { return time.Unix(1000, 0) }

	r1, err := a.Prepare(context.Background(), "host", "SN")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	r2, err := a.Prepare(context.Background(), "host", "SN")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if r1.Headers.Get("x-nh-signature") != r2.Headers.Get("x-nh-signature") {
		t.Error("expected identical signature for identical timestamp")
	}
	if r1.Headers.Get("x-nh-alg") != sigAlg {
		t.Errorf("x-nh-alg = %q, want %q", r1.Headers.Get("x-nh-alg"), sigAlg)
	}
	if r1.Headers.Get("x-nh-key") != "k" {
		t.Errorf("x-nh-key = %q, want %q", r1.Headers.Get("x-nh-key"), "k")
	}
	if r1.Headers.Get("x-nh-time") != "1000" {
		t.Errorf("x-nh-time = %q, want %q", r1.Headers.Get("x-nh-time"), "1000")
	}
}

func TestSharedSecret_HeadersDifferAcrossTimestamps(t *testing.T) {
	a := NewSharedSecret("k", "s").(*sharedSecretAuthenticator)

	a.now = func() time.Time { return time.Unix(1, 0) }
	r1, _ := a.Prepare(context.Background(), "host", "SN")

	a.now = func() time.Time { return time.Unix(2, 0) }
	r2, _ := a.Prepare(context.Background(), "host", "SN")

	if r1.Headers.Get("x-nh-signature") == r2.Headers.Get("x-nh-signature") {
		t.Error("expected different signatures for different timestamps")
	}
}

func TestSharedSecret_NoClientCert(t *testing.T) {
	a := NewSharedSecret("k", "s")
	r, err := a.Prepare(context.Background(), "host", "SN")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(r.TLSConfig.Certificates) != 0 {
		t.Error("shared-secret variant must not present a client certificate")
	}
}

func TestMtls_MissingFiles(t *testing.T) {
	_, err := NewMtls("/nonexistent/cert.pem", "/nonexistent/key.pem", "/nonexistent/ca.pem")
	if !agenterr.Is(err, agenterr.ConfigInvalid) {
		t.Fatalf("want ConfigInvalid, got %v", err)
	}
}

func TestMtls_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewMtls(empty, empty, empty)
	if !agenterr.Is(err, agenterr.ConfigInvalid) {
		t.Fatalf("want ConfigInvalid, got %v", err)
	}
}

func TestMtls_ValidMaterial(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, caPath := writeSelfSignedCert(t, dir)

	a, err := NewMtls(certPath, keyPath, caPath)
	if err != nil {
		t.Fatalf("NewMtls: %v", err)
	}

	r, err := a.Prepare(context.Background(), "example.com", "SN")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(r.TLSConfig.Certificates) != 1 {
		t.Fatalf("expected 1 client certificate, got %d", len(r.TLSConfig.Certificates))
	}
	if r.TLSConfig.RootCAs == nil {
		t.Error("expected trust roots to be set")
	}
	if r.Headers != nil {
		t.Error("mtls variant must not add upgrade headers")
	}
	_ = tls.Config{}
}
