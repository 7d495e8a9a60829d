package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// mtlsAuthenticator presents a client certificate chain and trusts only the
// configured CA roots. The TLS configuration is built once at construction
// and reused by reference across every connect attempt.
type mtlsAuthenticator struct {
	tlsConfig *tls.Config
}

// NewMtls loads the client certificate chain, private key (PKCS#8 or legacy
// RSA), and CA trust root from the given PEM file paths. It fails with
// ConfigInvalid if any file is missing, empty, or contains no parseable
// certificate/key, matching DatanoiseTV-swupdate-cli's createTLSConfig pattern
// of building the tls.Config once up front.
func NewMtls(certPath, keyPath, caCertPath string) (Authenticator, error) {
	const op = "auth.NewMtls"

	certPEM, err := readNonEmpty(certPath)
	if err != nil {
		return nil, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("client_cert_chain: %w", err))
	}
	keyPEM, err := readNonEmpty(keyPath)
	if err != nil {
		return nil, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("client_key: %w", err))
	}
	caPEM, err := readNonEmpty(caCertPath)
	if err != nil {
		return nil, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("trust_roots: %w", err))
	}

	clientCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("parsing client cert/key: %w", err))
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("no parseable certificates in trust root"))
	}

	return &mtlsAuthenticator{
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// Prepare implements Authenticator. The mTLS variant ignores host and serial:
// the TLS configuration was fully determined at construction.
func (m *mtlsAuthenticator) Prepare(_ context.Context, _, _ string) (Result, error) {
	return Result{TLSConfig: m.tlsConfig}, nil
}

func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return data, nil
}
