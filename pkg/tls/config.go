package tls

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"time"
)

// NextProtos are the application protocols offered during ALPN
var NextProtos = []string{"h2", "http/1.1", "http/1.0"}

// Config holds TLS configuration parameters
type Config struct {
	CertFile string
	KeyFile  string
}

// LoadServerConfig reads the key pair named by config and builds the server TLS configuration
func LoadServerConfig(config Config) (*tls.Config, error) {
	certData, err := os.ReadFile(config.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	keyData, err := os.ReadFile(config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	return NewServerConfig(certData, keyData)
}

// NewServerConfig builds the TLS configuration shared by every inbound
// connection. Both PEM and raw DER encodings are accepted. Client
// certificates are never requested.
func NewServerConfig(certData, keyData []byte) (*tls.Config, error) {
	certPEM, err := certificatePEM(certData)
	if err != nil {
		return nil, err
	}

	keyPEM, err := privateKeyPEM(keyData)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   append([]string(nil), NextProtos...),
	}, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}

func certificatePEM(data []byte) ([]byte, error) {
	if isPEM(data) {
		return data, nil
	}

	certs, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found")
	}

	var buf bytes.Buffer
	for _, c := range certs {
		if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func privateKeyPEM(data []byte) ([]byte, error) {
	if isPEM(data) {
		return data, nil
	}

	if _, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: data}), nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: data}), nil
	}
	if _, err := x509.ParseECPrivateKey(data); err == nil {
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: data}), nil
	}

	return nil, fmt.Errorf("failed to parse DER private key: not PKCS#8, PKCS#1 or SEC 1")
}

// HandshakeError is returned by Terminator.Accept when a client fails to
// complete the TLS handshake. It only affects that one connection.
type HandshakeError struct {
	RemoteAddr string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake with %s failed: %v", e.RemoteAddr, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Terminator performs the server side of the TLS handshake on accepted connections
type Terminator struct {
	config  *tls.Config
	timeout time.Duration
}

// NewTerminator wraps config; a positive timeout bounds every handshake
func NewTerminator(config *tls.Config, timeout time.Duration) *Terminator {
	return &Terminator{
		config:  config,
		timeout: timeout,
	}
}

// Config returns the shared server configuration
func (t *Terminator) Config() *tls.Config {
	return t.config
}

// Accept completes the handshake on raw. On failure raw is closed and a
// *HandshakeError is returned.
func (t *Terminator) Accept(ctx context.Context, raw net.Conn) (*tls.Conn, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tlsConn := tls.Server(raw, t.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &HandshakeError{RemoteAddr: raw.RemoteAddr().String(), Err: err}
	}

	return tlsConn, nil
}

// VersionName returns a string representation of the TLS version
func VersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}
