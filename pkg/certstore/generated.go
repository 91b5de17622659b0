package certstore

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// StoreOptions contains options for creating a new certificate store
type StoreOptions struct {
	CommonName string
	TTL        time.Duration
}

// DefaultStoreOptions returns the default options for creating a new certificate store
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		CommonName: "envoi development CA",
		TTL:        90 * 24 * time.Hour,
	}
}

// GeneratedStore issues server certificates signed by an in-memory CA.
// It backs the self-signed mode and the tests; nothing is persisted.
type GeneratedStore struct {
	ca    *x509.Certificate
	caKey *rsa.PrivateKey
	ttl   time.Duration
}

// NewGeneratedStore creates a store with a freshly generated CA
func NewGeneratedStore(opts StoreOptions) (*GeneratedStore, error) {
	if opts.CommonName == "" {
		opts.CommonName = DefaultStoreOptions().CommonName
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultStoreOptions().TTL
	}

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %v", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: opts.CommonName,
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(opts.TTL + time.Minute),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %v", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %v", err)
	}

	return &GeneratedStore{
		ca:    caCert,
		caKey: caKey,
		ttl:   opts.TTL,
	}, nil
}

// Issue creates a server certificate covering every name. Names that parse
// as IP addresses become IP SANs, the rest DNS SANs. localhost is always
// included so the proxy can be reached locally.
func (s *GeneratedStore) Issue(names ...string) (*tls.Certificate, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	commonName := "localhost"
	if len(names) > 0 {
		commonName = hostOnly(names[0])
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(s.ttl),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	all := append(append([]string{}, names...), "localhost", "127.0.0.1", "::1")
	seen := make(map[string]bool)
	for _, name := range all {
		host := hostOnly(name)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, s.ca, &privKey.PublicKey, s.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %v", err)
	}

	leaf, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %v", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certBytes, s.ca.Raw},
		PrivateKey:  privKey,
		Leaf:        leaf,
	}, nil
}

// IssuePEM is Issue with the chain and key encoded as PEM
func (s *GeneratedStore) IssuePEM(names ...string) (certPEM, keyPEM []byte, err error) {
	cert, err := s.Issue(names...)
	if err != nil {
		return nil, nil, err
	}
	return EncodePEM(cert)
}

// EncodePEM encodes a certificate chain and its RSA key
func EncodePEM(cert *tls.Certificate) (certPEM, keyPEM []byte, err error) {
	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported private key type %T", cert.PrivateKey)
	}

	var chain bytes.Buffer
	for _, der := range cert.Certificate {
		if err := pem.Encode(&chain, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return nil, nil, fmt.Errorf("failed to encode certificate: %v", err)
		}
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	return chain.Bytes(), keyPEM, nil
}

// GetCertPool returns a certificate pool containing the store's CA certificate
func (s *GeneratedStore) GetCertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.ca)
	return pool
}

// GetCACertificate returns the CA certificate used by this store
func (s *GeneratedStore) GetCACertificate() *x509.Certificate {
	return s.ca
}

func newSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %v", err)
	}
	return serialNumber, nil
}

func hostOnly(name string) string {
	if host, _, err := net.SplitHostPort(name); err == nil {
		return host
	}
	return name
}
