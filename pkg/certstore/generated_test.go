package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedStore(t *testing.T) {
	tests := []struct {
		name        string
		names       []string
		commonName  string
		dnsNames    []string
		ipAddresses []string
	}{
		{
			name:        "no names",
			commonName:  "localhost",
			dnsNames:    []string{"localhost"},
			ipAddresses: []string{"127.0.0.1", "::1"},
		},
		{
			name:        "routed hosts",
			names:       []string{"a.example", "b.example:8443", "a.example"},
			commonName:  "a.example",
			dnsNames:    []string{"a.example", "b.example", "localhost"},
			ipAddresses: []string{"127.0.0.1", "::1"},
		},
		{
			name:        "ip address",
			names:       []string{"10.0.0.1"},
			commonName:  "10.0.0.1",
			dnsNames:    []string{"localhost"},
			ipAddresses: []string{"10.0.0.1", "127.0.0.1", "::1"},
		},
	}

	store, err := NewGeneratedStore(StoreOptions{CommonName: "Test CA", TTL: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "Test CA", store.GetCACertificate().Subject.CommonName)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := store.Issue(tt.names...)
			require.NoError(t, err)
			require.Len(t, cert.Certificate, 2, "chain should contain leaf + CA")

			leaf := cert.Leaf
			assert.Equal(t, tt.commonName, leaf.Subject.CommonName)
			assert.Equal(t, tt.dnsNames, leaf.DNSNames)

			var ips []string
			for _, ip := range leaf.IPAddresses {
				ips = append(ips, ip.String())
			}
			assert.Equal(t, tt.ipAddresses, ips)

			now := time.Now()
			assert.True(t, now.After(leaf.NotBefore))
			assert.True(t, now.Before(leaf.NotAfter))

			_, err = leaf.Verify(x509.VerifyOptions{
				DNSName: "localhost",
				Roots:   store.GetCertPool(),
			})
			assert.NoError(t, err)
		})
	}
}

func TestIssuePEMLoadsAsKeyPair(t *testing.T) {
	store, err := NewGeneratedStore(DefaultStoreOptions())
	require.NoError(t, err)

	certPEM, keyPEM, err := store.IssuePEM("proxy.test")
	require.NoError(t, err)

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	assert.Len(t, pair.Certificate, 2)

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "proxy.test")
	assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
}

func TestEncodePEMRejectsUnknownKey(t *testing.T) {
	_, _, err := EncodePEM(&tls.Certificate{PrivateKey: "not a key"})
	assert.ErrorContains(t, err, "unsupported private key type")
}
