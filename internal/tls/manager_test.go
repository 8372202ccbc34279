package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevCertGeneratedAndReused(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, nil)

	cert, err := gen.GenerateCert([]string{"auth.local", "127.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "auth.local")
	require.Len(t, leaf.IPAddresses, 1)

	before, err := os.ReadFile(filepath.Join(dir, devCertFile))
	require.NoError(t, err)

	_, err = gen.GenerateCert([]string{"auth.local"})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, devCertFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGetCertificateFallsBackToSelfSigned(t *testing.T) {
	m := NewManager(Config{EnableTLS: true, Domain: "localhost", AutoCertDir: t.TempDir()}, nil)

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
	assert.Equal(t, uint16(tls.VersionTLS12), m.TLSConfig().MinVersion)
}

func TestGetCertificateRefusesSelfSignedInProduction(t *testing.T) {
	m := NewManager(Config{EnableTLS: true, Domain: "example.com", AutoCertDir: t.TempDir(), Environment: "production"}, nil)

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"})
	assert.Error(t, err)
}
