package thingshadow

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCertificate(t testing.TB) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}

// writeTestCredentials fills dir with a self-signed certificate acting as
// both root CA and client certificate.
func writeTestCredentials(t *testing.T, dir string) {
	t.Helper()

	certPEM, keyPEM := generateTestCertificate(t)
	rootCA, cert, key := CertificatePaths(dir)

	require.NoError(t, os.WriteFile(rootCA, certPEM, 0o600))
	require.NoError(t, os.WriteFile(cert, certPEM, 0o600))
	require.NoError(t, os.WriteFile(key, keyPEM, 0o600))
}

func TestCertificatePaths(t *testing.T) {
	rootCA, cert, key := CertificatePaths("/etc/certs")

	assert.Equal(t, "/etc/certs/rootCA.crt", rootCA)
	assert.Equal(t, "/etc/certs/cert.pem", cert)
	assert.Equal(t, "/etc/certs/privkey.pem", key)
}

func TestLoadTLSConfig(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		dir := t.TempDir()
		writeTestCredentials(t, dir)

		cfg, err := LoadTLSConfig(CertificatePaths(dir))
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("missing root CA", func(t *testing.T) {
		dir := t.TempDir()
		_, err := LoadTLSConfig(CertificatePaths(dir))
		assert.ErrorContains(t, err, "read root CA")
	})

	t.Run("root CA without certificates", func(t *testing.T) {
		dir := t.TempDir()
		writeTestCredentials(t, dir)
		rootCA, cert, key := CertificatePaths(dir)
		require.NoError(t, os.WriteFile(rootCA, []byte("not a pem"), 0o600))

		_, err := LoadTLSConfig(rootCA, cert, key)
		assert.ErrorIs(t, err, ErrNoRootCA)
	})

	t.Run("missing key", func(t *testing.T) {
		dir := t.TempDir()
		writeTestCredentials(t, dir)
		rootCA, cert, _ := CertificatePaths(dir)

		_, err := LoadTLSConfig(rootCA, cert, filepath.Join(dir, "nope.pem"))
		assert.ErrorContains(t, err, "load client certificate")
	})
}

func TestLoadPKCS12TLSConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestCredentials(t, dir)
	rootCA, _, _ := CertificatePaths(dir)

	t.Run("missing bundle", func(t *testing.T) {
		_, err := LoadPKCS12TLSConfig(rootCA, filepath.Join(dir, "client.p12"), "")
		assert.ErrorContains(t, err, "read pkcs12 bundle")
	})

	t.Run("bundle", func(t *testing.T) {
		// testdata/client.p12 holds the key of testdata/client.crt (password "secret")
		certPEM, err := os.ReadFile(filepath.Join("testdata", "client.crt"))
		require.NoError(t, err)
		block, _ := pem.Decode(certPEM)
		require.NotNil(t, block)

		cfg, err := LoadPKCS12TLSConfig(filepath.Join("testdata", "client.crt"), filepath.Join("testdata", "client.p12"), "secret")
		require.NoError(t, err)

		require.Len(t, cfg.Certificates, 1)
		require.NotEmpty(t, cfg.Certificates[0].Certificate)
		assert.Equal(t, block.Bytes, cfg.Certificates[0].Certificate[0])
		assert.NotNil(t, cfg.Certificates[0].PrivateKey)
		assert.NotNil(t, cfg.RootCAs)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := LoadPKCS12TLSConfig(filepath.Join("testdata", "client.crt"), filepath.Join("testdata", "client.p12"), "nope")
		assert.ErrorContains(t, err, "decode pkcs12 bundle")
	})

	t.Run("corrupt bundle", func(t *testing.T) {
		p12 := filepath.Join(dir, "corrupt.p12")
		require.NoError(t, os.WriteFile(p12, []byte{0x30, 0x03, 0x02, 0x01, 0x03}, 0o600))

		_, err := LoadPKCS12TLSConfig(rootCA, p12, "secret")
		assert.ErrorContains(t, err, "decode pkcs12 bundle")
	})
}
