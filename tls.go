package thingshadow

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pkcs12"
)

// Default credential file names inside a certificate directory.
const (
	DefaultRootCAFile      = "rootCA.crt"
	DefaultCertificateFile = "cert.pem"
	DefaultPrivateKeyFile  = "privkey.pem"
)

// ErrNoRootCA is returned when the root CA file holds no PEM certificate.
var ErrNoRootCA = errors.New("no certificates found in root CA file")

// CertificatePaths returns the default root CA, client certificate and
// private key paths inside dir.
func CertificatePaths(dir string) (rootCA, cert, key string) {
	return filepath.Join(dir, DefaultRootCAFile),
		filepath.Join(dir, DefaultCertificateFile),
		filepath.Join(dir, DefaultPrivateKeyFile)
}

// LoadTLSConfig builds a mutual-TLS client configuration from PEM files.
func LoadTLSConfig(rootCAFile, certFile, keyFile string) (*tls.Config, error) {
	pool, err := loadRootCA(rootCAFile)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	return newClientTLSConfig(pool, cert), nil
}

// LoadPKCS12TLSConfig builds a mutual-TLS client configuration from a PEM
// root CA and a PKCS#12 bundle holding the client certificate and key.
func LoadPKCS12TLSConfig(rootCAFile, p12File, password string) (*tls.Config, error) {
	pool, err := loadRootCA(rootCAFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p12File)
	if err != nil {
		return nil, fmt.Errorf("read pkcs12 bundle: %w", err)
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12 bundle: %w", err)
	}

	var bundle []byte
	for _, b := range blocks {
		bundle = append(bundle, pem.EncodeToMemory(b)...)
	}

	cert, err := tls.X509KeyPair(bundle, bundle)
	if err != nil {
		return nil, fmt.Errorf("load pkcs12 key pair: %w", err)
	}

	return newClientTLSConfig(pool, cert), nil
}

func loadRootCA(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrNoRootCA, path)
	}
	return pool, nil
}

func newClientTLSConfig(pool *x509.CertPool, cert tls.Certificate) *tls.Config {
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}
