// Package certs is the TLS bootstrap collaborator: given a directory,
// it produces a key and a self-signed certificate chain, generating
// them on first use. It deliberately does not implement the original
// source's CA/CSR signing flow — the external interface calls for one
// self-signed leaf, not a certificate hierarchy.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const (
	keyFileName  = "privateKey.key"
	certFileName = "certificate.crt"

	validity = 30 * 24 * time.Hour
	commonName = "localhost"
)

// IsValid reports whether dir holds a key pair and certificate that
// loads cleanly and has not yet expired. Any I/O or parse failure is
// treated as "not valid" rather than propagated, since the caller's
// only next move either way is to (re)generate.
func IsValid(dir string) bool {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return false
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return false
	}
	return time.Now().Before(leaf.NotAfter)
}

// Generate synthesizes an EC P-256 self-signed certificate for
// commonName "localhost" valid for 30 days, writing privateKey.key
// and certificate.crt under dir (created if absent).
func Generate(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("certs: mkdir %s: %w", dir, err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("certs: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("certs: generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{commonName},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	derCert, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("certs: create certificate: %w", err)
	}

	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("certs: open %s: %w", certPath, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derCert}); err != nil {
		return fmt.Errorf("certs: write %s: %w", certPath, err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("certs: marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("certs: open %s: %w", keyPath, err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		return fmt.Errorf("certs: write %s: %w", keyPath, err)
	}

	return nil
}

// EnsureValid generates a fresh key pair and certificate under dir
// unless one is already present and unexpired. This is the corrected
// form of the original's CreateTLSConnection check, which inverted
// the condition and generated only when a cert was already valid.
func EnsureValid(dir string) error {
	if IsValid(dir) {
		return nil
	}
	return Generate(dir)
}

// BuildConfig loads the key pair from dir and returns a *tls.Config
// restricted to TLS 1.3, with peer verification disabled: the trust
// boundary for this transport is elsewhere, per the external
// interface (self-signed certs, no CA, no client auth).
func BuildConfig(dir string) (*tls.Config, error) {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certs: load key pair: %w", err)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{pair},
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
	}, nil
}
