// Package relayidentity manages the relay's long-term TLS identity: a
// self-signed server certificate generated on first run and persisted
// at the configured secret_key_path, so a restarted relay presents the
// same key instead of a fresh one every boot. Adapted from the
// teacher's internal/certutil, trimmed to the one case 0k-Sync needs —
// a self-signed server cert for the QUIC listener — since 0k-Sync has
// no mTLS, no CA hierarchy, and no client-certificate issuance: the
// group secret, not the transport certificate, is what authenticates a
// device to its group.
package relayidentity

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
	"net"
	"os"
	"path/filepath"
	"time"
)

// ValidFor is how long a generated relay certificate remains valid
// before it must be regenerated.
const ValidFor = 365 * 24 * time.Hour

// LoadOrCreate loads a PEM-encoded certificate and key pair from
// certPath/keyPath, generating and persisting a fresh self-signed
// server certificate if either file is missing.
func LoadOrCreate(certPath, keyPath string) (tls.Certificate, error) {
	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			return tls.LoadX509KeyPair(certPath, keyPath)
		}
	}
	return generate(certPath, keyPath)
}

// LoadOrCreateFromKeyPath derives a sibling certificate path from
// secretKeyPath (replacing its extension with .crt) and loads or
// generates the pair, matching spec.md §6's single secret_key_path
// configuration option.
func LoadOrCreateFromKeyPath(secretKeyPath string) (tls.Certificate, error) {
	ext := filepath.Ext(secretKeyPath)
	certPath := secretKeyPath[:len(secretKeyPath)-len(ext)] + ".crt"
	return LoadOrCreate(certPath, secretKeyPath)
}

func generate(certPath, keyPath string) (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relayidentity: generating private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relayidentity: generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "0k-sync-relay", Organization: []string{"0k-sync"}},
		NotBefore:    now,
		NotAfter:     now.Add(ValidFor),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relayidentity: creating certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relayidentity: marshaling private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := saveToFiles(certPath, keyPath, certPEM, keyPEM); err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}

func saveToFiles(certPath, keyPath string, certPEM, keyPEM []byte) error {
	if dir := filepath.Dir(certPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("relayidentity: creating cert directory: %w", err)
		}
	}
	if dir := filepath.Dir(keyPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("relayidentity: creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("relayidentity: writing certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("relayidentity: writing private key: %w", err)
	}
	return nil
}
