// Package certs generates and persists a root certificate authority and
// mints per-hostname leaf certificates for MITM TLS interception.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	caKeySize       = 2048
	caValidityYears = 2
	leafKeySize     = 2048
	leafValidity    = 30 * 24 * time.Hour
)

// CA owns the root certificate/key pair used to sign leaf certificates.
type CA struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM []byte
	keyPEM  []byte
}

// LoadOrCreateCA loads ca.pem/ca.key from dir if both exist, else generates
// a fresh root, persists it (key file mode 0600 on POSIX), and logs
// best-effort trust-install instructions. If the files exist but cannot be
// read or parsed, that error is returned and nothing is overwritten.
func LoadOrCreateCA(dir string, logger *slog.Logger) (*CA, error) {
	if logger == nil {
		logger = slog.Default()
	}
	certPath := filepath.Join(dir, "ca.pem")
	keyPath := filepath.Join(dir, "ca.key")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("certs: create cert dir: %w", err)
	}

	if ca, err := loadCA(certPath, keyPath); err == nil {
		logger.Info("loaded existing root CA", "path", certPath)
		return ca, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	ca, err := generateRootCA()
	if err != nil {
		return nil, fmt.Errorf("certs: generate root CA: %w", err)
	}
	if err := os.WriteFile(certPath, ca.certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("certs: write CA cert: %w", err)
	}
	if err := writeSecureFile(keyPath, ca.keyPEM); err != nil {
		return nil, fmt.Errorf("certs: write CA key: %w", err)
	}

	logger.Info("generated new root CA", "path", certPath)
	logInstallInstructions(logger, certPath)
	return ca, nil
}

// logInstallInstructions prints best-effort, OS-specific trust-install
// commands. This is informational text, not part of the correctness
// contract.
func logInstallInstructions(logger *slog.Logger, certPath string) {
	logger.Warn("install the root CA certificate to trust HTTPS interception")
	switch runtime.GOOS {
	case "darwin":
		logger.Warn("  macOS: sudo security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain " + certPath)
	default:
		logger.Warn("  Linux: sudo cp " + certPath + " /usr/local/share/ca-certificates/ && sudo update-ca-certificates")
	}
}

// loadCA parses a previously-saved root CA. The certificate is re-derived
// from its own key usage/subject template and re-signed with the loaded
// key rather than kept byte-identical; the comment above the re-issue
// below explains why leaves minted after a reload are still trusted.
func loadCA(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("certs: decode CA certificate PEM")
	}
	origCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("certs: decode CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA key: %w", err)
	}

	// Re-issue from the parsed certificate's own fields (subject, validity,
	// serial, key usage, basic constraints) signed by the loaded key. This
	// preserves enough issuer information — same subject, same public key,
	// same serial — that clients which trusted the originally emitted root
	// continue to accept leaves issued after reload, even though the
	// signature bytes differ from the first run (see Known property, §3.5).
	template := &x509.Certificate{
		SerialNumber:          origCert.SerialNumber,
		Subject:               origCert.Subject,
		NotBefore:             origCert.NotBefore,
		NotAfter:              origCert.NotAfter,
		KeyUsage:              origCert.KeyUsage,
		BasicConstraintsValid: origCert.BasicConstraintsValid,
		IsCA:                  origCert.IsCA,
		MaxPathLen:            origCert.MaxPathLen,
		MaxPathLenZero:        origCert.MaxPathLenZero,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: reissue CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("certs: parse reissued CA certificate: %w", err)
	}
	reissuedPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	return &CA{cert: cert, key: key, certPEM: reissuedPEM, keyPEM: keyPEM}, nil
}

// generateRootCA creates a fresh, self-signed root CA matching the
// identity fields required of this system: CN "Local Logger CA", Org
// "Local Logger", Country "US".
func generateRootCA() (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Local Logger CA",
			Organization: []string{"Local Logger"},
			Country:      []string{"US"},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing created certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM}, nil
}

func randomSerial() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, err
	}
	serial.Add(serial, big.NewInt(1))
	return serial, nil
}

// mintLeaf generates and signs a fresh leaf certificate for hostname.
func (ca *CA) mintLeaf(hostname string) (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("generating leaf key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, fmt.Errorf("generating leaf serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("signing leaf certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing leaf certificate: %w", err)
	}
	return cert, key, nil
}

func writeSecureFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
