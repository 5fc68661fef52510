package filtering

import (
	"crypto/rsa"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

const (
	VerifyMethodSharedSecret = "shared_secret"
	VerifyMethodCertificate  = "certificate"
)

// Verifier decides whether a hotfix may run.
type Verifier interface {
	Verify(d Descriptor) error
}

// SignSharedSecret returns the signature a hotfix needs under the shared
// secret scheme: hex(sha512(code + secret)).
func SignSharedSecret(code, secret string) string {
	sum := sha512.Sum512([]byte(code + secret))
	return hex.EncodeToString(sum[:])
}

// SignWithKey returns a base64 RSA PKCS#1 v1.5 SHA-256 signature of code.
func SignWithKey(code string, key *rsa.PrivateKey) (string, error) {
	sig, err := jwt.SigningMethodRS256.Sign(code, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign hotfix: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

type SharedSecretVerifier struct {
	secret string
}

func NewSharedSecretVerifier(secret string) *SharedSecretVerifier {
	return &SharedSecretVerifier{secret: secret}
}

func (v *SharedSecretVerifier) Verify(d Descriptor) error {
	if v.secret == "" {
		return fmt.Errorf("no hotfix shared secret configured")
	}
	expected := SignSharedSecret(d.Code, v.secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(d.Signature)) != 1 {
		return fmt.Errorf("hotfix signature is not valid")
	}
	return nil
}

// CertificateVerifier checks hotfixes signed by a developer certificate that
// was itself issued by one of the trusted CAs. Layout under certsDir:
//
//	ca/     trusted CA certificates
//	certs/  developer certificates, named by the hotfix "certificate" field
type CertificateVerifier struct {
	certsDir string
	cas      []*x509.Certificate

	mu    sync.RWMutex
	certs map[string]*x509.Certificate
}

func NewCertificateVerifier(certsDir string) (*CertificateVerifier, error) {
	caDir := filepath.Join(certsDir, "ca")
	entries, err := os.ReadDir(caDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA directory: %w", err)
	}

	v := &CertificateVerifier{
		certsDir: certsDir,
		certs:    make(map[string]*x509.Certificate),
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(caDir, entry.Name())
		cert, err := loadCertificate(path)
		if err != nil {
			return nil, err
		}
		if !cert.BasicConstraintsValid || !cert.IsCA {
			return nil, fmt.Errorf("CA certificate is not a CA: %s", path)
		}
		v.cas = append(v.cas, cert)
	}

	return v, nil
}

func (v *CertificateVerifier) Verify(d Descriptor) error {
	name := d.Certificate
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("hotfix certificate name %q is invalid", name)
	}

	cert, err := v.certificate(name)
	if err != nil {
		return err
	}

	if !v.issuedByTrustedCA(cert) {
		return fmt.Errorf("certificate %s is not signed by a recognised CA", name)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate %s does not hold an RSA key", name)
	}

	sig, err := base64.StdEncoding.DecodeString(d.Signature)
	if err != nil {
		return fmt.Errorf("hotfix signature is not base64: %w", err)
	}

	if err := jwt.SigningMethodRS256.Verify(d.Code, sig, pub); err != nil {
		return fmt.Errorf("hotfix signature is not valid: %w", err)
	}
	return nil
}

func (v *CertificateVerifier) issuedByTrustedCA(cert *x509.Certificate) bool {
	for _, ca := range v.cas {
		if cert.CheckSignatureFrom(ca) == nil {
			return true
		}
	}
	return false
}

func (v *CertificateVerifier) certificate(name string) (*x509.Certificate, error) {
	v.mu.RLock()
	cert, ok := v.certs[name]
	v.mu.RUnlock()
	if ok {
		return cert, nil
	}

	cert, err := loadCertificate(filepath.Join(v.certsDir, "certs", name))
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.certs[name] = cert
	v.mu.Unlock()
	return cert, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certificate could not be loaded: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certificate could not be loaded: %s is not a PEM certificate", path)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certificate could not be loaded: %w", err)
	}
	return cert, nil
}

// HotfixVerifier picks the scheme from the descriptor: hotfixes naming a
// certificate need a certificate signature, the rest the shared secret.
type HotfixVerifier struct {
	secret      *SharedSecretVerifier
	certificate *CertificateVerifier
}

func NewHotfixVerifier(secret *SharedSecretVerifier, certificate *CertificateVerifier) *HotfixVerifier {
	return &HotfixVerifier{secret: secret, certificate: certificate}
}

func (v *HotfixVerifier) Method(d Descriptor) string {
	if d.Certificate != "" {
		return VerifyMethodCertificate
	}
	return VerifyMethodSharedSecret
}

func (v *HotfixVerifier) Verify(d Descriptor) error {
	if d.Code == "" {
		return fmt.Errorf("hotfix has no code")
	}
	if d.Signature == "" {
		return fmt.Errorf("hotfix has no signature")
	}

	if v.Method(d) == VerifyMethodCertificate {
		if v.certificate == nil {
			return fmt.Errorf("hotfix names a certificate but no certificate directory is configured")
		}
		return v.certificate.Verify(d)
	}

	if v.secret == nil {
		return fmt.Errorf("no hotfix shared secret configured")
	}
	return v.secret.Verify(d)
}
