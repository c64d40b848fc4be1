package xmldsig

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/cache"
)

// Bundle locates a password-protected PKCS#12 file.
type Bundle struct {
	Path     string
	Password string
}

// CertificateStore loads PKCS#12 bundles lazily and caches the decoded key pair
// per taxpayer and environment.
type CertificateStore struct {
	bundles  map[signing.CertificateHandle]Bundle
	cache    *cache.TTLCache[signing.CertificateHandle, *tls.Certificate]
	ttl      time.Duration
	readFile func(string) ([]byte, error)
	log      *slog.Logger
}

// NewCertificateStore creates a store over the configured bundles. A positive ttl
// forces a reload from disk once an entry is older than ttl.
func NewCertificateStore(bundles map[signing.CertificateHandle]Bundle, ttl time.Duration, log *slog.Logger) *CertificateStore {
	return &CertificateStore{
		bundles:  bundles,
		cache:    cache.NewTTLCache[signing.CertificateHandle, *tls.Certificate](),
		ttl:      ttl,
		readFile: os.ReadFile,
		log:      log,
	}
}

// Certificate returns the cached key pair for handle, loading it on first use.
func (s *CertificateStore) Certificate(handle signing.CertificateHandle) (*tls.Certificate, error) {
	return s.cache.GetOrLoad(handle, s.ttl, func() (*tls.Certificate, error) {
		return s.load(handle)
	})
}

// Reload re-reads the bundle for handle and swaps the cached entry.
// On failure the previous entry is kept.
func (s *CertificateStore) Reload(handle signing.CertificateHandle) error {
	cert, err := s.load(handle)
	if err != nil {
		return err
	}
	s.cache.Set(handle, cert, s.ttl)
	s.log.Info("Certificate reloaded", "handle", handle.String())
	return nil
}

// Inspect describes the certificate configured for handle.
func (s *CertificateStore) Inspect(handle signing.CertificateHandle) (CertificateInfo, error) {
	cert, err := s.Certificate(handle)
	if err != nil {
		return CertificateInfo{}, err
	}
	return Describe(cert)
}

func (s *CertificateStore) load(handle signing.CertificateHandle) (*tls.Certificate, error) {
	bundle, ok := s.bundles[handle]
	if !ok || bundle.Path == "" {
		return nil, failure.Signing(fmt.Sprintf("no certificate configured for %s", handle), nil)
	}

	data, err := s.readFile(bundle.Path)
	if err != nil {
		return nil, failure.Signing(fmt.Sprintf("read certificate for %s", handle), err)
	}

	cert, err := DecodeBundle(data, bundle.Password)
	if err != nil {
		return nil, failure.Signing(fmt.Sprintf("decode certificate for %s", handle), err)
	}

	s.log.Debug("Certificate loaded", "handle", handle.String(), "path", bundle.Path)
	return cert, nil
}

// DecodeBundle decodes a PKCS#12 bundle holding an RSA key and its certificate.
func DecodeBundle(data []byte, password string) (*tls.Certificate, error) {
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return &tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  rsaKey,
		Leaf:        leaf,
	}, nil
}

// CertificateInfo summarizes a signing certificate.
type CertificateInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Serial    string    `json:"serial"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`
	KeyBits   int       `json:"keyBits"`
}

// Describe extracts CertificateInfo from a key pair.
func Describe(cert *tls.Certificate) (CertificateInfo, error) {
	leaf, err := signing.Leaf(cert)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("parse certificate: %w", err)
	}
	info := CertificateInfo{
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		Serial:    leaf.SerialNumber.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
	}
	if pub, ok := leaf.PublicKey.(*rsa.PublicKey); ok {
		info.KeyBits = pub.N.BitLen()
	}
	return info, nil
}

var allowedKeyBits = map[int]bool{2048: true, 3072: true, 4096: true}

// clockTolerance absorbs skew between our clock and the certificate issuer's.
const clockTolerance = 12 * time.Hour

func checkCertificate(leaf *x509.Certificate, now time.Time) error {
	if now.Add(clockTolerance).Before(leaf.NotBefore) {
		return fmt.Errorf("certificate not valid before %s", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.Add(-clockTolerance).After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate key is not RSA")
	}
	if bits := pub.N.BitLen(); !allowedKeyBits[bits] {
		return fmt.Errorf("unsupported RSA key size %d", bits)
	}
	return nil
}
