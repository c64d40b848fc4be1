package signing

import (
	"crypto/tls"
	"crypto/x509"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
)

// CertificateHandle selects the certificate bundle used to sign for a taxpayer.
type CertificateHandle struct {
	RUC         string
	Environment authority.Environment
}

func (h CertificateHandle) String() string {
	return string(h.Environment) + "/" + h.RUC
}

// Signer produces an enveloped signature over a UBL document.
type Signer interface {
	Sign(xml string, handle CertificateHandle) (string, error)
}

// CertificateSource resolves the key pair for a handle.
type CertificateSource interface {
	Certificate(handle CertificateHandle) (*tls.Certificate, error)
}

// Leaf returns the parsed end-entity certificate of c.
func Leaf(c *tls.Certificate) (*x509.Certificate, error) {
	if c.Leaf != nil {
		return c.Leaf, nil
	}
	return x509.ParseCertificate(c.Certificate[0])
}
