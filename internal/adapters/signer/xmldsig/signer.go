package xmldsig

import (
	"crypto/tls"
	"log/slog"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
	"3tcapital/ms_facturacion_sunat/internal/core/ubl"
)

// SignatureID is the Id SUNAT expects on the ds:Signature element. The
// document's cac:Signature/cbc:ID references it.
const SignatureID = "SignatureSP"

// Signer produces enveloped RSA-SHA256 signatures inside the UBL extension block.
type Signer struct {
	certs signing.CertificateSource
	now   func() time.Time
	log   *slog.Logger
}

// NewSigner creates a Signer that resolves key pairs from certs.
func NewSigner(certs signing.CertificateSource, log *slog.Logger) *Signer {
	return &Signer{certs: certs, now: time.Now, log: log}
}

// Sign returns a signed copy of xml.
func (s *Signer) Sign(xml string, handle signing.CertificateHandle) (string, error) {
	cert, err := s.certs.Certificate(handle)
	if err != nil {
		return "", err
	}
	leaf, err := signing.Leaf(cert)
	if err != nil {
		return "", failure.Signing("parse certificate", err)
	}
	if err := checkCertificate(leaf, s.now()); err != nil {
		return "", failure.Signing(err.Error(), nil)
	}

	clean, err := ubl.SanitizeDocument(xml)
	if err != nil {
		return "", failure.Signing("input is not well-formed", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(clean); err != nil {
		return "", failure.Signing("parse document", err)
	}
	root := doc.Root()

	slot, err := insertionPoint(root)
	if err != nil {
		return "", err
	}

	signature, err := s.construct(root, cert)
	if err != nil {
		return "", err
	}
	signature.CreateAttr("Id", SignatureID)
	slot.AddChild(signature)

	out, err := doc.WriteToString()
	if err != nil {
		return "", failure.Signing("serialize signed document", err)
	}

	s.log.Debug("Document signed", "handle", handle.String(), "root", root.Tag)
	return ubl.Sanitize(out), nil
}

func (s *Signer) construct(root *etree.Element, cert *tls.Certificate) (*etree.Element, error) {
	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(*cert))
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, failure.Signing("configure signature method", err)
	}

	signature, err := ctx.ConstructSignature(root, true)
	if err != nil {
		return nil, failure.Signing("construct signature", err)
	}
	return signature, nil
}

// insertionPoint returns the first empty ext:ExtensionContent under ext:UBLExtensions.
func insertionPoint(root *etree.Element) (*etree.Element, error) {
	extensions := ubl.Child(root, ubl.NamespaceEXT, "UBLExtensions")
	if extensions == nil {
		return nil, failure.Signing("missing ext:UBLExtensions", nil)
	}

	found := false
	for _, ext := range ubl.Children(extensions, ubl.NamespaceEXT, "UBLExtension") {
		for _, content := range ubl.Children(ext, ubl.NamespaceEXT, "ExtensionContent") {
			found = true
			if len(content.ChildElements()) == 0 && strings.TrimSpace(content.Text()) == "" {
				return content, nil
			}
		}
	}
	if !found {
		return nil, failure.Signing("missing ext:UBLExtension/ext:ExtensionContent", nil)
	}
	return nil, failure.Signing("signature insertion point already populated", nil)
}
