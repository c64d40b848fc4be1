package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// TestRUC is the taxpayer used across fixtures.
const TestRUC = "20123456789"

type fragment struct {
	name string
	xml  string
}

func invoiceFragments(ruc string) []fragment {
	return []fragment{
		{"ext:UBLExtensions", `  <ext:UBLExtensions>
    <ext:UBLExtension>
      <ext:ExtensionContent></ext:ExtensionContent>
    </ext:UBLExtension>
  </ext:UBLExtensions>
`},
		{"cbc:UBLVersionID", "  <cbc:UBLVersionID>2.1</cbc:UBLVersionID>\n"},
		{"cbc:CustomizationID", "  <cbc:CustomizationID>2.0</cbc:CustomizationID>\n"},
		{"cbc:ID", "  <cbc:ID>F001-1</cbc:ID>\n"},
		{"cbc:IssueDate", "  <cbc:IssueDate>2026-10-19</cbc:IssueDate>\n"},
		{"cbc:InvoiceTypeCode", "  <cbc:InvoiceTypeCode listID=\"0101\">01</cbc:InvoiceTypeCode>\n"},
		{"cbc:DocumentCurrencyCode", "  <cbc:DocumentCurrencyCode>PEN</cbc:DocumentCurrencyCode>\n"},
		{"cac:Signature", fmt.Sprintf(`  <cac:Signature>
    <cbc:ID>SignatureSP</cbc:ID>
    <cac:SignatoryParty>
      <cac:PartyIdentification>
        <cbc:ID>%s</cbc:ID>
      </cac:PartyIdentification>
      <cac:PartyName>
        <cbc:Name>EMPRESA DEMO S.A.C.</cbc:Name>
      </cac:PartyName>
    </cac:SignatoryParty>
    <cac:DigitalSignatureAttachment>
      <cac:ExternalReference>
        <cbc:URI>#SignatureSP</cbc:URI>
      </cac:ExternalReference>
    </cac:DigitalSignatureAttachment>
  </cac:Signature>
`, ruc)},
		{"cac:AccountingSupplierParty", fmt.Sprintf(`  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyIdentification>
        <cbc:ID schemeID="6">%s</cbc:ID>
      </cac:PartyIdentification>
      <cac:PartyLegalEntity>
        <cbc:RegistrationName>EMPRESA DEMO S.A.C.</cbc:RegistrationName>
      </cac:PartyLegalEntity>
    </cac:Party>
  </cac:AccountingSupplierParty>
`, ruc)},
		{"cac:AccountingCustomerParty", `  <cac:AccountingCustomerParty>
    <cac:Party>
      <cac:PartyIdentification>
        <cbc:ID schemeID="6">20987654321</cbc:ID>
      </cac:PartyIdentification>
      <cac:PartyLegalEntity>
        <cbc:RegistrationName>CLIENTE DEMO S.A.</cbc:RegistrationName>
      </cac:PartyLegalEntity>
    </cac:Party>
  </cac:AccountingCustomerParty>
`},
		{"cac:LegalMonetaryTotal", `  <cac:LegalMonetaryTotal>
    <cbc:PayableAmount currencyID="PEN">118.00</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
`},
		{"cac:InvoiceLine", `  <cac:InvoiceLine>
    <cbc:ID>1</cbc:ID>
    <cbc:InvoicedQuantity unitCode="NIU">1</cbc:InvoicedQuantity>
    <cbc:LineExtensionAmount currencyID="PEN">100.00</cbc:LineExtensionAmount>
    <cac:Item>
      <cbc:Description>SERVICIO DE CONSULTORIA</cbc:Description>
    </cac:Item>
    <cac:Price>
      <cbc:PriceAmount currencyID="PEN">100.00</cbc:PriceAmount>
    </cac:Price>
  </cac:InvoiceLine>
`},
	}
}

// InvoiceXML returns a well-formed unsigned UBL 2.1 invoice for ruc.
// Elements named in omit (for example "cbc:UBLVersionID") are left out.
func InvoiceXML(ruc string, omit ...string) string {
	skip := make(map[string]bool, len(omit))
	for _, name := range omit {
		skip[name] = true
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"` +
		` xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"` +
		` xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"` +
		` xmlns:ds="http://www.w3.org/2000/09/xmldsig#"` +
		` xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2">` + "\n")
	for _, f := range invoiceFragments(ruc) {
		if skip[f.name] {
			continue
		}
		b.WriteString(f.xml)
	}
	b.WriteString("</Invoice>\n")
	return b.String()
}

// SummaryXML returns a daily summary (RC) communication for ruc.
func SummaryXML(ruc string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SummaryDocuments xmlns="urn:sunat:names:specification:ubl:peru:schema:xsd:SummaryDocuments-1" xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2" xmlns:ds="http://www.w3.org/2000/09/xmldsig#" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2" xmlns:sac="urn:sunat:names:specification:ubl:peru:schema:xsd:SunatAggregateComponents-1">
  <ext:UBLExtensions>
    <ext:UBLExtension>
      <ext:ExtensionContent></ext:ExtensionContent>
    </ext:UBLExtension>
  </ext:UBLExtensions>
  <cbc:UBLVersionID>2.0</cbc:UBLVersionID>
  <cbc:CustomizationID>1.1</cbc:CustomizationID>
  <cbc:ID>RC-20261019-1</cbc:ID>
  <cbc:ReferenceDate>2026-10-18</cbc:ReferenceDate>
  <cbc:IssueDate>2026-10-19</cbc:IssueDate>
  <cac:Signature>
    <cbc:ID>SignatureSP</cbc:ID>
    <cac:SignatoryParty>
      <cac:PartyIdentification>
        <cbc:ID>%[1]s</cbc:ID>
      </cac:PartyIdentification>
    </cac:SignatoryParty>
    <cac:DigitalSignatureAttachment>
      <cac:ExternalReference>
        <cbc:URI>#SignatureSP</cbc:URI>
      </cac:ExternalReference>
    </cac:DigitalSignatureAttachment>
  </cac:Signature>
  <cac:AccountingSupplierParty>
    <cbc:CustomerAssignedAccountID>%[1]s</cbc:CustomerAssignedAccountID>
    <cbc:AdditionalAccountID>6</cbc:AdditionalAccountID>
  </cac:AccountingSupplierParty>
  <sac:SummaryDocumentsLine>
    <cbc:LineID>1</cbc:LineID>
    <cbc:DocumentTypeCode>03</cbc:DocumentTypeCode>
    <cbc:ID>B001-1</cbc:ID>
  </sac:SummaryDocumentsLine>
</SummaryDocuments>
`, ruc)
}

// CdrXML returns an ApplicationResponse with the given code, description and notes.
func CdrXML(referenceID, code, description string, notes ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<ar:ApplicationResponse xmlns:ar="urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2"` +
		` xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"` +
		` xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">` + "\n")
	b.WriteString("  <cbc:UBLVersionID>2.0</cbc:UBLVersionID>\n")
	b.WriteString("  <cbc:CustomizationID>1.0</cbc:CustomizationID>\n")
	b.WriteString("  <cbc:ID>1760000000000</cbc:ID>\n")
	b.WriteString("  <cbc:IssueDate>2026-10-19</cbc:IssueDate>\n")
	b.WriteString("  <cbc:ResponseDate>2026-10-19</cbc:ResponseDate>\n")
	b.WriteString("  <cbc:ResponseTime>10:15:30</cbc:ResponseTime>\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "  <cbc:Note>%s</cbc:Note>\n", n)
	}
	b.WriteString("  <cac:DocumentResponse>\n")
	b.WriteString("    <cac:Response>\n")
	fmt.Fprintf(&b, "      <cbc:ReferenceID>%s</cbc:ReferenceID>\n", referenceID)
	fmt.Fprintf(&b, "      <cbc:ResponseCode>%s</cbc:ResponseCode>\n", code)
	fmt.Fprintf(&b, "      <cbc:Description>%s</cbc:Description>\n", description)
	b.WriteString("    </cac:Response>\n")
	b.WriteString("    <cac:DocumentReference>\n")
	fmt.Fprintf(&b, "      <cbc:ID>%s</cbc:ID>\n", referenceID)
	b.WriteString("    </cac:DocumentReference>\n")
	b.WriteString("  </cac:DocumentResponse>\n")
	b.WriteString("</ar:ApplicationResponse>\n")
	return b.String()
}

// ZipFiles builds a zip archive with the given name/content pairs in order.
// Names ending in "/" become directory entries.
func ZipFiles(files ...[2]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f[0])
		if err != nil {
			panic(err)
		}
		if strings.HasSuffix(f[0], "/") {
			continue
		}
		if _, err := w.Write([]byte(f[1])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// CdrPackage wraps a CDR document the way SUNAT returns it: R-{base}.xml inside a zip.
func CdrPackage(base, cdrXML string) []byte {
	return ZipFiles([2]string{"dummy/", ""}, [2]string{"R-" + base + ".xml", cdrXML})
}
