package ubl

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

type element struct {
	namespace string
	prefix    string
	local     string
}

func (e element) String() string {
	return e.prefix + ":" + e.local
}

type profile struct {
	namespace string
	mandatory []element
	lines     []element
}

var (
	ublVersionID            = element{NamespaceCBC, "cbc", "UBLVersionID"}
	customizationID         = element{NamespaceCBC, "cbc", "CustomizationID"}
	accountingSupplierParty = element{NamespaceCAC, "cac", "AccountingSupplierParty"}
	accountingCustomerParty = element{NamespaceCAC, "cac", "AccountingCustomerParty"}
	invoiceLine             = element{NamespaceCAC, "cac", "InvoiceLine"}
	creditNoteLine          = element{NamespaceCAC, "cac", "CreditNoteLine"}
	debitNoteLine           = element{NamespaceCAC, "cac", "DebitNoteLine"}
	summaryDocumentsLine    = element{NamespaceSAC, "sac", "SummaryDocumentsLine"}
	voidedDocumentsLine     = element{NamespaceSAC, "sac", "VoidedDocumentsLine"}
	signatureBlock          = element{NamespaceCAC, "cac", "Signature"}
	documentMandatory       = []element{ublVersionID, customizationID, accountingSupplierParty, accountingCustomerParty}
	communicationMandatory  = []element{ublVersionID, customizationID, accountingSupplierParty}
)

// Roots accepted by the validator, keyed by local name.
var profiles = map[string]profile{
	"Invoice":          {namespace: NamespaceInvoice, mandatory: documentMandatory, lines: []element{invoiceLine}},
	"CreditNote":       {namespace: NamespaceCreditNote, mandatory: documentMandatory, lines: []element{creditNoteLine}},
	"DebitNote":        {namespace: NamespaceDebitNote, mandatory: documentMandatory, lines: []element{debitNoteLine}},
	"SummaryDocuments": {namespace: NamespaceSummaryDocuments, mandatory: communicationMandatory, lines: []element{summaryDocumentsLine}},
	"VoidedDocuments":  {namespace: NamespaceVoidedDocuments, mandatory: communicationMandatory, lines: []element{voidedDocumentsLine}},
}

// Validate checks that xml carries the structure required before signing and sending.
// The input is sanitized first. On failure the reason names the first missing piece.
func Validate(xml, expectedRUC string) (bool, string) {
	s := Sanitize(xml)
	if !HasDeclaration(s) {
		return false, "missing XML declaration"
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return false, fmt.Sprintf("malformed XML: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return false, "missing invoice root element"
	}

	p, ok := profiles[root.Tag]
	if !ok || root.NamespaceURI() != p.namespace {
		return false, fmt.Sprintf("missing invoice root element (found %s)", root.FullTag())
	}

	if reason := checkSignatureBlock(root, expectedRUC); reason != "" {
		return false, reason
	}

	for _, el := range p.mandatory {
		if Child(root, el.namespace, el.local) == nil {
			return false, "missing mandatory element " + el.String()
		}
	}

	for _, el := range p.lines {
		if len(Children(root, el.namespace, el.local)) == 0 {
			return false, "missing mandatory element " + el.String()
		}
	}

	return true, ""
}

func checkSignatureBlock(root *etree.Element, expectedRUC string) string {
	expectedRUC = strings.TrimSpace(expectedRUC)
	if expectedRUC == "" {
		return "expected taxpayer identifier is empty"
	}

	blocks := Children(root, signatureBlock.namespace, signatureBlock.local)
	if len(blocks) == 0 {
		return "missing digital-signature block " + signatureBlock.String()
	}

	var found []string
	for _, block := range blocks {
		id := Text(block, CAC("SignatoryParty"), CAC("PartyIdentification"), CBC("ID"))
		if id == expectedRUC {
			return ""
		}
		if id != "" {
			found = append(found, id)
		}
	}

	if len(found) == 0 {
		return "digital-signature block has no signatory taxpayer identifier"
	}
	return fmt.Sprintf("digital-signature block carries taxpayer %s, expected %s", strings.Join(found, ","), expectedRUC)
}
