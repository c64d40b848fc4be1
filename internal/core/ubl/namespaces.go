package ubl

import (
	"strings"

	"github.com/beevik/etree"
)

// UBL 2.1 and SUNAT namespaces used by Peruvian electronic documents.
const (
	NamespaceInvoice             = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NamespaceCreditNote          = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
	NamespaceDebitNote           = "urn:oasis:names:specification:ubl:schema:xsd:DebitNote-2"
	NamespaceApplicationResponse = "urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2"
	NamespaceSummaryDocuments    = "urn:sunat:names:specification:ubl:peru:schema:xsd:SummaryDocuments-1"
	NamespaceVoidedDocuments     = "urn:sunat:names:specification:ubl:peru:schema:xsd:VoidedDocuments-1"

	NamespaceCAC = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NamespaceCBC = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NamespaceEXT = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NamespaceSAC = "urn:sunat:names:specification:ubl:peru:schema:xsd:SunatAggregateComponents-1"
	NamespaceDS  = "http://www.w3.org/2000/09/xmldsig#"
)

// Child returns the first direct child of el with the given namespace and local name.
func Child(el *etree.Element, namespace, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == namespace {
			return c
		}
	}
	return nil
}

// Children returns every direct child of el with the given namespace and local name.
func Children(el *etree.Element, namespace, local string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == namespace {
			out = append(out, c)
		}
	}
	return out
}

// Step is one hop of a namespace-aware path.
type Step struct {
	Namespace string
	Local     string
}

// CAC and CBC build path steps in the common UBL namespaces.
func CAC(local string) Step { return Step{Namespace: NamespaceCAC, Local: local} }
func CBC(local string) Step { return Step{Namespace: NamespaceCBC, Local: local} }
func EXT(local string) Step { return Step{Namespace: NamespaceEXT, Local: local} }

// Find walks steps from el, taking the first match at each level.
func Find(el *etree.Element, steps ...Step) *etree.Element {
	cur := el
	for _, s := range steps {
		cur = Child(cur, s.Namespace, s.Local)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Text returns the trimmed text of the element reached by steps, or "".
func Text(el *etree.Element, steps ...Step) string {
	found := Find(el, steps...)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.Text())
}
