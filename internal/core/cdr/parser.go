package cdr

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/ubl"
)

const maxEntrySize = 10 << 20

// R-{ruc}-{type}-{series}-{number}.xml
var entryName = regexp.MustCompile(`^R-\d{11}-[0-9A-Z]{2}-[0-9A-Z]+-[0-9A-Z]+\.xml$`)

// Parser extracts CDRs from the packages SUNAT returns.
type Parser struct {
	classifier Classifier
}

// NewParser creates a Parser that classifies responses with c.
func NewParser(c Classifier) *Parser {
	return &Parser{classifier: c}
}

// Parse reads a CDR package. When expectedBase is not empty the XML entry
// must be named R-{expectedBase}.xml.
func (p *Parser) Parse(pkg []byte, expectedBase string) (*Cdr, error) {
	if len(pkg) == 0 {
		return nil, failure.CdrParse("empty package", nil)
	}

	zr, err := zip.NewReader(bytes.NewReader(pkg), int64(len(pkg)))
	if err != nil {
		return nil, failure.CdrParse("package is not a zip archive", err)
	}

	var entries []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}
		entries = append(entries, f)
	}
	if len(entries) != 1 {
		return nil, failure.CdrParse(fmt.Sprintf("expected exactly one XML file, found %d", len(entries)), nil)
	}

	entry := entries[0]
	name := path.Base(entry.Name)
	if !entryName.MatchString(name) {
		return nil, failure.CdrParse(fmt.Sprintf("unexpected entry name %q", name), nil)
	}
	if expectedBase != "" && name != "R-"+expectedBase+".xml" {
		return nil, failure.CdrParse(fmt.Sprintf("entry %q does not match document %s", name, expectedBase), nil)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, failure.CdrParse("open entry", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, failure.CdrParse("read entry", err)
	}

	c, err := p.ParseXML(string(raw))
	if err != nil {
		return nil, err
	}
	c.FileName = name
	return c, nil
}

// ParseXML extracts a CDR from an ApplicationResponse document.
func (p *Parser) ParseXML(xml string) (*Cdr, error) {
	s := ubl.Sanitize(xml)
	if !ubl.HasDeclaration(s) {
		return nil, failure.CdrParse("missing XML declaration", nil)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, failure.CdrParse("malformed XML", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "ApplicationResponse" || root.NamespaceURI() != ubl.NamespaceApplicationResponse {
		return nil, failure.CdrParse("root element is not ApplicationResponse", nil)
	}

	response := ubl.Find(root, ubl.CAC("DocumentResponse"), ubl.CAC("Response"))
	if ubl.Find(response, ubl.CBC("ResponseCode")) == nil {
		return nil, failure.CdrParse("missing cbc:ResponseCode", nil)
	}

	observations := []string{}
	for _, note := range ubl.Children(root, ubl.NamespaceCBC, "Note") {
		if text := strings.TrimSpace(note.Text()); text != "" {
			observations = append(observations, text)
		}
	}

	c := &Cdr{
		ID:           ubl.Text(root, ubl.CBC("ID")),
		IssueDate:    ubl.Text(root, ubl.CBC("IssueDate")),
		ResponseDate: ubl.Text(root, ubl.CBC("ResponseDate")),
		ResponseTime: ubl.Text(root, ubl.CBC("ResponseTime")),
		ReferenceID:  ubl.Text(response, ubl.CBC("ReferenceID")),
		DocumentID:   ubl.Text(root, ubl.CAC("DocumentResponse"), ubl.CAC("DocumentReference"), ubl.CBC("ID")),
		ResponseCode: ubl.Text(response, ubl.CBC("ResponseCode")),
		Description:  ubl.Text(response, ubl.CBC("Description")),
		Observations: observations,
		XML:          s,
	}
	c.Status = p.classifier.Classify(c.ResponseCode, c.Observations)
	return c, nil
}
