package ubl

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/beevik/etree"

	"3tcapital/ms_facturacion_sunat/internal/core/failure"
)

const byteOrderMark = '\uFEFF'

var (
	declarationToken = regexp.MustCompile(`<\?xml\s`)
	declaration      = regexp.MustCompile(`^<\?xml\s[^>]*?\?>`)
	declarationAttr  = regexp.MustCompile(`([A-Za-z_][-A-Za-z0-9_.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Sanitize normalizes raw document XML into the form the authority accepts.
// It is pure and idempotent; empty input is returned unchanged.
func Sanitize(xml string) string {
	if xml == "" {
		return xml
	}

	s := strings.TrimLeft(xml, string(byteOrderMark))
	s = stripControlChars(s)
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return r == byteOrderMark || unicode.IsSpace(r)
	})

	if !declaration.MatchString(s) {
		if loc := declarationToken.FindStringIndex(s); loc != nil {
			s = s[loc[0]:]
		}
	}

	if decl := declaration.FindString(s); decl != "" {
		s = canonicalDeclaration(decl) + s[len(decl):]
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// SanitizeDocument sanitizes raw and checks the result is well-formed XML.
func SanitizeDocument(raw string) (string, error) {
	blank := strings.TrimFunc(raw, func(r rune) bool {
		return r == byteOrderMark || unicode.IsSpace(r)
	})
	if blank == "" {
		return "", failure.Sanitization("empty document", nil)
	}

	out := Sanitize(raw)
	doc := etree.NewDocument()
	if err := doc.ReadFromString(out); err != nil {
		return "", failure.Sanitization("malformed xml", err)
	}
	if doc.Root() == nil {
		return "", failure.Sanitization("document has no root element", nil)
	}
	return out, nil
}

// HasDeclaration reports whether xml starts with an XML declaration.
func HasDeclaration(xml string) bool {
	return declaration.MatchString(xml)
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isDisallowedControl(c) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDisallowedControl(c byte) bool {
	switch {
	case c == '\t' || c == '\n' || c == '\r':
		return false
	case c <= 0x1f:
		return true
	case c == 0x7f:
		return true
	}
	return false
}

// canonicalDeclaration rewrites the declaration with double-quoted attributes.
// SUNAT rejects single quotes with error 0160.
func canonicalDeclaration(decl string) string {
	version, encoding, standalone := "1.0", "UTF-8", ""
	for _, m := range declarationAttr.FindAllStringSubmatch(decl, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		switch strings.ToLower(m[1]) {
		case "version":
			if value != "" {
				version = value
			}
		case "encoding":
			if value != "" {
				encoding = value
			}
		case "standalone":
			standalone = value
		}
	}

	var b strings.Builder
	b.WriteString(`<?xml version="`)
	b.WriteString(version)
	b.WriteString(`" encoding="`)
	b.WriteString(encoding)
	b.WriteString(`"`)
	if standalone != "" {
		b.WriteString(` standalone="`)
		b.WriteString(standalone)
		b.WriteString(`"`)
	}
	b.WriteString("?>")
	return b.String()
}
