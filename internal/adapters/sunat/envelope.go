package sunat

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const (
	nsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsService = "http://service.sunat.gob.pe"
	nsWsse    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
)

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapEnv string   `xml:"xmlns:soapenv,attr"`
	Ser     string   `xml:"xmlns:ser,attr"`
	Wsse    string   `xml:"xmlns:wsse,attr"`
	Header  header   `xml:"soapenv:Header"`
	Body    body     `xml:"soapenv:Body"`
}

type header struct {
	Security security `xml:"wsse:Security"`
}

type security struct {
	UsernameToken usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string `xml:"wsse:Username"`
	Password string `xml:"wsse:Password"`
}

type body struct {
	SendBill    *fileRequest `xml:"ser:sendBill,omitempty"`
	SendSummary *fileRequest `xml:"ser:sendSummary,omitempty"`
	SendPack    *fileRequest `xml:"ser:sendPack,omitempty"`
	GetStatus   *getStatus   `xml:"ser:getStatus,omitempty"`
}

type fileRequest struct {
	FileName    string `xml:"fileName"`
	ContentFile string `xml:"contentFile"`
}

type getStatus struct {
	Ticket string `xml:"ticket"`
}

func buildEnvelope(username, password string, b body) ([]byte, error) {
	env := envelope{
		SoapEnv: nsSoapEnv,
		Ser:     nsService,
		Wsse:    nsWsse,
		Header: header{Security: security{UsernameToken: usernameToken{
			Username: username,
			Password: password,
		}}},
		Body: b,
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// soapFault is a parsed soap:Fault.
type soapFault struct {
	Code   string
	String string
}

// parseEnvelope returns the soap Body element of a response.
func parseEnvelope(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("missing soap Envelope")
	}
	b := childByLocal(root, "Body")
	if b == nil {
		return nil, fmt.Errorf("missing soap Body")
	}
	return b, nil
}

func findFault(b *etree.Element) *soapFault {
	f := childByLocal(b, "Fault")
	if f == nil {
		return nil
	}
	return &soapFault{
		Code:   textOf(childByLocal(f, "faultcode")),
		String: textOf(childByLocal(f, "faultstring")),
	}
}

// childByLocal matches on local name only; SUNAT mixes prefixed and
// unqualified response elements.
func childByLocal(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

func descendantByLocal(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	return el.FindElement(".//" + local)
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
