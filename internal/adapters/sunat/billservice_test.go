package sunat_test

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/beevik/etree"
)

// exchange is one request seen by the fake billService.
type exchange struct {
	Operation   string
	SOAPAction  string
	User        string
	Password    string
	FileName    string
	ContentFile []byte
	Ticket      string
	WsseUser    string
}

// billService emulates SUNAT's endpoint. respond is called per request with the
// 1-based call number and returns status and body.
type billService struct {
	mu        sync.Mutex
	exchanges []exchange
	respond   func(call int, ex exchange) (int, string)
}

func newBillService(t *testing.T, respond func(call int, ex exchange) (int, string)) (*billService, *httptest.Server) {
	t.Helper()
	svc := &billService{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(svc.handle))
	t.Cleanup(srv.Close)
	return svc, srv
}

func (s *billService) handle(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	ex := exchange{SOAPAction: r.Header.Get("SOAPAction")}
	ex.User, ex.Password, _ = r.BasicAuth()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err == nil {
		if body := doc.FindElement("//Body"); body != nil && len(body.ChildElements()) > 0 {
			op := body.ChildElements()[0]
			ex.Operation = op.Tag
			if el := op.FindElement("fileName"); el != nil {
				ex.FileName = el.Text()
			}
			if el := op.FindElement("contentFile"); el != nil {
				ex.ContentFile, _ = base64.StdEncoding.DecodeString(el.Text())
			}
			if el := op.FindElement("ticket"); el != nil {
				ex.Ticket = el.Text()
			}
		}
		if el := doc.FindElement("//UsernameToken/Username"); el != nil {
			ex.WsseUser = el.Text()
		}
	}

	s.mu.Lock()
	s.exchanges = append(s.exchanges, ex)
	call := len(s.exchanges)
	s.mu.Unlock()

	status, body := s.respond(call, ex)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *billService) calls() []exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]exchange(nil), s.exchanges...)
}

func soapEnvelope(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap-env:Header/><soap-env:Body>` + inner + `</soap-env:Body></soap-env:Envelope>`
}

func faultResponse(code, message string) string {
	return soapEnvelope(fmt.Sprintf(`<soap-env:Fault><faultcode>%s</faultcode><faultstring>%s</faultstring></soap-env:Fault>`, code, message))
}

func sendBillResponse(pkg []byte) string {
	return soapEnvelope(`<br:sendBillResponse xmlns:br="http://service.sunat.gob.pe"><applicationResponse>` +
		base64.StdEncoding.EncodeToString(pkg) + `</applicationResponse></br:sendBillResponse>`)
}

func ticketResponse(op, ticket string) string {
	return soapEnvelope(fmt.Sprintf(`<br:%sResponse xmlns:br="http://service.sunat.gob.pe"><ticket>%s</ticket></br:%sResponse>`, op, ticket, op))
}

func statusResponse(code string, pkg []byte) string {
	content := ""
	if pkg != nil {
		content = `<content>` + base64.StdEncoding.EncodeToString(pkg) + `</content>`
	}
	return soapEnvelope(`<br:getStatusResponse xmlns:br="http://service.sunat.gob.pe"><status><statusCode>` +
		code + `</statusCode>` + content + `</status></br:getStatusResponse>`)
}
