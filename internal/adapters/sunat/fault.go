package sunat

import (
	"strconv"
	"strings"

	"3tcapital/ms_facturacion_sunat/internal/core/failure"
)

// retryableCodes are the billService codes meaning "try again later".
var retryableCodes = map[string]bool{
	"0100": true, "0109": true, "0110": true,
	"0130": true, "0131": true, "0132": true, "0133": true, "0134": true,
	"0135": true, "0136": true, "0137": true, "0138": true,
	"0200": true, "0201": true, "0202": true, "0203": true,
}

// ClassifyFault turns a SOAP fault into a typed error.
// faultcode looks like "soap-env:Client.0111" or "soap-env:Server"; when it
// carries no code, a numeric faultstring is used instead.
func ClassifyFault(op, faultcode, faultstring string) *failure.Error {
	local := strings.TrimSpace(faultcode)
	if i := strings.LastIndex(local, ":"); i >= 0 {
		local = local[i+1:]
	}

	origin := failure.OriginUnknown
	code := ""
	head, tail, dotted := strings.Cut(local, ".")
	switch strings.ToLower(head) {
	case "client":
		origin = failure.OriginClient
	case "server":
		origin = failure.OriginServer
	default:
		if isNumeric(head) {
			code = head
		}
	}
	if dotted && isNumeric(tail) {
		code = tail
	}

	message := strings.TrimSpace(faultstring)
	if code == "" && isNumeric(message) {
		code = message
	}

	if code != "" {
		code = normalizeCode(code)
		if retryableCodes[code] {
			return failure.SoapFault(op, code, message, failure.OriginServer, true)
		}
		return failure.SoapFault(op, code, message, failure.OriginClient, false)
	}

	switch origin {
	case failure.OriginServer:
		return failure.SoapFault(op, "", message, failure.OriginServer, true)
	case failure.OriginClient:
		return failure.SoapFault(op, "", message, failure.OriginClient, false)
	default:
		return failure.SoapFault(op, "", message, failure.OriginUnknown, false)
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil && !strings.ContainsAny(s, "+-")
}

// normalizeCode pads short codes to SUNAT's four digits ("130" -> "0130").
func normalizeCode(code string) string {
	for len(code) < 4 {
		code = "0" + code
	}
	return code
}
