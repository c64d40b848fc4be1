package security

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sensitive header names that should be redacted.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,
}

// Sensitive query parameter names.
var sensitiveParams = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_token",
	"client_secret",
}

const redactedValue = "[REDACTED]"

// payloadPreview is how many characters of a base64 payload survive sanitizing.
const payloadPreview = 32

var (
	passwordElement = regexp.MustCompile(`(?s)(<(?:[\w-]+:)?Password\b[^>]*>)(.*?)(</(?:[\w-]+:)?Password>)`)
	payloadElement  = regexp.MustCompile(`(?s)<((?:[\w-]+:)?(?:contentFile|applicationResponse|content))\b([^>]*)>([^<]*)</((?:[\w-]+:)?(?:contentFile|applicationResponse|content))>`)
)

// SanitizeHeaders removes sensitive headers from an HTTP header map.
// Returns a new map with sensitive values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string)

	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
		} else {
			sanitized[key] = strings.Join(values, ", ")
		}
	}

	return sanitized
}

// SanitizeSOAP prepares a billService envelope for logs and the audit log.
// The WS-Security password is redacted and base64 payloads (contentFile,
// applicationResponse, getStatus content) are cut to a short preview.
// Bodies larger than maxSize after that are truncated; maxSize <= 0 disables it.
func SanitizeSOAP(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return fmt.Sprintf("[binary %d bytes]", len(body))
	}

	text := passwordElement.ReplaceAllString(string(body), "${1}"+redactedValue+"${3}")
	text = payloadElement.ReplaceAllStringFunc(text, shortenPayload)

	if maxSize > 0 && len(text) > maxSize {
		text = fmt.Sprintf("%s...[truncated, %d bytes]", text[:maxSize], len(text))
	}
	return text
}

func shortenPayload(element string) string {
	m := payloadElement.FindStringSubmatch(element)
	if m == nil || m[1] != m[4] {
		return element
	}
	value := strings.TrimSpace(m[3])
	if len(value) <= payloadPreview {
		return element
	}
	return fmt.Sprintf("<%s%s>%s...[%d bytes]</%s>", m[1], m[2], value[:payloadPreview], len(value), m[4])
}

// SanitizeURL redacts sensitive query parameters from a URL.
func SanitizeURL(url string) string {
	lowerURL := strings.ToLower(url)

	for _, param := range sensitiveParams {
		if strings.Contains(lowerURL, param+"=") {
			url = redactQueryParam(url, param)
			lowerURL = strings.ToLower(url)
		}
	}

	return url
}

// redactQueryParam redacts the value of a query parameter.
func redactQueryParam(url, param string) string {
	lowerURL := strings.ToLower(url)

	if idx := strings.Index(lowerURL, param+"="); idx != -1 {
		startIdx := idx + len(param) + 1
		endIdx := strings.IndexAny(url[startIdx:], "&")

		if endIdx == -1 {
			return url[:startIdx] + redactedValue
		}
		return url[:startIdx] + redactedValue + url[startIdx+endIdx:]
	}

	return url
}
