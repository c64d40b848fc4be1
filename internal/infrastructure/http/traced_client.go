package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/security"
)

// TracedClient wraps an HTTP client to trace every exchange with the tax authority.
// It logs requests and responses with sanitized SOAP bodies and, when enabled,
// appends a soap_exchange entry to the audit log.
type TracedClient struct {
	client       *http.Client
	log          *slog.Logger
	auditRepo    audit.Repository
	authority    string
	auditEnabled bool
	logReqBody   bool
	logRespBody  bool
	maxBodySize  int
}

// TracedClientConfig holds configuration for the traced HTTP client.
type TracedClientConfig struct {
	Timeout         time.Duration
	AuditEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	MaxConnsPerHost int // Maximum connections per host (0 = use default 50)
}

// NewTracedClient creates a new traced HTTP client with proper connection pooling.
func NewTracedClient(cfg *TracedClientConfig, log *slog.Logger, auditRepo audit.Repository, authority string) *TracedClient {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 102400 // 100KB default
	}

	maxConnsPerHost := cfg.MaxConnsPerHost
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 50
	}

	// Response headers may take as long as the whole attempt.
	responseHeaderTimeout := cfg.Timeout
	if responseHeaderTimeout < 60*time.Second {
		responseHeaderTimeout = 60 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &TracedClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		log:          log,
		auditRepo:    auditRepo,
		authority:    authority,
		auditEnabled: cfg.AuditEnabled,
		logReqBody:   cfg.LogRequestBody,
		logRespBody:  cfg.LogResponseBody,
		maxBodySize:  cfg.MaxBodySize,
	}
}

// Do executes an HTTP request with full tracing and audit capabilities.
func (c *TracedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := ctxutil.GetCorrelationID(ctx)
	documentID := ctxutil.GetDocumentID(ctx)
	operation := c.extractOperation(req)
	start := time.Now()

	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	var requestBody []byte
	if req.Body != nil {
		var err error
		requestBody, err = io.ReadAll(req.Body)
		if err != nil {
			c.log.Error("Failed to read request body for tracing",
				"error", err,
				"correlation_id", correlationID,
			)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	}

	c.logRequest(correlationID, documentID, operation, req, requestBody)

	resp, err := c.client.Do(req)
	duration := time.Since(start)

	var responseBody []byte
	if resp != nil && resp.Body != nil {
		responseBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewBuffer(responseBody))
	}

	c.logResponse(correlationID, documentID, operation, req, resp, err, duration, responseBody)

	if c.auditEnabled && c.auditRepo != nil {
		entry := c.buildEntry(correlationID, documentID, operation, req, resp, err, duration, requestBody, responseBody)
		entry.Actor = ctxutil.GetActor(ctx)

		// The exchange is recorded after the caller's request may have finished.
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("Panic in audit log persistence",
						"panic", r,
						"correlation_id", correlationID,
						"operation", operation,
					)
				}
			}()

			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.auditRepo.Append(saveCtx, entry); err != nil {
				c.log.Error("Failed to persist audit log",
					"error", err,
					"correlation_id", correlationID,
					"authority", c.authority,
					"operation", operation,
					"duration_ms", entry.DurationMs,
				)
			}
		}()
	}

	return resp, err
}

func (c *TracedClient) logRequest(correlationID, documentID, operation string, req *http.Request, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"authority", c.authority,
		"operation", operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
	}
	if documentID != "" {
		attrs = append(attrs, "document_id", documentID)
	}
	if c.logReqBody && len(body) > 0 {
		attrs = append(attrs, "request_body", security.SanitizeSOAP(body, c.maxBodySize))
	}

	c.log.Info("authority_request", attrs...)
}

func (c *TracedClient) logResponse(correlationID, documentID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"authority", c.authority,
		"operation", operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
		"duration_ms", duration.Milliseconds(),
	}
	if documentID != "" {
		attrs = append(attrs, "document_id", documentID)
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		c.log.Error("authority_request_failed", attrs...)
		return
	}

	attrs = append(attrs, "status", resp.StatusCode, "response_size_bytes", len(body))
	if c.logRespBody && len(body) > 0 {
		attrs = append(attrs, "response_body", security.SanitizeSOAP(body, c.maxBodySize))
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("authority_response", attrs...)
	case resp.StatusCode >= 400:
		c.log.Warn("authority_response", attrs...)
	default:
		c.log.Info("authority_response", attrs...)
	}
}

func (c *TracedClient) buildEntry(correlationID, documentID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, requestBody, responseBody []byte) audit.Entry {
	entry := audit.Entry{
		CorrelationID: correlationID,
		Operation:     audit.OpSoapExchange,
		Result:        audit.ResultSuccess,
		Detail:        "operation=" + operation,
		Endpoint:      security.SanitizeURL(req.URL.String()),
		DurationMs:    duration.Milliseconds(),
		RequestBody:   security.SanitizeSOAP(requestBody, c.maxBodySize),
		ResponseBody:  security.SanitizeSOAP(responseBody, c.maxBodySize),
	}
	if id, perr := uuid.Parse(documentID); perr == nil {
		entry.DocumentID = &id
	}
	if resp != nil {
		status := resp.StatusCode
		entry.HTTPStatus = &status
		if status < 200 || status > 299 {
			entry.Result = audit.ResultFailure
		}
	}
	if err != nil {
		entry.Result = audit.ResultFailure
		entry.Detail += ": " + err.Error()
	}
	return entry
}

// extractOperation names the exchange after its SOAPAction, falling back to
// the last path segment.
func (c *TracedClient) extractOperation(req *http.Request) string {
	if action := strings.Trim(req.Header.Get("SOAPAction"), `"`); action != "" {
		return strings.TrimPrefix(action, "urn:")
	}

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if len(parts) > 0 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1]
	}
	return req.Method + "_" + c.authority
}

// Client returns the underlying HTTP client for compatibility.
func (c *TracedClient) Client() *http.Client {
	return c.client
}
