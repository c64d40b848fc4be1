package sunat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/beevik/etree"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/metrics"
)

// Default billService endpoints.
const (
	BetaEndpoint       = "https://e-beta.sunat.gob.pe/ol-ti-itcpfegem-beta/billService"
	ProductionEndpoint = "https://e-factura.sunat.gob.pe/ol-ti-itcpfegem/billService"
)

// SOAP operation names.
const (
	OpSendBill    = "sendBill"
	OpSendSummary = "sendSummary"
	OpSendPack    = "sendPack"
	OpGetStatus   = "getStatus"
)

const maxResponseSize = 20 << 20

// HTTPClient allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds billService connection settings.
type Config struct {
	Environment     authority.Environment
	Endpoint        string
	RUC             string
	SubUser         string
	Password        string
	AttemptTimeout  time.Duration
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxConcurrent   int
	RateLimitRPS    int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client is a SOAP 1.1 client for SUNAT's billService.
type Client struct {
	cfg                Config
	endpoint           string
	httpClient         HTTPClient
	concurrencyLimiter *ConcurrentRequestLimiter
	rateLimiter        *RateLimiter
	circuitBreaker     *CircuitBreaker
	metrics            *metrics.Metrics
	log                *slog.Logger
}

var _ authority.Gateway = (*Client)(nil)

// NewClient creates a billService client. m may be nil.
func NewClient(cfg Config, httpClient HTTPClient, m *metrics.Metrics, log *slog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = BetaEndpoint
		if cfg.Environment == authority.EnvironmentProduction {
			endpoint = ProductionEndpoint
		}
	}

	var rateLimiter *RateLimiter
	if cfg.RateLimitRPS > 0 {
		rateLimiter = NewRateLimiter(cfg.RateLimitRPS)
	}

	return &Client{
		cfg:                cfg,
		endpoint:           endpoint,
		httpClient:         httpClient,
		concurrencyLimiter: NewConcurrentRequestLimiter(cfg.MaxConcurrent),
		rateLimiter:        rateLimiter,
		circuitBreaker:     NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		metrics:            m,
		log:                log,
	}
}

// Endpoint returns the billService URL in use.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases the rate limiter.
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
}

// Ready returns authority.ErrUnavailable while the circuit breaker is open.
func (c *Client) Ready() error {
	if !c.circuitBreaker.Allow() {
		return authority.ErrUnavailable
	}
	return nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.circuitBreaker
}

// SendBill submits a synchronous document and returns the CDR package.
func (c *Client) SendBill(ctx context.Context, req authority.Request, hook authority.AttemptHook) ([]byte, error) {
	zipped, err := Package(req.FileName, req.Content)
	if err != nil {
		return nil, failure.Transport(OpSendBill, err)
	}
	user := c.username(req.RUC)
	payload, err := c.envelope(user, body{SendBill: &fileRequest{
		FileName:    req.FileName + ".zip",
		ContentFile: base64.StdEncoding.EncodeToString(zipped),
	}})
	if err != nil {
		return nil, failure.Transport(OpSendBill, err)
	}

	var pkg []byte
	err = c.call(ctx, OpSendBill, user, payload, hook, func(b *etree.Element) error {
		resp := childByLocal(b, "sendBillResponse")
		if resp == nil {
			return errors.New("missing sendBillResponse")
		}
		encoded := textOf(descendantByLocal(resp, "applicationResponse"))
		if encoded == "" {
			return errors.New("missing applicationResponse")
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode applicationResponse: %w", err)
		}
		pkg = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// SendPack submits a summary or voided document with sendSummary, or a batch
// with sendPack when req.Batch is set. It returns the ticket.
func (c *Client) SendPack(ctx context.Context, req authority.Request, hook authority.AttemptHook) (string, error) {
	op := OpSendSummary
	var zipped []byte
	var err error
	if len(req.Batch) > 0 {
		op = OpSendPack
		zipped, err = PackBatch(req.Batch)
	} else {
		zipped, err = Package(req.FileName, req.Content)
	}
	if err != nil {
		return "", failure.Transport(op, err)
	}

	file := &fileRequest{
		FileName:    req.FileName + ".zip",
		ContentFile: base64.StdEncoding.EncodeToString(zipped),
	}
	b := body{SendSummary: file}
	if op == OpSendPack {
		b = body{SendPack: file}
	}
	user := c.username(req.RUC)
	payload, err := c.envelope(user, b)
	if err != nil {
		return "", failure.Transport(op, err)
	}

	var ticket string
	err = c.call(ctx, op, user, payload, hook, func(b *etree.Element) error {
		resp := childByLocal(b, op+"Response")
		if resp == nil {
			return fmt.Errorf("missing %sResponse", op)
		}
		ticket = textOf(descendantByLocal(resp, "ticket"))
		if ticket == "" {
			return errors.New("missing ticket")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ticket, nil
}

// GetStatus queries a ticket. statusCode 98 is pending; 0 and 99 carry the CDR package.
func (c *Client) GetStatus(ctx context.Context, ruc, ticket string, hook authority.AttemptHook) (authority.StatusResult, error) {
	user := c.username(ruc)
	payload, err := c.envelope(user, body{GetStatus: &getStatus{Ticket: ticket}})
	if err != nil {
		return authority.StatusResult{}, failure.Transport(OpGetStatus, err)
	}

	var code, content string
	err = c.call(ctx, OpGetStatus, user, payload, hook, func(b *etree.Element) error {
		resp := childByLocal(b, "getStatusResponse")
		if resp == nil {
			return errors.New("missing getStatusResponse")
		}
		status := descendantByLocal(resp, "status")
		if status == nil {
			return errors.New("missing status")
		}
		code = textOf(childByLocal(status, "statusCode"))
		if code == "" {
			return errors.New("missing statusCode")
		}
		content = textOf(childByLocal(status, "content"))
		return nil
	})
	if err != nil {
		return authority.StatusResult{}, err
	}

	switch {
	case code == "98":
		return authority.StatusResult{Pending: true, Code: code}, nil
	case (code == "0" || code == "99") && content != "":
		pkg, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return authority.StatusResult{}, failure.SoapFault(OpGetStatus, code, "undecodable status content", failure.OriginUnknown, false)
		}
		return authority.StatusResult{Code: code, Package: pkg}, nil
	case code == "99":
		return authority.StatusResult{}, failure.SoapFault(OpGetStatus, code, "ticket processed with errors and no CDR", failure.OriginClient, false)
	default:
		return authority.StatusResult{}, failure.SoapFault(OpGetStatus, code, "unclassified status code", failure.OriginUnknown, false)
	}
}

// Ping checks that the endpoint answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return failure.Transport("ping", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure.Transport("ping", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return nil
}

// username is the issuer RUC followed by the secondary user. An empty ruc
// falls back to the configured taxpayer.
func (c *Client) username(ruc string) string {
	if ruc == "" {
		ruc = c.cfg.RUC
	}
	return ruc + c.cfg.SubUser
}

func (c *Client) envelope(user string, b body) ([]byte, error) {
	return buildEnvelope(user, c.cfg.Password, b)
}

// call runs one SOAP operation with retries. Every failed attempt is reported
// to hook before deciding whether to retry.
func (c *Client) call(ctx context.Context, op, user string, payload []byte, hook authority.AttemptHook, parse func(*etree.Element) error) error {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := c.attempt(ctx, op, user, payload, parse)
		duration := time.Since(start)

		if err == nil {
			c.metrics.ObserveTransportAttempt(op, "ok", duration)
			return nil
		}

		retry := failure.IsRetryable(err) && attempt < c.cfg.MaxAttempts && ctx.Err() == nil
		c.metrics.ObserveTransportAttempt(op, resultLabel(err), duration)
		if hook != nil {
			hook(authority.Attempt{Operation: op, Number: attempt, Duration: duration, Err: err, WillRetry: retry})
		}

		if !retry {
			return withAttempts(err, attempt)
		}

		delay := c.backoff(attempt)
		c.log.Warn("SUNAT call failed, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"retry_delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return withAttempts(failure.Transport(op, ctx.Err()), attempt)
		case <-timer.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, op, user string, payload []byte, parse func(*etree.Element) error) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Acquire(ctx); err != nil {
			return failure.Transport(op, fmt.Errorf("acquire rate limit token: %w", err))
		}
	}
	if err := c.concurrencyLimiter.Acquire(ctx); err != nil {
		return failure.Transport(op, fmt.Errorf("acquire concurrency slot: %w", err))
	}
	defer c.concurrencyLimiter.Release()

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	var result error
	err := c.circuitBreaker.Execute(attemptCtx, func() error {
		result = c.exchange(attemptCtx, op, user, payload, parse)
		if failure.IsRetryable(result) {
			return result
		}
		return nil
	})
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return failure.Transport(op, err)
	}
	if err != nil && result == nil {
		return failure.Transport(op, err)
	}
	return result
}

func (c *Client) exchange(ctx context.Context, op, user string, payload []byte, parse func(*etree.Element) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return failure.Transport(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:"+op)
	req.SetBasicAuth(user, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure.Transport(op, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failure.Transport(op, fmt.Errorf("read response body: %w", err))
	}

	return interpret(op, resp.StatusCode, data, parse)
}

// interpret classifies a billService response. A parseable fault wins over
// the HTTP status.
func interpret(op string, status int, data []byte, parse func(*etree.Element) error) error {
	b, parseErr := parseEnvelope(data)
	if parseErr == nil {
		if f := findFault(b); f != nil {
			return ClassifyFault(op, f.Code, f.String)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure.SoapFault(op, "", fmt.Sprintf("authentication rejected with HTTP %d", status), failure.OriginClient, false)
	case status < 200 || status > 299:
		return failure.Transport(op, fmt.Errorf("unexpected status code %d", status))
	case parseErr != nil:
		return failure.Transport(op, fmt.Errorf("malformed response: %w", parseErr))
	}

	if err := parse(b); err != nil {
		return failure.Transport(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return delay
}

func withAttempts(err error, attempts int) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		fe.Attempts = attempts
	}
	return err
}

func resultLabel(err error) string {
	switch failure.KindOf(err) {
	case failure.KindTransport:
		return "transport_error"
	case failure.KindSoapFault:
		return "fault"
	default:
		return "error"
	}
}
