package sunat_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_sunat/internal/adapters/sunat"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/testutil"
)

const base = testutil.TestRUC + "-01-F001-00000001"

func newClient(t *testing.T, endpoint string, mutate ...func(*sunat.Config)) *sunat.Client {
	t.Helper()
	cfg := sunat.Config{
		Environment:     authority.EnvironmentBeta,
		Endpoint:        endpoint,
		RUC:             testutil.TestRUC,
		SubUser:         "MODDATOS",
		Password:        "moddatos",
		AttemptTimeout:  2 * time.Second,
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        4 * time.Millisecond,
		MaxConcurrent:   4,
		BreakerFailures: 50,
		BreakerCooldown: time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c := sunat.NewClient(cfg, http.DefaultClient, nil, testutil.NewNullLogger())
	t.Cleanup(c.Close)
	return c
}

type attemptRecorder struct {
	attempts []authority.Attempt
}

func (r *attemptRecorder) hook(a authority.Attempt) {
	r.attempts = append(r.attempts, a)
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestSendBillReturnsCdrPackage(t *testing.T) {
	cdrPkg := testutil.CdrPackage(base, testutil.CdrXML("F001-1", "0", "aceptada"))
	svc, srv := newBillService(t, func(int, exchange) (int, string) {
		return http.StatusOK, sendBillResponse(cdrPkg)
	})

	pkg, err := newClient(t, srv.URL).SendBill(context.Background(), authority.Request{
		FileName: base,
		Content:  []byte(testutil.InvoiceXML(testutil.TestRUC)),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, cdrPkg, pkg)

	calls := svc.calls()
	require.Len(t, calls, 1)
	ex := calls[0]
	assert.Equal(t, "sendBill", ex.Operation)
	assert.Equal(t, "urn:sendBill", ex.SOAPAction)
	assert.Equal(t, testutil.TestRUC+"MODDATOS", ex.User)
	assert.Equal(t, "moddatos", ex.Password)
	assert.Equal(t, testutil.TestRUC+"MODDATOS", ex.WsseUser)
	assert.Equal(t, base+".zip", ex.FileName)
	assert.Equal(t, []string{base + ".xml", "dummy/"}, zipNames(t, ex.ContentFile))
}

func TestRetryableFaultIsRetried(t *testing.T) {
	cdrPkg := testutil.CdrPackage(base, testutil.CdrXML("F001-1", "0", "aceptada"))
	_, srv := newBillService(t, func(call int, _ exchange) (int, string) {
		if call < 3 {
			return http.StatusInternalServerError, faultResponse("soap-env:Server", "0130")
		}
		return http.StatusOK, sendBillResponse(cdrPkg)
	})

	rec := &attemptRecorder{}
	pkg, err := newClient(t, srv.URL).SendBill(context.Background(), authority.Request{FileName: base, Content: []byte("<x/>")}, rec.hook)
	require.NoError(t, err)
	assert.Equal(t, cdrPkg, pkg)

	require.Len(t, rec.attempts, 2)
	for i, a := range rec.attempts {
		assert.Equal(t, i+1, a.Number)
		assert.True(t, a.WillRetry)
		assert.True(t, errors.Is(a.Err, failure.ErrSoapFault))
	}
}

func TestNonRetryableFaultStopsImmediately(t *testing.T) {
	svc, srv := newBillService(t, func(int, exchange) (int, string) {
		return http.StatusInternalServerError, faultResponse("soap-env:Client.1033", "El comprobante fue registrado previamente con otros datos")
	})

	rec := &attemptRecorder{}
	_, err := newClient(t, srv.URL).SendBill(context.Background(), authority.Request{FileName: base, Content: []byte("<x/>")}, rec.hook)
	require.Error(t, err)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, failure.KindSoapFault, fe.Kind)
	assert.Equal(t, "1033", fe.Code)
	assert.Equal(t, failure.OriginClient, fe.Origin)
	assert.False(t, failure.IsRetryable(err))
	assert.Equal(t, 1, fe.Attempts)
	assert.Len(t, svc.calls(), 1)
	require.Len(t, rec.attempts, 1)
	assert.False(t, rec.attempts[0].WillRetry)
}

func TestTransportFailureExhaustsAttempts(t *testing.T) {
	svc, srv := newBillService(t, func(int, exchange) (int, string) {
		return http.StatusBadGateway, "<html>bad gateway</html>"
	})

	rec := &attemptRecorder{}
	_, err := newClient(t, srv.URL).SendBill(context.Background(), authority.Request{FileName: base, Content: []byte("<x/>")}, rec.hook)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrTransport))
	assert.Equal(t, 3, failure.AttemptsOf(err))
	assert.Len(t, svc.calls(), 3)

	require.Len(t, rec.attempts, 3)
	assert.True(t, rec.attempts[0].WillRetry)
	assert.True(t, rec.attempts[1].WillRetry)
	assert.False(t, rec.attempts[2].WillRetry)
}

func TestResponseClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      failure.Kind
		retryable bool
	}{
		{"fault on http 200", http.StatusOK, faultResponse("soap-env:Client.0306", "No se puede leer el archivo"), failure.KindSoapFault, false},
		{"unauthorized", http.StatusUnauthorized, "", failure.KindSoapFault, false},
		{"forbidden", http.StatusForbidden, "denied", failure.KindSoapFault, false},
		{"server error without fault", http.StatusServiceUnavailable, "", failure.KindTransport, true},
		{"malformed 2xx", http.StatusOK, "not xml at all", failure.KindTransport, true},
		{"2xx missing element", http.StatusOK, soapEnvelope("<other/>"), failure.KindTransport, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newBillService(t, func(int, exchange) (int, string) { return tt.status, tt.body })
			client := newClient(t, srv.URL, func(c *sunat.Config) { c.MaxAttempts = 1 })

			_, err := client.SendBill(context.Background(), authority.Request{FileName: base, Content: []byte("<x/>")}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.KindOf(err))
			assert.Equal(t, tt.retryable, failure.IsRetryable(err))
		})
	}
}

func TestAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	_, srv := newBillService(t, func(int, exchange) (int, string) {
		<-release
		return http.StatusOK, ""
	})
	defer close(release)

	client := newClient(t, srv.URL, func(c *sunat.Config) {
		c.AttemptTimeout = 50 * time.Millisecond
		c.MaxAttempts = 2
	})

	start := time.Now()
	_, err := client.SendBill(context.Background(), authority.Request{FileName: base, Content: []byte("<x/>")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrTransport))
	assert.Equal(t, 2, failure.AttemptsOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, srv := newBillService(t, func(int, exchange) (int, string) {
		cancel()
		return http.StatusServiceUnavailable, ""
	})

	client := newClient(t, srv.URL, func(c *sunat.Config) { c.MaxAttempts = 5 })
	_, err := client.SendBill(ctx, authority.Request{FileName: base, Content: []byte("<x/>")}, nil)
	require.Error(t, err)
	assert.Len(t, svc.calls(), 1)
	assert.Error(t, ctx.Err())
}

func TestSendPackSummaryAndBatch(t *testing.T) {
	svc, srv := newBillService(t, func(_ int, ex exchange) (int, string) {
		return http.StatusOK, ticketResponse(ex.Operation, "1729000000001")
	})
	client := newClient(t, srv.URL)

	summaryBase := testutil.TestRUC + "-RC-20261019-1"
	ticket, err := client.SendPack(context.Background(), authority.Request{
		FileName: summaryBase,
		Content:  []byte(testutil.SummaryXML(testutil.TestRUC)),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1729000000001", ticket)

	ticket, err = client.SendPack(context.Background(), authority.Request{
		FileName: testutil.TestRUC + "-20261019-1",
		Batch: []authority.File{
			{BaseName: testutil.TestRUC + "-01-F001-00000001", Content: []byte("<a/>")},
			{BaseName: testutil.TestRUC + "-01-F001-00000002", Content: []byte("<b/>")},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1729000000001", ticket)

	calls := svc.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sendSummary", calls[0].Operation)
	assert.Equal(t, summaryBase+".zip", calls[0].FileName)
	assert.Equal(t, "sendPack", calls[1].Operation)
	assert.Equal(t, []string{
		testutil.TestRUC + "-01-F001-00000001.xml",
		testutil.TestRUC + "-01-F001-00000002.xml",
		"dummy/",
	}, zipNames(t, calls[1].ContentFile))
}

func TestCredentialsFollowIssuerRUC(t *testing.T) {
	const other = "20999999999"
	cdrPkg := testutil.CdrPackage(other+"-01-F001-00000001", testutil.CdrXML("F001-1", "0", "aceptada"))
	svc, srv := newBillService(t, func(_ int, ex exchange) (int, string) {
		switch ex.Operation {
		case "sendBill":
			return http.StatusOK, sendBillResponse(cdrPkg)
		case "sendSummary":
			return http.StatusOK, ticketResponse(ex.Operation, "1729000000002")
		default:
			return http.StatusOK, statusResponse("98", nil)
		}
	})
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.SendBill(ctx, authority.Request{RUC: other, FileName: other + "-01-F001-00000001", Content: []byte("<x/>")}, nil)
	require.NoError(t, err)
	_, err = client.SendPack(ctx, authority.Request{RUC: other, FileName: other + "-RC-20261019-1", Content: []byte("<x/>")}, nil)
	require.NoError(t, err)
	_, err = client.GetStatus(ctx, other, "1729000000002", nil)
	require.NoError(t, err)
	_, err = client.GetStatus(ctx, "", "1729000000002", nil)
	require.NoError(t, err)

	calls := svc.calls()
	require.Len(t, calls, 4)
	for _, ex := range calls[:3] {
		assert.Equal(t, other+"MODDATOS", ex.User, ex.Operation)
		assert.Equal(t, other+"MODDATOS", ex.WsseUser, ex.Operation)
	}
	assert.Equal(t, testutil.TestRUC+"MODDATOS", calls[3].User)
	assert.Equal(t, testutil.TestRUC+"MODDATOS", calls[3].WsseUser)
}

func TestGetStatusCodes(t *testing.T) {
	cdrPkg := testutil.CdrPackage(base, testutil.CdrXML("RC-1", "0", "aceptado"))

	tests := []struct {
		name    string
		body    string
		pending bool
		pkg     []byte
		errKind failure.Kind
	}{
		{"in process", statusResponse("98", nil), true, nil, ""},
		{"accepted", statusResponse("0", cdrPkg), false, cdrPkg, ""},
		{"processed with errors", statusResponse("99", cdrPkg), false, cdrPkg, ""},
		{"errors without cdr", statusResponse("99", nil), false, nil, failure.KindSoapFault},
		{"unknown code", statusResponse("0127", nil), false, nil, failure.KindSoapFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newBillService(t, func(int, exchange) (int, string) { return http.StatusOK, tt.body })
			res, err := newClient(t, srv.URL).GetStatus(context.Background(), "", "1729000000001", nil)

			assert.Equal(t, "1729000000001", svc.calls()[0].Ticket)
			if tt.errKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errKind, failure.KindOf(err))
				assert.False(t, failure.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pending, res.Pending)
			assert.Equal(t, tt.pkg, res.Package)
		})
	}
}

func TestBreakerOpensOnServerFailuresOnly(t *testing.T) {
	_, srv := newBillService(t, func(_ int, ex exchange) (int, string) {
		if ex.FileName == "client.zip" {
			return http.StatusInternalServerError, faultResponse("soap-env:Client.0151", "nombre de archivo invalido")
		}
		return http.StatusServiceUnavailable, ""
	})
	client := newClient(t, srv.URL, func(c *sunat.Config) {
		c.MaxAttempts = 1
		c.BreakerFailures = 2
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = client.SendBill(ctx, authority.Request{FileName: "client", Content: []byte("<x/>")}, nil)
	}
	assert.NoError(t, client.Ready())

	for i := 0; i < 2; i++ {
		_, _ = client.SendBill(ctx, authority.Request{FileName: base, Content: []byte("<x/>")}, nil)
	}
	assert.ErrorIs(t, client.Ready(), authority.ErrUnavailable)

	_, err := client.SendBill(ctx, authority.Request{FileName: base, Content: []byte("<x/>")}, nil)
	assert.True(t, errors.Is(err, sunat.ErrCircuitBreakerOpen))
}

func TestPing(t *testing.T) {
	_, srv := newBillService(t, func(int, exchange) (int, string) { return http.StatusMethodNotAllowed, "" })
	assert.NoError(t, newClient(t, srv.URL).Ping(context.Background()))

	client := newClient(t, "http://127.0.0.1:1", func(c *sunat.Config) { c.AttemptTimeout = 200 * time.Millisecond })
	assert.True(t, errors.Is(client.Ping(context.Background()), failure.ErrTransport))
}

func TestDefaultEndpoints(t *testing.T) {
	beta := sunat.NewClient(sunat.Config{Environment: authority.EnvironmentBeta}, http.DefaultClient, nil, testutil.NewNullLogger())
	prod := sunat.NewClient(sunat.Config{Environment: authority.EnvironmentProduction}, http.DefaultClient, nil, testutil.NewNullLogger())
	assert.Equal(t, sunat.BetaEndpoint, beta.Endpoint())
	assert.Equal(t, sunat.ProductionEndpoint, prod.Endpoint())
}
