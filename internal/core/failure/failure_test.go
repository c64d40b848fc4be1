package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", Transport("sendBill", context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrSoapFault)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", Transport("sendBill", errors.New("connection reset")), true},
		{"server fault", SoapFault("sendBill", "0130", "try again", OriginServer, true), true},
		{"client fault", SoapFault("sendBill", "0160", "empty xml", OriginClient, false), false},
		{"unknown fault", SoapFault("sendBill", "", "weird", OriginUnknown, true), false},
		{"validation", Validation("missing cbc:UBLVersionID"), false},
		{"signing", Signing("bad password", nil), false},
		{"cdr", CdrParse("not a zip", nil), false},
		{"timeout", TicketTimeout("T-1", 3, time.Second), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := SoapFault("sendBill", "0160", "el archivo XML esta vacio", OriginClient, false)
	assert.Equal(t, "soap_fault [sendBill] code=0160: el archivo XML esta vacio", err.Error())

	wrapped := Signing("load certificate", errors.New("pkcs12: decryption password incorrect"))
	assert.Contains(t, wrapped.Error(), "decryption password incorrect")
	assert.Equal(t, KindSigning, KindOf(fmt.Errorf("wrap: %w", wrapped)))
}

func TestAttemptsOf(t *testing.T) {
	err := Transport("sendBill", errors.New("timeout"))
	err.Attempts = 3

	assert.Equal(t, 3, AttemptsOf(fmt.Errorf("x: %w", err)))
	assert.Equal(t, 0, AttemptsOf(errors.New("plain")))
}
