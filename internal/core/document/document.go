package document

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/cdr"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned on duplicate keys or a stale version on update.
	ErrConflict = errors.New("document conflict")
	// ErrInvalidTransition is returned when the lifecycle forbids a state change.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadySigned is returned when signed content would be overwritten.
	ErrAlreadySigned = errors.New("document already signed")
)

// Type is the SUNAT document type code.
type Type string

const (
	TypeInvoice    Type = "01"
	TypeReceipt    Type = "03"
	TypeCreditNote Type = "07"
	TypeDebitNote  Type = "08"
	TypeSummary    Type = "RC"
	TypeVoided     Type = "RA"
)

// Valid reports whether t is a supported document type.
func (t Type) Valid() bool {
	switch t {
	case TypeInvoice, TypeReceipt, TypeCreditNote, TypeDebitNote, TypeSummary, TypeVoided:
		return true
	}
	return false
}

// Async reports whether SUNAT answers this type with a ticket instead of a CDR.
func (t Type) Async() bool {
	return t == TypeSummary || t == TypeVoided
}

var rucPattern = regexp.MustCompile(`^\d{11}$`)

// ValidRUC reports whether ruc has the 11-digit taxpayer format.
func ValidRUC(ruc string) bool {
	return rucPattern.MatchString(ruc)
}

// Key is the fiscal identity of a document.
type Key struct {
	RUC    string
	Type   Type
	Series string
	Number string
}

// Validate checks the key fields.
func (k Key) Validate() error {
	if !ValidRUC(k.RUC) {
		return fmt.Errorf("ruc %q must have 11 digits", k.RUC)
	}
	if !k.Type.Valid() {
		return fmt.Errorf("unsupported document type %q", k.Type)
	}
	if strings.TrimSpace(k.Series) == "" {
		return errors.New("series is required")
	}
	if strings.TrimSpace(k.Number) == "" {
		return errors.New("number is required")
	}
	if !k.Type.Async() {
		if _, err := strconv.Atoi(k.Number); err != nil {
			return fmt.Errorf("number %q must be numeric", k.Number)
		}
	}
	return nil
}

// BaseName is the file name SUNAT expects, without extension.
// Invoice numbers are padded to 8 digits; summary sequences are not.
func (k Key) BaseName() string {
	number := k.Number
	if !k.Type.Async() {
		if n, err := strconv.Atoi(k.Number); err == nil {
			number = fmt.Sprintf("%08d", n)
		}
	}
	return fmt.Sprintf("%s-%s-%s-%s", k.RUC, k.Type, k.Series, number)
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", k.RUC, k.Type, k.Series, k.Number)
}

// ElectronicDocument is the unit of work moved through the submission lifecycle.
type ElectronicDocument struct {
	ID uuid.UUID
	Key

	RawXML       string
	SanitizedXML string
	SignedXML    string

	State                 State
	CorrelationID         string
	Ticket                string
	LastAuthorityResponse string
	ReviewReason          string

	CdrXML              string
	CdrStatus           cdr.Status
	ResponseCode        string
	ResponseDescription string
	Observations        []string
	ReceivedAt          *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a DRAFT document.
func New(key Key, rawXML, correlationID string, now time.Time) *ElectronicDocument {
	return &ElectronicDocument{
		ID:            uuid.New(),
		Key:           key,
		RawXML:        rawXML,
		State:         StateDraft,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the document to next if the lifecycle allows it.
func (d *ElectronicDocument) Transition(next State, now time.Time) error {
	if !CanTransition(d.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, next)
	}
	d.State = next
	d.UpdatedAt = now
	return nil
}

// Payload returns the sanitized XML once sanitization ran, else the raw XML.
func (d *ElectronicDocument) Payload() string {
	if d.SanitizedXML != "" {
		return d.SanitizedXML
	}
	return d.RawXML
}

// SetSignedXML stores the signed content. It can only be set once.
func (d *ElectronicDocument) SetSignedXML(signed string) error {
	if d.SignedXML != "" {
		return ErrAlreadySigned
	}
	d.SignedXML = signed
	return nil
}

// IssueTicket records the ticket returned for an asynchronous submission.
func (d *ElectronicDocument) IssueTicket(ticket string, now time.Time) error {
	if strings.TrimSpace(ticket) == "" {
		return errors.New("empty ticket")
	}
	if err := d.Transition(StateTicketIssued, now); err != nil {
		return err
	}
	d.Ticket = ticket
	return nil
}

// ApplyCdr stores a parsed CDR and moves the document to the matching terminal state.
// The document must be in CDR_RECEIVED.
func (d *ElectronicDocument) ApplyCdr(c *cdr.Cdr, now time.Time) error {
	if d.State != StateCdrReceived {
		return fmt.Errorf("%w: cannot apply CDR in %s", ErrInvalidTransition, d.State)
	}

	var next State
	switch c.Status {
	case cdr.StatusAccepted:
		next = StateAccepted
	case cdr.StatusAcceptedWithObservations:
		next = StateAcceptedWithObservations
	default:
		next = StateRejected
	}
	if err := d.Transition(next, now); err != nil {
		return err
	}

	received := now
	d.CdrXML = c.XML
	d.CdrStatus = c.Status
	d.ResponseCode = c.ResponseCode
	d.ResponseDescription = c.Description
	d.Observations = append([]string{}, c.Observations...)
	d.ReceivedAt = &received
	d.ReviewReason = ""
	return nil
}

// Clone returns a deep copy.
func (d *ElectronicDocument) Clone() *ElectronicDocument {
	c := *d
	if d.Observations != nil {
		c.Observations = append([]string{}, d.Observations...)
	}
	if d.ReceivedAt != nil {
		at := *d.ReceivedAt
		c.ReceivedAt = &at
	}
	return &c
}

// Snapshot is the read-only view handed to callers.
type Snapshot struct {
	ID                  uuid.UUID    `json:"id"`
	RUC                 string       `json:"ruc"`
	Type                Type         `json:"type"`
	Series              string       `json:"series"`
	Number              string       `json:"number"`
	FileName            string       `json:"fileName"`
	State               State        `json:"state"`
	Terminal            bool         `json:"terminal"`
	CorrelationID       string       `json:"correlationId"`
	Ticket              string       `json:"ticket,omitempty"`
	Signed              bool         `json:"signed"`
	ReviewReason        string       `json:"reviewReason,omitempty"`
	CdrStatus           cdr.Status   `json:"cdrStatus,omitempty"`
	ResponseCode        string       `json:"responseCode,omitempty"`
	ResponseDescription string       `json:"responseDescription,omitempty"`
	Observations        []string     `json:"observations"`
	Summary             *cdr.Summary `json:"summary,omitempty"`
	ReceivedAt          *time.Time   `json:"receivedAt,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Snapshot returns a copy of the document state without XML payloads.
func (d *ElectronicDocument) Snapshot() Snapshot {
	s := Snapshot{
		ID:                  d.ID,
		RUC:                 d.RUC,
		Type:                d.Type,
		Series:              d.Series,
		Number:              d.Number,
		FileName:            d.BaseName(),
		State:               d.State,
		Terminal:            d.State.Terminal(),
		CorrelationID:       d.CorrelationID,
		Ticket:              d.Ticket,
		Signed:              d.SignedXML != "",
		ReviewReason:        d.ReviewReason,
		CdrStatus:           d.CdrStatus,
		ResponseCode:        d.ResponseCode,
		ResponseDescription: d.ResponseDescription,
		Observations:        append([]string{}, d.Observations...),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.ReceivedAt != nil {
		at := *d.ReceivedAt
		s.ReceivedAt = &at
	}
	if d.State.CdrBearing() {
		summary := cdr.Summarize(&cdr.Cdr{
			ResponseCode: d.ResponseCode,
			Description:  d.ResponseDescription,
			Observations: d.Observations,
			Status:       d.CdrStatus,
		})
		s.Summary = &summary
	}
	return s
}
