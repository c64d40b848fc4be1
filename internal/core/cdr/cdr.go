package cdr

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the tri-state outcome SUNAT reports in a CDR.
type Status string

const (
	StatusAccepted                 Status = "ACCEPTED"
	StatusAcceptedWithObservations Status = "ACCEPTED_WITH_OBSERVATIONS"
	StatusRejected                 Status = "REJECTED"
)

// Cdr is the structured content of a Constancia de Recepcion.
type Cdr struct {
	FileName     string
	ID           string
	IssueDate    string
	ResponseDate string
	ResponseTime string
	ReferenceID  string
	DocumentID   string
	ResponseCode string
	Description  string
	Observations []string
	Status       Status
	XML          string
}

// CodeRange is an inclusive range of numeric response codes.
type CodeRange struct {
	From int
	To   int
}

func (r CodeRange) contains(code int) bool {
	return code >= r.From && code <= r.To
}

func (r CodeRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// DefaultObservationRanges covers the codes SUNAT uses for conditional acceptance.
var DefaultObservationRanges = []CodeRange{{From: 2000, To: 4999}}

// ParseRanges reads a comma-separated list such as "2000-4999,100-199".
func ParseRanges(raw string) ([]CodeRange, error) {
	var ranges []CodeRange
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		from, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("parse range %q: %w", part, err)
		}
		to := from
		if len(bounds) == 2 {
			to, err = strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("parse range %q: %w", part, err)
			}
		}
		if to < from {
			return nil, fmt.Errorf("parse range %q: upper bound below lower bound", part)
		}
		ranges = append(ranges, CodeRange{From: from, To: to})
	}
	return ranges, nil
}

// Classifier derives a Status from a response code and its observations.
type Classifier struct {
	ObservationRanges []CodeRange
}

// NewClassifier returns a Classifier using ranges, or the defaults when ranges is empty.
func NewClassifier(ranges []CodeRange) Classifier {
	if len(ranges) == 0 {
		ranges = DefaultObservationRanges
	}
	return Classifier{ObservationRanges: ranges}
}

// Classify maps "0" to ACCEPTED, an observation-range code with notes to
// ACCEPTED_WITH_OBSERVATIONS, and everything else to REJECTED.
func (c Classifier) Classify(code string, observations []string) Status {
	code = strings.TrimSpace(code)
	if code == "0" {
		return StatusAccepted
	}

	n, err := strconv.Atoi(code)
	if err != nil || len(observations) == 0 {
		return StatusRejected
	}
	for _, r := range c.ObservationRanges {
		if r.contains(n) {
			return StatusAcceptedWithObservations
		}
	}
	return StatusRejected
}

// Note is an observation split into its code and text.
type Note struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// SplitNote parses SUNAT's "4287 - El precio unitario..." note format.
func SplitNote(raw string) Note {
	raw = strings.TrimSpace(raw)
	code, text, found := strings.Cut(raw, " - ")
	if !found {
		return Note{Text: raw}
	}
	code = strings.TrimSpace(code)
	if _, err := strconv.Atoi(code); err != nil {
		return Note{Text: raw}
	}
	return Note{Code: code, Text: strings.TrimSpace(text)}
}

// Summary groups a CDR's notes into errors and observations.
type Summary struct {
	Accepted     bool   `json:"accepted"`
	ResponseCode string `json:"responseCode"`
	Description  string `json:"description"`
	Errors       []Note `json:"errors,omitempty"`
	Observations []Note `json:"observations,omitempty"`
}

// Summarize treats 2xxx and 3xxx notes as errors and anything else as an observation.
func Summarize(c *Cdr) Summary {
	s := Summary{
		Accepted:     c.Status == StatusAccepted || c.Status == StatusAcceptedWithObservations,
		ResponseCode: c.ResponseCode,
		Description:  c.Description,
	}
	for _, raw := range c.Observations {
		note := SplitNote(raw)
		if strings.HasPrefix(note.Code, "2") || strings.HasPrefix(note.Code, "3") {
			s.Errors = append(s.Errors, note)
			continue
		}
		s.Observations = append(s.Observations, note)
	}
	return s
}
