package document

// State is a position in a document's submission lifecycle.
type State string

const (
	StateDraft                    State = "DRAFT"
	StateSanitized                State = "SANITIZED"
	StateValidated                State = "VALIDATED"
	StateSigned                   State = "SIGNED"
	StateSubmitted                State = "SUBMITTED"
	StateCdrReceived              State = "CDR_RECEIVED"
	StateTicketIssued             State = "TICKET_ISSUED"
	StatePolling                  State = "POLLING"
	StateAccepted                 State = "ACCEPTED"
	StateAcceptedWithObservations State = "ACCEPTED_WITH_OBSERVATIONS"
	StateRejected                 State = "REJECTED"
	StateSubmissionFailed         State = "SUBMISSION_FAILED"
	StateExpired                  State = "EXPIRED"
)

var transitions = map[State][]State{
	StateDraft:        {StateSanitized},
	StateSanitized:    {StateValidated},
	StateValidated:    {StateSigned},
	StateSigned:       {StateSubmitted},
	StateSubmitted:    {StateCdrReceived, StateTicketIssued, StateSubmissionFailed},
	StateTicketIssued: {StatePolling},
	StatePolling:      {StateCdrReceived, StateExpired},
	StateCdrReceived:  {StateAccepted, StateAcceptedWithObservations, StateRejected},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateAcceptedWithObservations, StateRejected, StateSubmissionFailed, StateExpired:
		return true
	}
	return false
}

// CdrBearing reports whether the state carries a parsed CDR.
func (s State) CdrBearing() bool {
	switch s {
	case StateAccepted, StateAcceptedWithObservations, StateRejected:
		return true
	}
	return false
}

// TicketOutstanding reports whether SUNAT holds a ticket that has not been resolved.
func (s State) TicketOutstanding() bool {
	return s == StateTicketIssued || s == StatePolling
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s.Terminal()
}
