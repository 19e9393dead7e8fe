package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// EventKind enumerates callbacks delivered by the signing service.
type EventKind string

const (
	EventSigned   EventKind = "SIGNED"
	EventDeclined EventKind = "DECLINED"
	EventExpired  EventKind = "EXPIRED"
)

// ErrInvalidEvent indicates a malformed signing callback.
var ErrInvalidEvent = errors.New("signing: invalid event")

// Event is one callback for an envelope. Party is empty for Expired, which
// applies to the whole envelope.
type Event struct {
	ID         string             `json:"id" validate:"required"`
	EnvelopeID string             `json:"envelope_id" validate:"required"`
	StudentID  int64              `json:"student_id" validate:"required"`
	Kind       EventKind          `json:"kind" validate:"required,oneof=SIGNED DECLINED EXPIRED"`
	Party      grants.SignerParty `json:"party,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	At         time.Time          `json:"at"`
}

// Validate checks the kind specific fields.
func (e Event) Validate() error {
	switch e.Kind {
	case EventSigned, EventDeclined:
		if e.Party == "" {
			return fmt.Errorf("%w: %s event requires a party", ErrInvalidEvent, e.Kind)
		}
	case EventExpired:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.EnvelopeID == "" || e.StudentID == 0 {
		return fmt.Errorf("%w: envelope and student are required", ErrInvalidEvent)
	}
	return nil
}

// Document is the agreement sent for signature.
type Document struct {
	StudentID   int64  `json:"student_id"`
	AwardID     int64  `json:"award_id"`
	Title       string `json:"title"`
	StudentName string `json:"student_name"`
	Amount      string `json:"amount"`
}
