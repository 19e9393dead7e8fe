package grants

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/status"
)

// OrgType distinguishes sponsoring institutions from hosting districts.
type OrgType string

const (
	OrgIHE OrgType = "IHE"
	OrgLEA OrgType = "LEA"
)

// Organization is an IHE or LEA referenced by applications.
type Organization struct {
	ID   int64   `json:"id"`
	Type OrgType `json:"type"`
	Code string  `json:"code"`
	Name string  `json:"name"`
}

// GrantCycle owns the appropriation that every award in the cycle draws from.
type GrantCycle struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Appropriated decimal.Decimal `json:"appropriated"`
	DefaultAward decimal.Decimal `json:"default_award"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Open         bool            `json:"open"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ApplicationStatus is independent from the statuses of its students.
type ApplicationStatus string

const (
	ApplicationActive ApplicationStatus = "ACTIVE"
	ApplicationClosed ApplicationStatus = "CLOSED"
)

// Application binds one IHE, one LEA and one grant cycle.
type Application struct {
	ID        int64             `json:"id"`
	CycleID   int64             `json:"cycle_id"`
	IHEID     int64             `json:"ihe_id"`
	LEAID     int64             `json:"lea_id"`
	Status    ApplicationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Student is the workflow entity. CycleID, IHEID and LEAID are copied from the
// owning application when the student is created.
type Student struct {
	ID             int64                 `json:"id"`
	ApplicationID  int64                 `json:"application_id"`
	CycleID        int64                 `json:"cycle_id"`
	IHEID          int64                 `json:"ihe_id"`
	LEAID          int64                 `json:"lea_id"`
	FirstName      string                `json:"first_name"`
	LastName       string                `json:"last_name"`
	SEID           string                `json:"seid"`
	CredentialArea string                `json:"credential_area"`
	AwardAmount    *decimal.Decimal      `json:"award_amount,omitempty"`
	Status         status.Status         `json:"status"`
	RevisionOrigin status.RevisionOrigin `json:"revision_origin,omitempty"`
	LastActionAt   time.Time             `json:"last_action_at"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Award returns the award amount or zero when none has been set.
func (s Student) Award() decimal.Decimal {
	if s.AwardAmount == nil {
		return decimal.Zero
	}
	return *s.AwardAmount
}

// Clone returns a deep copy safe to hand out of a store.
func (s Student) Clone() Student {
	if s.AwardAmount != nil {
		amount := *s.AwardAmount
		s.AwardAmount = &amount
	}
	return s
}

// CheckAwardInvariant verifies that an award amount is present exactly when the
// status has reached approval.
func (s Student) CheckAwardInvariant() error {
	want := status.HasAward(s.Status)
	if want && s.AwardAmount == nil {
		return fmt.Errorf("%w: student %d in %s has no award amount", ErrAwardInvariant, s.ID, s.Status)
	}
	if !want && s.AwardAmount != nil {
		return fmt.Errorf("%w: student %d in %s carries an award amount", ErrAwardInvariant, s.ID, s.Status)
	}
	return nil
}

// SignerParty is a party that must sign the grant award agreement.
type SignerParty string

const (
	PartyLEA           SignerParty = "LEA"
	PartyGrantsManager SignerParty = "GRANTS_MANAGER"
	PartyFiscalOfficer SignerParty = "FISCAL_OFFICER"
)

// DefaultSigners lists the parties required on every agreement.
func DefaultSigners() []SignerParty {
	return []SignerParty{PartyLEA, PartyGrantsManager, PartyFiscalOfficer}
}

// SignatureState tracks one party's signature.
type SignatureState string

const (
	SignatureNotSent  SignatureState = "NOT_SENT"
	SignatureSent     SignatureState = "SENT"
	SignatureSigned   SignatureState = "SIGNED"
	SignatureDeclined SignatureState = "DECLINED"
)

// Signature is a single signing slot on an award.
type Signature struct {
	Party         SignerParty    `json:"party"`
	State         SignatureState `json:"state"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	SignedAt      *time.Time     `json:"signed_at,omitempty"`
	DeclineReason string         `json:"decline_reason,omitempty"`
}

// Award is the signature collection record created when a student is approved.
type Award struct {
	ID         int64           `json:"id"`
	StudentID  int64           `json:"student_id"`
	CycleID    int64           `json:"cycle_id"`
	Amount     decimal.Decimal `json:"amount"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Signatures []Signature     `json:"signatures"`
	CreatedAt  time.Time       `json:"created_at"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// NewAwardShell builds an award with one unsent signature per party.
func NewAwardShell(student Student, parties []SignerParty, at time.Time) Award {
	sigs := make([]Signature, 0, len(parties))
	for _, p := range parties {
		sigs = append(sigs, Signature{Party: p, State: SignatureNotSent})
	}
	return Award{
		StudentID:  student.ID,
		CycleID:    student.CycleID,
		Amount:     student.Award(),
		Signatures: sigs,
		CreatedAt:  at,
	}
}

// Clone returns a deep copy of the award.
func (a Award) Clone() Award {
	a.Signatures = slices.Clone(a.Signatures)
	return a
}

// FullySigned reports whether every required signature is SIGNED.
func (a Award) FullySigned() bool {
	if len(a.Signatures) == 0 {
		return false
	}
	for _, sig := range a.Signatures {
		if sig.State != SignatureSigned {
			return false
		}
	}
	return true
}

// Unsigned returns the parties that have not signed yet.
func (a Award) Unsigned() []SignerParty {
	var out []SignerParty
	for _, sig := range a.Signatures {
		if sig.State != SignatureSigned {
			out = append(out, sig.Party)
		}
	}
	return out
}

// SignatureOf returns the signature slot of party.
func (a Award) SignatureOf(party SignerParty) (Signature, bool) {
	idx := a.indexOf(party)
	if idx < 0 {
		return Signature{}, false
	}
	return a.Signatures[idx], true
}

// MarkSent records an outgoing envelope for every unsigned party.
func (a *Award) MarkSent(envelopeID string, at time.Time) {
	a.EnvelopeID = envelopeID
	for i := range a.Signatures {
		if a.Signatures[i].State == SignatureSigned {
			continue
		}
		sent := at
		a.Signatures[i].State = SignatureSent
		a.Signatures[i].SentAt = &sent
		a.Signatures[i].DeclineReason = ""
	}
}

// MarkSigned records a completed signature for the party.
func (a *Award) MarkSigned(party SignerParty, at time.Time) error {
	idx := a.indexOf(party)
	if idx < 0 {
		return fmt.Errorf("%w: party %s not required on award %d", ErrValidation, party, a.ID)
	}
	signed := at
	a.Signatures[idx].State = SignatureSigned
	a.Signatures[idx].SignedAt = &signed
	return nil
}

// MarkDeclined records a declined signature.
func (a *Award) MarkDeclined(party SignerParty, reason string) error {
	idx := a.indexOf(party)
	if idx < 0 {
		return fmt.Errorf("%w: party %s not required on award %d", ErrValidation, party, a.ID)
	}
	a.Signatures[idx].State = SignatureDeclined
	a.Signatures[idx].DeclineReason = reason
	return nil
}

// ResetSignatures clears every signature and the envelope reference.
func (a *Award) ResetSignatures() {
	a.EnvelopeID = ""
	for i := range a.Signatures {
		reason := a.Signatures[i].DeclineReason
		a.Signatures[i] = Signature{Party: a.Signatures[i].Party, State: SignatureNotSent, DeclineReason: reason}
	}
}

func (a *Award) indexOf(party SignerParty) int {
	for i, sig := range a.Signatures {
		if sig.Party == party {
			return i
		}
	}
	return -1
}

// TransitionEvent is an append-only record of one applied transition.
type TransitionEvent struct {
	ID             uuid.UUID             `json:"id"`
	StudentID      int64                 `json:"student_id"`
	From           status.Status         `json:"from"`
	To             status.Status         `json:"to"`
	ActorID        int64                 `json:"actor_id"`
	Role           status.Role           `json:"role"`
	Override       bool                  `json:"override"`
	RevisionOrigin status.RevisionOrigin `json:"revision_origin,omitempty"`
	Note           string                `json:"note,omitempty"`
	At             time.Time             `json:"at"`
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("grants: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("grants: invalid input")
	// ErrConcurrentModification indicates the student changed since it was read.
	ErrConcurrentModification = errors.New("grants: concurrent modification")
	// ErrCycleClosed indicates the grant cycle no longer accepts applications.
	ErrCycleClosed = errors.New("grants: grant cycle closed")
	// ErrApplicationClosed indicates the application no longer accepts students.
	ErrApplicationClosed = errors.New("grants: application closed")
	// ErrAwardInvariant indicates award amount and status disagree.
	ErrAwardInvariant = errors.New("grants: award amount inconsistent with status")
)
