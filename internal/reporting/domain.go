package reporting

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/status"
)

// ReportType classifies a reporting period.
type ReportType string

const (
	ReportProgress   ReportType = "PROGRESS"
	ReportCompletion ReportType = "COMPLETION"
	ReportFinal      ReportType = "FINAL"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportProgress, ReportCompletion, ReportFinal:
		return true
	}
	return false
}

// Period is a reporting window scoped to a grant cycle. At most one period per
// cycle is active at a time.
type Period struct {
	ID        int64      `json:"id"`
	CycleID   int64      `json:"cycle_id"`
	Name      string     `json:"name"`
	Type      ReportType `json:"type"`
	StartDate time.Time  `json:"start_date"`
	DueDate   time.Time  `json:"due_date"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
}

// Obligation is a funded student's duty to report for a period. PeriodID is
// zero while the obligation is deferred waiting for an active period.
type Obligation struct {
	ID          int64      `json:"id"`
	StudentID   int64      `json:"student_id"`
	CycleID     int64      `json:"cycle_id"`
	LEAID       int64      `json:"lea_id"`
	IHEID       int64      `json:"ihe_id"`
	PeriodID    int64      `json:"period_id"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Deferred reports whether the obligation still waits for a period.
func (o Obligation) Deferred() bool {
	return o.PeriodID == 0
}

// ReportStatus is the submission sub-status of an IHE report.
type ReportStatus string

const (
	ReportDraft     ReportStatus = "DRAFT"
	ReportSubmitted ReportStatus = "SUBMITTED"
	ReportApproved  ReportStatus = "APPROVED"
	ReportDenied    ReportStatus = "DENIED"
)

// ReportAction moves a report between statuses.
type ReportAction string

const (
	ActionSubmit  ReportAction = "submit"
	ActionApprove ReportAction = "approve"
	ActionDeny    ReportAction = "deny"
)

type reportTransition struct {
	From   ReportStatus
	Action ReportAction
	To     ReportStatus
	Role   status.Role
}

var reportTransitions = []reportTransition{
	{From: ReportDraft, Action: ActionSubmit, To: ReportSubmitted, Role: status.RoleIHE},
	{From: ReportSubmitted, Action: ActionApprove, To: ReportApproved, Role: status.RoleCTCStaff},
	{From: ReportSubmitted, Action: ActionDeny, To: ReportDenied, Role: status.RoleCTCStaff},
}

func lookupReportTransition(from ReportStatus, action ReportAction) (reportTransition, bool) {
	for _, tr := range reportTransitions {
		if tr.From == from && tr.Action == action {
			return tr, true
		}
	}
	return reportTransition{}, false
}

// IHEReport captures the outcome facts for one student and period.
type IHEReport struct {
	ID               int64        `json:"id"`
	StudentID        int64        `json:"student_id"`
	PeriodID         int64        `json:"period_id"`
	IHEID            int64        `json:"ihe_id"`
	Status           ReportStatus `json:"status"`
	CompletedProgram bool         `json:"completed_program"`
	CredentialEarned bool         `json:"credential_earned"`
	Employed         bool         `json:"employed"`
	EmployerLEAID    *int64       `json:"employer_lea_id,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	ReviewNote       string       `json:"review_note,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	SubmittedAt      *time.Time   `json:"submitted_at,omitempty"`
	ReviewedAt       *time.Time   `json:"reviewed_at,omitempty"`
}

// Closed reports whether the report has been approved or denied.
func (r IHEReport) Closed() bool {
	return r.Status == ReportApproved || r.Status == ReportDenied
}

// ComplianceStatus buckets an LEA compliance rate.
type ComplianceStatus string

const (
	ComplianceGood    ComplianceStatus = "Good"
	ComplianceWarning ComplianceStatus = "Warning"
	ComplianceAtRisk  ComplianceStatus = "AtRisk"
)

// Compliance summarises the reporting position of one LEA.
type Compliance struct {
	LEAID                 int64            `json:"lea_id"`
	Funded                int              `json:"funded_students"`
	Reported              int              `json:"reported_students"`
	Rate                  decimal.Decimal  `json:"rate"`
	Status                ComplianceStatus `json:"status"`
	PendingPayments       int              `json:"pending_payments"`
	HasPaymentHoldWarning bool             `json:"has_payment_hold_warning"`
}

// Overdue pairs an outstanding obligation with its period.
type Overdue struct {
	Obligation Obligation `json:"obligation"`
	Period     Period     `json:"period"`
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("reporting: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("reporting: invalid input")
	// ErrActivePeriodExists indicates another period of the cycle is already active.
	ErrActivePeriodExists = errors.New("reporting: cycle already has an active period")
	// ErrInvalidReportAction indicates the action is not allowed from the report status.
	ErrInvalidReportAction = errors.New("reporting: invalid report action")
	// ErrUnauthorizedRole indicates the role may not perform the report action.
	ErrUnauthorizedRole = errors.New("reporting: role not authorized")
	// ErrNotFunded indicates the student has not been paid.
	ErrNotFunded = errors.New("reporting: student not funded")
	// ErrDuplicateReport indicates an open report already exists for the student and period.
	ErrDuplicateReport = errors.New("reporting: report already exists")
)
