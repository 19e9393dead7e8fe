// Package status holds the stipend workflow status registry: the ordered set of
// student statuses, their grouping into stages, the transition table and the
// budget classifications derived from a status.
package status

// Status is a student workflow status.
type Status string

// Student workflow statuses in workflow order.
const (
	Draft             Status = "DRAFT"
	IHESubmitted      Status = "IHE_SUBMITTED"
	LEAReviewing      Status = "LEA_REVIEWING"
	LEAApproved       Status = "LEA_APPROVED"
	CTCSubmitted      Status = "CTC_SUBMITTED"
	CTCReviewing      Status = "CTC_REVIEWING"
	CTCApproved       Status = "CTC_APPROVED"
	CTCRejected       Status = "CTC_REJECTED"
	RevisionRequested Status = "REVISION_REQUESTED"
	GAAPending        Status = "GAA_PENDING"
	GAAGenerated      Status = "GAA_GENERATED"
	GAASigned         Status = "GAA_SIGNED"
	InvoiceGenerated  Status = "INVOICE_GENERATED"
	PaymentAuthorized Status = "PAYMENT_AUTHORIZED"
	WarrantIssued     Status = "WARRANT_ISSUED"
	PaymentComplete   Status = "PAYMENT_COMPLETE"
	ReportingPending  Status = "REPORTING_PENDING"
	ReportingPartial  Status = "REPORTING_PARTIAL"
	ReportingComplete Status = "REPORTING_COMPLETE"
	ReportsApproved   Status = "REPORTS_APPROVED"
)

// Stage groups statuses for dashboards and award invariants.
type Stage string

const (
	StageSubmission   Stage = "Submission"
	StageReview       Stage = "Review"
	StageDisbursement Stage = "Disbursement"
	StageReporting    Stage = "Reporting"
	StageComplete     Stage = "Complete"
	StageRejected     Stage = "Rejected"
)

type definition struct {
	stage Stage
	order int
	label string
}

// ordered is the single source for order, stage and label of each status.
var ordered = []struct {
	status Status
	stage  Stage
	label  string
}{
	{Draft, StageSubmission, "Draft"},
	{IHESubmitted, StageSubmission, "Submitted by IHE"},
	{LEAReviewing, StageReview, "LEA Reviewing"},
	{LEAApproved, StageReview, "LEA Approved"},
	{CTCSubmitted, StageReview, "Submitted to CTC"},
	{CTCReviewing, StageReview, "CTC Reviewing"},
	{RevisionRequested, StageReview, "Revision Requested"},
	{CTCRejected, StageRejected, "Rejected"},
	{CTCApproved, StageDisbursement, "Approved"},
	{GAAPending, StageDisbursement, "GAA Pending"},
	{GAAGenerated, StageDisbursement, "GAA Sent for Signature"},
	{GAASigned, StageDisbursement, "GAA Signed"},
	{InvoiceGenerated, StageDisbursement, "Invoice Generated"},
	{PaymentAuthorized, StageDisbursement, "Payment Authorized"},
	{WarrantIssued, StageDisbursement, "Warrant Issued"},
	{PaymentComplete, StageDisbursement, "Payment Complete"},
	{ReportingPending, StageReporting, "Reporting Pending"},
	{ReportingPartial, StageReporting, "Reporting Partial"},
	{ReportingComplete, StageReporting, "Reporting Complete"},
	{ReportsApproved, StageComplete, "Reports Approved"},
}

var registry = buildRegistry()

func buildRegistry() map[Status]definition {
	defs := make(map[Status]definition, len(ordered))
	for i, entry := range ordered {
		defs[entry.status] = definition{stage: entry.stage, order: i, label: entry.label}
	}
	return defs
}

// All returns every known status in workflow order.
func All() []Status {
	out := make([]Status, 0, len(ordered))
	for _, entry := range ordered {
		out = append(out, entry.status)
	}
	return out
}

// Valid reports whether the status is part of the registry.
func (s Status) Valid() bool {
	_, ok := registry[s]
	return ok
}

// Order returns the workflow position of the status, -1 when unknown.
func (s Status) Order() int {
	def, ok := registry[s]
	if !ok {
		return -1
	}
	return def.order
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// StageOf classifies a status. Unknown input falls back to Submission.
func StageOf(s Status) Stage {
	def, ok := registry[s]
	if !ok {
		return StageSubmission
	}
	return def.stage
}

// IsReserved reports whether the award amount counts as reserved budget.
func IsReserved(s Status) bool {
	return s == CTCApproved
}

// IsEncumbered reports whether the award sits between GAA_PENDING and
// WARRANT_ISSUED inclusive.
func IsEncumbered(s Status) bool {
	switch s {
	case GAAPending, GAAGenerated, GAASigned, InvoiceGenerated, PaymentAuthorized, WarrantIssued:
		return true
	default:
		return false
	}
}

// IsDisbursed reports whether the status is exactly PAYMENT_COMPLETE.
func IsDisbursed(s Status) bool {
	return s == PaymentComplete
}

// IsPaidOut reports whether the stipend has been paid: PAYMENT_COMPLETE and
// every reporting status after it.
func IsPaidOut(s Status) bool {
	if IsDisbursed(s) {
		return true
	}
	switch StageOf(s) {
	case StageReporting, StageComplete:
		return s.Valid()
	default:
		return false
	}
}

// IsPayable reports whether an approved award is still waiting for payment.
func IsPayable(s Status) bool {
	return IsReserved(s) || IsEncumbered(s)
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s Status) bool {
	return len(AllowedNext(s)) == 0
}

// HasAward reports whether a student in this status must carry an award amount.
func HasAward(s Status) bool {
	switch StageOf(s) {
	case StageDisbursement, StageReporting, StageComplete:
		return s.Valid()
	default:
		return false
	}
}
