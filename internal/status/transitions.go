package status

import "slices"

// Role identifies the kind of actor requesting a transition.
type Role string

const (
	RoleIHE           Role = "IHE"
	RoleLEA           Role = "LEA"
	RoleCTCStaff      Role = "CTC_STAFF"
	RoleFiscalOfficer Role = "FISCAL_OFFICER"
	// RoleSystem is used by the signing callback pipeline and scheduled jobs.
	RoleSystem Role = "SYSTEM"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleIHE, RoleLEA, RoleCTCStaff, RoleFiscalOfficer, RoleSystem}
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return slices.Contains(Roles(), r)
}

// RevisionOrigin records which reviewer asked for a revision.
type RevisionOrigin string

const (
	RevisionNone RevisionOrigin = ""
	RevisionLEA  RevisionOrigin = "LEA"
	RevisionCTC  RevisionOrigin = "CTC"
)

// Guard flags extra checks the engine runs for an edge.
type Guard uint8

const (
	// GuardAdmission runs budget admission control before the edge commits.
	GuardAdmission Guard = 1 << iota
	// GuardSignatures requires every award signature to be SIGNED.
	GuardSignatures
	// GuardPaymentHold refuses the edge while the LEA is on payment hold.
	GuardPaymentHold
	// GuardRecordsRevision tags the student with the requesting reviewer.
	GuardRecordsRevision
	// GuardReportsApproved requires an approved report for every bound
	// reporting obligation.
	GuardReportsApproved
)

// Transition is one legal edge of the workflow.
type Transition struct {
	From   Status
	To     Status
	Roles  []Role
	Guards Guard
	// Origin binds a REVISION_REQUESTED exit or entry to a reviewer.
	Origin RevisionOrigin
}

// Has reports whether the guard flag is set on the transition.
func (t Transition) Has(g Guard) bool {
	return t.Guards&g != 0
}

// Permits reports whether the role may take this edge.
func (t Transition) Permits(role Role) bool {
	return slices.Contains(t.Roles, role)
}

var transitions = []Transition{
	{From: Draft, To: IHESubmitted, Roles: []Role{RoleIHE}},
	{From: IHESubmitted, To: LEAReviewing, Roles: []Role{RoleLEA}},
	{From: LEAReviewing, To: LEAApproved, Roles: []Role{RoleLEA}},
	{From: LEAReviewing, To: RevisionRequested, Roles: []Role{RoleLEA}, Guards: GuardRecordsRevision, Origin: RevisionLEA},
	{From: LEAApproved, To: CTCSubmitted, Roles: []Role{RoleLEA, RoleIHE}},
	{From: CTCSubmitted, To: CTCReviewing, Roles: []Role{RoleCTCStaff}},
	{From: CTCReviewing, To: CTCApproved, Roles: []Role{RoleCTCStaff}, Guards: GuardAdmission},
	{From: CTCReviewing, To: CTCRejected, Roles: []Role{RoleCTCStaff}},
	{From: CTCReviewing, To: RevisionRequested, Roles: []Role{RoleCTCStaff}, Guards: GuardRecordsRevision, Origin: RevisionCTC},
	{From: RevisionRequested, To: IHESubmitted, Roles: []Role{RoleIHE}, Origin: RevisionLEA},
	{From: RevisionRequested, To: CTCSubmitted, Roles: []Role{RoleIHE, RoleLEA}, Origin: RevisionCTC},
	{From: CTCApproved, To: GAAPending, Roles: []Role{RoleCTCStaff, RoleSystem}, Guards: GuardPaymentHold},
	{From: GAAPending, To: GAAGenerated, Roles: []Role{RoleCTCStaff, RoleSystem}},
	{From: GAAGenerated, To: GAAPending, Roles: []Role{RoleCTCStaff, RoleSystem}},
	{From: GAAGenerated, To: GAASigned, Roles: []Role{RoleSystem, RoleCTCStaff}, Guards: GuardSignatures},
	{From: GAASigned, To: InvoiceGenerated, Roles: []Role{RoleCTCStaff, RoleFiscalOfficer}, Guards: GuardSignatures},
	{From: InvoiceGenerated, To: PaymentAuthorized, Roles: []Role{RoleFiscalOfficer}, Guards: GuardSignatures},
	{From: PaymentAuthorized, To: WarrantIssued, Roles: []Role{RoleFiscalOfficer}, Guards: GuardSignatures},
	{From: WarrantIssued, To: PaymentComplete, Roles: []Role{RoleFiscalOfficer, RoleSystem}, Guards: GuardSignatures},
	{From: PaymentComplete, To: ReportingPending, Roles: []Role{RoleSystem, RoleCTCStaff}},
	{From: ReportingPending, To: ReportingPartial, Roles: []Role{RoleSystem, RoleIHE}},
	{From: ReportingPending, To: ReportingComplete, Roles: []Role{RoleSystem, RoleIHE}},
	{From: ReportingPartial, To: ReportingComplete, Roles: []Role{RoleSystem, RoleIHE}},
	// A denied report reopens its obligation.
	{From: ReportingComplete, To: ReportingPartial, Roles: []Role{RoleSystem}},
	{From: ReportingComplete, To: ReportsApproved, Roles: []Role{RoleCTCStaff}, Guards: GuardReportsApproved},
}

type edgeKey struct {
	from Status
	to   Status
}

var edges = buildEdges()

func buildEdges() map[edgeKey]Transition {
	out := make(map[edgeKey]Transition, len(transitions))
	for _, t := range transitions {
		out[edgeKey{from: t.From, to: t.To}] = t
	}
	return out
}

// Lookup returns the transition for an edge.
func Lookup(from, to Status) (Transition, bool) {
	t, ok := edges[edgeKey{from: from, to: to}]
	return t, ok
}

// AllowedNext returns the legal next statuses in workflow order. Terminal
// statuses return an empty slice.
func AllowedNext(s Status) []Status {
	next := make([]Status, 0, 3)
	for _, t := range transitions {
		if t.From == s {
			next = append(next, t.To)
		}
	}
	slices.SortFunc(next, func(a, b Status) int {
		return a.Order() - b.Order()
	})
	return next
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	for i, t := range transitions {
		t.Roles = slices.Clone(t.Roles)
		out[i] = t
	}
	return out
}
