package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/status"
)

// ErrBudgetOverCommitment indicates an award would push commitments past the appropriation.
var ErrBudgetOverCommitment = errors.New("ledger: budget over-commitment")

// Ledger is the budget position of a grant cycle derived from student statuses.
type Ledger struct {
	CycleID      int64           `json:"cycle_id"`
	Appropriated decimal.Decimal `json:"appropriated"`
	Reserved     decimal.Decimal `json:"reserved"`
	Encumbered   decimal.Decimal `json:"encumbered"`
	Disbursed    decimal.Decimal `json:"disbursed"`
	Remaining    decimal.Decimal `json:"remaining"`
	Funded       int             `json:"funded_students"`
}

// Compute partitions the cycle's students by status and sums their awards.
// Students still before approval carry no award amount and contribute nothing.
// Paid-out students in the reporting stages stay in Disbursed so their money
// never returns to Remaining.
func Compute(cycle grants.GrantCycle, students []grants.Student) Ledger {
	l := Ledger{
		CycleID:      cycle.ID,
		Appropriated: cycle.Appropriated,
		Reserved:     decimal.Zero,
		Encumbered:   decimal.Zero,
		Disbursed:    decimal.Zero,
	}
	for _, st := range students {
		if st.CycleID != cycle.ID {
			continue
		}
		amount := st.Award()
		switch {
		case status.IsReserved(st.Status):
			l.Reserved = l.Reserved.Add(amount)
		case status.IsEncumbered(st.Status):
			l.Encumbered = l.Encumbered.Add(amount)
		case status.IsPaidOut(st.Status):
			l.Disbursed = l.Disbursed.Add(amount)
		default:
			continue
		}
		l.Funded++
	}
	l.Remaining = l.Appropriated.Sub(l.Committed())
	return l
}

// Committed returns reserved + encumbered + disbursed.
func (l Ledger) Committed() decimal.Decimal {
	return l.Reserved.Add(l.Encumbered).Add(l.Disbursed)
}

// OverCommitted reports whether commitments exceed the appropriation.
func (l Ledger) OverCommitted() bool {
	return l.Committed().GreaterThan(l.Appropriated)
}

// Admit checks that reserving amount keeps commitments within the appropriation.
func (l Ledger) Admit(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("%w: award amount %s must be positive", grants.ErrValidation, amount)
	}
	if l.Committed().Add(amount).GreaterThan(l.Appropriated) {
		return fmt.Errorf("%w: cycle %d has %s remaining, award needs %s",
			ErrBudgetOverCommitment, l.CycleID, FormatUSD(l.Remaining), FormatUSD(amount))
	}
	return nil
}
