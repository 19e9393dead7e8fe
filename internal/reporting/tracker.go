package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
	"github.com/ctc-stipend/stipend/internal/workflow"
)

// StudentSource reads the grant records the tracker derives obligations from.
type StudentSource interface {
	LoadCycle(ctx context.Context, id int64) (grants.GrantCycle, error)
	LoadStudent(ctx context.Context, id int64) (grants.Student, error)
	LoadStudentsForCycle(ctx context.Context, cycleID int64) ([]grants.Student, error)
	LoadStudentsForLEA(ctx context.Context, leaID int64) ([]grants.Student, error)
}

// Advancer moves students through the reporting statuses.
type Advancer interface {
	AttemptTransition(ctx context.Context, req workflow.TransitionRequest) (grants.Student, error)
}

// Tracker maintains outcome reporting obligations and LEA compliance.
type Tracker struct {
	store    Store
	students StudentSource
	advancer Advancer
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, students StudentSource, advancer Advancer, policy Policy, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, students: students, advancer: advancer, policy: policy, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (t *Tracker) WithNow(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

var systemActor = shared.SystemActor()

// AfterTransition attaches a reporting obligation once a student is paid.
func (t *Tracker) AfterTransition(ctx context.Context, change workflow.Change) {
	if change.Event.To != status.PaymentComplete {
		return
	}
	if _, err := t.Attach(ctx, change.Student); err != nil {
		t.logger.ErrorContext(ctx, "attach reporting obligation", slog.Int64("student_id", change.Student.ID), slog.Any("error", err))
	}
}

// Attach records the student's obligation against the cycle's active period,
// or defers it when no period is active. A deferred obligation found while a
// period is active is bound to it; other existing obligations are returned
// unchanged.
func (t *Tracker) Attach(ctx context.Context, student grants.Student) (Obligation, error) {
	if !status.IsPaidOut(student.Status) {
		return Obligation{}, fmt.Errorf("%w: student %d is %s", ErrNotFunded, student.ID, student.Status)
	}
	var out Obligation
	err := t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ObligationsForStudent(ctx, student.ID)
		if err != nil {
			return err
		}
		periodID := int64(0)
		active, err := tx.ActivePeriod(ctx, student.CycleID)
		switch {
		case err == nil:
			periodID = active.ID
		case !errors.Is(err, ErrNotFound):
			return err
		}
		for _, o := range existing {
			if o.PeriodID == periodID {
				out = o
				return nil
			}
		}
		for _, o := range existing {
			if !o.Deferred() {
				continue
			}
			if periodID != 0 {
				o.PeriodID = periodID
				if err := tx.SaveObligation(ctx, o); err != nil {
					return err
				}
			}
			out = o
			return nil
		}
		out, err = tx.CreateObligation(ctx, newObligation(student, periodID, t.now()))
		return err
	})
	if err != nil {
		return Obligation{}, err
	}
	if out.Deferred() {
		t.logger.InfoContext(ctx, "reporting obligation deferred", slog.Int64("student_id", student.ID), slog.Int64("cycle_id", student.CycleID))
		return out, nil
	}
	t.advance(ctx, student.ID)
	return out, nil
}

func newObligation(st grants.Student, periodID int64, at time.Time) Obligation {
	return Obligation{
		StudentID: st.ID,
		CycleID:   st.CycleID,
		LEAID:     st.LEAID,
		IHEID:     st.IHEID,
		PeriodID:  periodID,
		CreatedAt: at,
	}
}

// CreatePeriodInput describes a reporting window.
type CreatePeriodInput struct {
	CycleID   int64
	Name      string
	Type      ReportType
	StartDate time.Time
	DueDate   time.Time
}

// CreatePeriod registers an inactive period.
func (t *Tracker) CreatePeriod(ctx context.Context, input CreatePeriodInput) (Period, error) {
	input.Name = strings.TrimSpace(input.Name)
	switch {
	case input.Name == "":
		return Period{}, fmt.Errorf("%w: name required", ErrValidation)
	case !input.Type.Valid():
		return Period{}, fmt.Errorf("%w: unknown report type %q", ErrValidation, input.Type)
	case input.DueDate.Before(input.StartDate):
		return Period{}, fmt.Errorf("%w: due date before start date", ErrValidation)
	}
	if _, err := t.students.LoadCycle(ctx, input.CycleID); err != nil {
		return Period{}, err
	}
	p := Period{
		CycleID:   input.CycleID,
		Name:      input.Name,
		Type:      input.Type,
		StartDate: input.StartDate,
		DueDate:   input.DueDate,
		CreatedAt: t.now(),
	}
	err := t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		p, err = tx.CreatePeriod(ctx, p)
		return err
	})
	return p, err
}

// ActivatePeriod makes the period the cycle's active one. Deferred obligations
// of the cycle are bound to it and every funded student without an obligation
// for the period receives one. Activating while another period of the cycle
// is active fails with ErrActivePeriodExists.
func (t *Tracker) ActivatePeriod(ctx context.Context, periodID int64) (Period, []Obligation, error) {
	period, err := t.store.LoadPeriod(ctx, periodID)
	if err != nil {
		return Period{}, nil, err
	}
	students, err := t.students.LoadStudentsForCycle(ctx, period.CycleID)
	if err != nil {
		return Period{}, nil, err
	}
	var bound []Obligation
	err = t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		period, err = tx.LoadPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		active, err := tx.ActivePeriod(ctx, period.CycleID)
		switch {
		case err == nil && active.ID != period.ID:
			return fmt.Errorf("%w: period %d", ErrActivePeriodExists, active.ID)
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		if err := tx.SetPeriodActive(ctx, period.ID, true); err != nil {
			return err
		}
		period.Active = true

		deferred, err := tx.DeferredObligations(ctx, period.CycleID)
		if err != nil {
			return err
		}
		covered := make(map[int64]bool, len(deferred))
		for _, o := range deferred {
			o.PeriodID = period.ID
			if err := tx.SaveObligation(ctx, o); err != nil {
				return err
			}
			covered[o.StudentID] = true
			bound = append(bound, o)
		}
		for _, st := range students {
			if covered[st.ID] || !status.IsPaidOut(st.Status) {
				continue
			}
			existing, err := tx.ObligationsForStudent(ctx, st.ID)
			if err != nil {
				return err
			}
			if hasPeriod(existing, period.ID) {
				continue
			}
			o, err := tx.CreateObligation(ctx, newObligation(st, period.ID, t.now()))
			if err != nil {
				return err
			}
			bound = append(bound, o)
		}
		return nil
	})
	if err != nil {
		return Period{}, nil, err
	}
	t.logger.InfoContext(ctx, "reporting period activated", slog.Int64("period_id", period.ID), slog.Int("obligations", len(bound)))
	for _, o := range bound {
		t.advance(ctx, o.StudentID)
	}
	return period, bound, nil
}

func hasPeriod(obligations []Obligation, periodID int64) bool {
	for _, o := range obligations {
		if o.PeriodID == periodID {
			return true
		}
	}
	return false
}

// DeactivatePeriod closes the period for new report creation.
func (t *Tracker) DeactivatePeriod(ctx context.Context, periodID int64) error {
	return t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetPeriodActive(ctx, periodID, false)
	})
}

// CreateReportInput carries the outcome facts of a new report.
type CreateReportInput struct {
	StudentID int64
	// PeriodID defaults to the cycle's active period when zero.
	PeriodID         int64
	Actor            shared.Actor
	CompletedProgram bool
	CredentialEarned bool
	Employed         bool
	EmployerLEAID    *int64
	Notes            string
}

// CreateReport starts a DRAFT report for a funded student. A student holds at
// most one open or approved report per period.
func (t *Tracker) CreateReport(ctx context.Context, input CreateReportInput) (IHEReport, error) {
	if input.Actor.Role != status.RoleIHE {
		return IHEReport{}, fmt.Errorf("%w: %s may not create reports", ErrUnauthorizedRole, input.Actor.Role)
	}
	student, err := t.students.LoadStudent(ctx, input.StudentID)
	if err != nil {
		return IHEReport{}, err
	}
	if !status.IsPaidOut(student.Status) {
		return IHEReport{}, fmt.Errorf("%w: student %d is %s", ErrNotFunded, student.ID, student.Status)
	}
	var report IHEReport
	err = t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		periodID := input.PeriodID
		if periodID == 0 {
			active, err := tx.ActivePeriod(ctx, student.CycleID)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: no active reporting period", ErrValidation)
			}
			if err != nil {
				return err
			}
			periodID = active.ID
		}
		obligations, err := tx.ObligationsForStudent(ctx, student.ID)
		if err != nil {
			return err
		}
		if !hasPeriod(obligations, periodID) {
			return fmt.Errorf("%w: student %d has no obligation for period %d", ErrValidation, student.ID, periodID)
		}
		existing, err := tx.ReportsFor(ctx, student.ID, periodID)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.Status != ReportDenied {
				return fmt.Errorf("%w: report %d is %s", ErrDuplicateReport, r.ID, r.Status)
			}
		}
		report, err = tx.CreateReport(ctx, IHEReport{
			StudentID:        student.ID,
			PeriodID:         periodID,
			IHEID:            student.IHEID,
			Status:           ReportDraft,
			CompletedProgram: input.CompletedProgram,
			CredentialEarned: input.CredentialEarned,
			Employed:         input.Employed,
			EmployerLEAID:    input.EmployerLEAID,
			Notes:            input.Notes,
			CreatedAt:        t.now(),
		})
		return err
	})
	return report, err
}

// ApplyReportAction submits, approves or denies a report. Submission marks the
// obligation submitted. Denial reopens it so the IHE can report again, and a
// REPORTING_COMPLETE student falls back to REPORTING_PARTIAL.
func (t *Tracker) ApplyReportAction(ctx context.Context, reportID int64, action ReportAction, actor shared.Actor, note string) (IHEReport, error) {
	var report IHEReport
	err := t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		report, err = tx.LoadReport(ctx, reportID)
		if err != nil {
			return err
		}
		tr, ok := lookupReportTransition(report.Status, action)
		if !ok {
			return fmt.Errorf("%w: %s from %s", ErrInvalidReportAction, action, report.Status)
		}
		if actor.Role != tr.Role {
			return fmt.Errorf("%w: %s requires %s", ErrUnauthorizedRole, action, tr.Role)
		}
		now := t.now()
		report.Status = tr.To
		switch action {
		case ActionSubmit:
			report.SubmittedAt = &now
		default:
			report.ReviewedAt = &now
			report.ReviewNote = note
		}
		if err := tx.SaveReport(ctx, report); err != nil {
			return err
		}
		if action == ActionApprove {
			return nil
		}
		obligations, err := tx.ObligationsForStudent(ctx, report.StudentID)
		if err != nil {
			return err
		}
		for _, o := range obligations {
			if o.PeriodID != report.PeriodID {
				continue
			}
			o.Submitted = action == ActionSubmit
			o.SubmittedAt = nil
			if o.Submitted {
				o.SubmittedAt = &now
			}
			return tx.SaveObligation(ctx, o)
		}
		return fmt.Errorf("%w: obligation for report %d", ErrNotFound, report.ID)
	})
	if err != nil {
		return IHEReport{}, err
	}
	if action != ActionApprove {
		t.advance(ctx, report.StudentID)
	}
	return report, nil
}

// advance moves the student through the reporting statuses to match its bound
// obligations. The only backwards step is REPORTING_COMPLETE to
// REPORTING_PARTIAL after a denial.
func (t *Tracker) advance(ctx context.Context, studentID int64) {
	if t.advancer == nil {
		return
	}
	for {
		student, err := t.students.LoadStudent(ctx, studentID)
		if err != nil {
			t.logger.ErrorContext(ctx, "load student for reporting", slog.Int64("student_id", studentID), slog.Any("error", err))
			return
		}
		obligations, err := t.store.ObligationsForStudent(ctx, studentID)
		if err != nil {
			t.logger.ErrorContext(ctx, "load obligations", slog.Int64("student_id", studentID), slog.Any("error", err))
			return
		}
		to, ok := nextReportingStatus(student.Status, obligations)
		if !ok {
			return
		}
		_, err = t.advancer.AttemptTransition(ctx, workflow.TransitionRequest{StudentID: studentID, To: to, Actor: systemActor, Note: "reporting progress"})
		if err != nil {
			t.logger.WarnContext(ctx, "advance reporting status", slog.Int64("student_id", studentID), slog.String("to", string(to)), slog.Any("error", err))
			return
		}
	}
}

func nextReportingStatus(current status.Status, obligations []Obligation) (status.Status, bool) {
	total, submitted := 0, 0
	for _, o := range obligations {
		if o.Deferred() {
			continue
		}
		total++
		if o.Submitted {
			submitted++
		}
	}
	if total == 0 {
		return "", false
	}
	switch current {
	case status.PaymentComplete:
		return status.ReportingPending, true
	case status.ReportingPending:
		switch {
		case submitted == total:
			return status.ReportingComplete, true
		case submitted > 0:
			return status.ReportingPartial, true
		}
	case status.ReportingPartial:
		if submitted == total {
			return status.ReportingComplete, true
		}
	case status.ReportingComplete:
		if submitted < total {
			return status.ReportingPartial, true
		}
	}
	return "", false
}

// Compliance computes the reporting position of an LEA. The rate is the share
// of funded students whose bound obligations are all submitted; an LEA with no
// funded students is fully compliant.
func (t *Tracker) Compliance(ctx context.Context, leaID int64) (Compliance, error) {
	students, err := t.students.LoadStudentsForLEA(ctx, leaID)
	if err != nil {
		return Compliance{}, err
	}
	obligations, err := t.store.ObligationsForLEA(ctx, leaID)
	if err != nil {
		return Compliance{}, err
	}
	byStudent := make(map[int64][]Obligation)
	for _, o := range obligations {
		byStudent[o.StudentID] = append(byStudent[o.StudentID], o)
	}
	c := Compliance{LEAID: leaID}
	for _, st := range students {
		switch {
		case status.IsPaidOut(st.Status):
			c.Funded++
			if reported(byStudent[st.ID]) {
				c.Reported++
			}
		case status.IsPayable(st.Status):
			c.PendingPayments++
		}
	}
	c.Rate = decimal.NewFromInt(1)
	if c.Funded > 0 {
		c.Rate = decimal.NewFromInt(int64(c.Reported)).DivRound(decimal.NewFromInt(int64(c.Funded)), 4)
	}
	c.Status = t.policy.Bucket(c.Rate)
	c.HasPaymentHoldWarning = c.Rate.LessThan(t.policy.HoldThreshold) && c.PendingPayments > 0
	return c, nil
}

func reported(obligations []Obligation) bool {
	bound := 0
	for _, o := range obligations {
		if o.Deferred() {
			continue
		}
		bound++
		if !o.Submitted {
			return false
		}
	}
	return bound > 0
}

// ReportsApproved reports whether the student has at least one bound
// obligation and an approved report for each of them.
func (t *Tracker) ReportsApproved(ctx context.Context, studentID int64) (bool, error) {
	obligations, err := t.store.ObligationsForStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	reports, err := t.store.ReportsForStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	approved := make(map[int64]bool, len(reports))
	for _, r := range reports {
		if r.Status == ReportApproved {
			approved[r.PeriodID] = true
		}
	}
	bound := 0
	for _, o := range obligations {
		if o.Deferred() {
			continue
		}
		bound++
		if !o.Submitted || !approved[o.PeriodID] {
			return false, nil
		}
	}
	return bound > 0, nil
}

// HasPaymentHoldWarning reports whether new payments to the LEA are on hold.
func (t *Tracker) HasPaymentHoldWarning(ctx context.Context, leaID int64) (bool, error) {
	c, err := t.Compliance(ctx, leaID)
	if err != nil {
		return false, err
	}
	return c.HasPaymentHoldWarning, nil
}

// ComplianceFor computes several LEAs concurrently, preserving input order.
func (t *Tracker) ComplianceFor(ctx context.Context, leaIDs []int64) ([]Compliance, error) {
	out := make([]Compliance, len(leaIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range leaIDs {
		g.Go(func() error {
			c, err := t.Compliance(ctx, id)
			if err != nil {
				return fmt.Errorf("lea %d: %w", id, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Reconcile repairs the cycle's obligations. Deferred obligations are bound
// to the active period, which covers a payment that committed while the period
// was being activated. Funded students with no obligation get one, for
// instance when a listener call was lost. It returns the number of obligations
// bound or created.
func (t *Tracker) Reconcile(ctx context.Context, cycleID int64) (int, error) {
	bound, err := t.bindDeferred(ctx, cycleID)
	if err != nil {
		return 0, err
	}
	for _, o := range bound {
		t.advance(ctx, o.StudentID)
	}
	students, err := t.students.LoadStudentsForCycle(ctx, cycleID)
	if err != nil {
		return len(bound), err
	}
	created := len(bound)
	for _, st := range students {
		if !status.IsPaidOut(st.Status) {
			continue
		}
		existing, err := t.store.ObligationsForStudent(ctx, st.ID)
		if err != nil {
			return created, err
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := t.Attach(ctx, st); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (t *Tracker) bindDeferred(ctx context.Context, cycleID int64) ([]Obligation, error) {
	var bound []Obligation
	err := t.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.ActivePeriod(ctx, cycleID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deferred, err := tx.DeferredObligations(ctx, cycleID)
		if err != nil {
			return err
		}
		for _, o := range deferred {
			existing, err := tx.ObligationsForStudent(ctx, o.StudentID)
			if err != nil {
				return err
			}
			if hasPeriod(existing, active.ID) {
				continue
			}
			o.PeriodID = active.ID
			if err := tx.SaveObligation(ctx, o); err != nil {
				return err
			}
			bound = append(bound, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bound) > 0 {
		t.logger.InfoContext(ctx, "deferred obligations bound", slog.Int64("cycle_id", cycleID), slog.Int("obligations", len(bound)))
	}
	return bound, nil
}

// Overdue lists outstanding obligations whose period was due before asOf.
func (t *Tracker) Overdue(ctx context.Context, asOf time.Time) ([]Overdue, error) {
	outstanding, err := t.store.OutstandingObligations(ctx)
	if err != nil {
		return nil, err
	}
	periods := make(map[int64]Period)
	var out []Overdue
	for _, o := range outstanding {
		p, ok := periods[o.PeriodID]
		if !ok {
			p, err = t.store.LoadPeriod(ctx, o.PeriodID)
			if err != nil {
				return nil, err
			}
			periods[p.ID] = p
		}
		if p.DueDate.Before(asOf) {
			out = append(out, Overdue{Obligation: o, Period: p})
		}
	}
	return out, nil
}

// Obligations returns the student's obligations.
func (t *Tracker) Obligations(ctx context.Context, studentID int64) ([]Obligation, error) {
	return t.store.ObligationsForStudent(ctx, studentID)
}

// Reports returns the student's reports.
func (t *Tracker) Reports(ctx context.Context, studentID int64) ([]IHEReport, error) {
	return t.store.ReportsForStudent(ctx, studentID)
}
