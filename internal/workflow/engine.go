package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/ledger"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/signing"
	"github.com/ctc-stipend/stipend/internal/status"
)

// TransitionRequest asks the engine to move one student to a new status.
type TransitionRequest struct {
	StudentID int64
	To        status.Status
	Actor     shared.Actor
	// Override bypasses an LEA payment hold when Actor holds an override role.
	Override bool
	// RevisionOrigin optionally pins the revision branch the caller expects.
	RevisionOrigin status.RevisionOrigin
	// AwardAmount is only accepted on the approval edge; the cycle default applies otherwise.
	AwardAmount *decimal.Decimal
	Note        string
}

// HoldChecker reports whether an LEA is under a compliance payment hold.
type HoldChecker interface {
	HasPaymentHoldWarning(ctx context.Context, leaID int64) (bool, error)
}

// ReportsChecker reports whether every bound reporting obligation of a student
// has an approved outcome report.
type ReportsChecker interface {
	ReportsApproved(ctx context.Context, studentID int64) (bool, error)
}

// Change describes a committed transition.
type Change struct {
	Student grants.Student
	Event   grants.TransitionEvent
	Award   *grants.Award
}

// Listener observes committed transitions. Listeners run after the student
// lock is released and may start further transitions.
type Listener interface {
	AfterTransition(ctx context.Context, change Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, change Change)

// AfterTransition calls f.
func (f ListenerFunc) AfterTransition(ctx context.Context, change Change) {
	f(ctx, change)
}

// RejectionListener is implemented by listeners that also observe rejected
// transitions.
type RejectionListener interface {
	TransitionRejected(ctx context.Context, err *TransitionError)
}

// Engine applies student transitions.
type Engine struct {
	store  grants.Store
	locker Locker
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	holds     HoldChecker
	reports   ReportsChecker
	listeners []Listener
}

// NewEngine constructs an engine. A nil locker selects an in-process locker.
func NewEngine(store grants.Store, locker Locker, policy Policy, logger *slog.Logger) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if len(policy.Signers) == 0 {
		policy.Signers = grants.DefaultSigners()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, locker: locker, policy: policy, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// SetHoldChecker installs the payment hold source.
func (e *Engine) SetHoldChecker(h HoldChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holds = h
}

// SetReportsChecker installs the outcome report source consulted before a
// student's reports are approved.
func (e *Engine) SetReportsChecker(r ReportsChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = r
}

// AddListener registers a listener for committed transitions.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

var systemActor = shared.SystemActor()

// pending is a prepared transition. An empty to means an award-only update.
type pending struct {
	to         status.Status
	actor      shared.Actor
	override   bool
	origin     status.RevisionOrigin
	amount     *decimal.Decimal
	note       string
	award      *grants.Award
	awardDirty bool
}

// AttemptTransition validates and applies req. Rejections are returned as
// *TransitionError and leave the student and award untouched.
func (e *Engine) AttemptTransition(ctx context.Context, req TransitionRequest) (grants.Student, error) {
	return e.run(ctx, req.StudentID, func(context.Context, grants.Student) (*pending, error) {
		return &pending{
			to:       req.To,
			actor:    req.Actor,
			override: req.Override,
			origin:   req.RevisionOrigin,
			amount:   req.AwardAmount,
			note:     req.Note,
		}, nil
	})
}

// MarkEnvelopeSent records the envelope carrying the agreement and moves the
// student from GAA_PENDING to GAA_GENERATED.
func (e *Engine) MarkEnvelopeSent(ctx context.Context, studentID int64, envelopeID string) (grants.Student, error) {
	if envelopeID == "" {
		return grants.Student{}, fmt.Errorf("%w: envelope id required", grants.ErrValidation)
	}
	return e.run(ctx, studentID, func(ctx context.Context, st grants.Student) (*pending, error) {
		if st.Status != status.GAAPending {
			return nil, reject(ErrInvalidTransition, st, status.GAAGenerated, status.RoleSystem, "no agreement awaiting dispatch")
		}
		award, err := e.store.LoadAward(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		award.MarkSent(envelopeID, e.now())
		return &pending{
			to:         status.GAAGenerated,
			actor:      systemActor,
			note:       "envelope " + envelopeID,
			award:      &award,
			awardDirty: true,
		}, nil
	})
}

// ApplySignatureEvent feeds a signing callback into the workflow. Events for
// students no longer awaiting signatures or for superseded envelopes are
// ignored and the current student is returned.
func (e *Engine) ApplySignatureEvent(ctx context.Context, evt signing.Event) (grants.Student, error) {
	if err := evt.Validate(); err != nil {
		return grants.Student{}, err
	}
	return e.run(ctx, evt.StudentID, func(ctx context.Context, st grants.Student) (*pending, error) {
		if st.Status != status.GAAGenerated {
			e.logger.InfoContext(ctx, "ignore signing event", slog.String("event_id", evt.ID), slog.Int64("student_id", st.ID), slog.String("status", string(st.Status)))
			return nil, nil
		}
		award, err := e.store.LoadAward(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		if award.EnvelopeID != evt.EnvelopeID {
			e.logger.InfoContext(ctx, "ignore superseded envelope", slog.String("event_id", evt.ID), slog.String("envelope_id", evt.EnvelopeID))
			return nil, nil
		}
		at := evt.At
		if at.IsZero() {
			at = e.now()
		}
		p := &pending{actor: systemActor, award: &award, awardDirty: true}
		switch evt.Kind {
		case signing.EventSigned:
			if sig, ok := award.SignatureOf(evt.Party); ok && sig.State == grants.SignatureSigned {
				return nil, nil
			}
			if err := award.MarkSigned(evt.Party, at); err != nil {
				return nil, err
			}
			if award.FullySigned() {
				p.to = status.GAASigned
				p.note = "all signatures collected"
			}
		case signing.EventDeclined:
			if err := award.MarkDeclined(evt.Party, evt.Reason); err != nil {
				return nil, err
			}
			award.ResetSignatures()
			p.to = status.GAAPending
			p.note = fmt.Sprintf("declined by %s: %s", evt.Party, evt.Reason)
		case signing.EventExpired:
			award.ResetSignatures()
			p.to = status.GAAPending
			p.note = "envelope expired"
		}
		return p, nil
	})
}

// NextFor lists the statuses the student may move to, resolving the revision
// branch from the recorded origin.
func NextFor(st grants.Student) []status.Status {
	next := status.AllowedNext(st.Status)
	if st.Status != status.RevisionRequested {
		return next
	}
	return slices.DeleteFunc(next, func(to status.Status) bool {
		tr, _ := status.Lookup(st.Status, to)
		return tr.Origin != st.RevisionOrigin
	})
}

type prepareFunc func(ctx context.Context, st grants.Student) (*pending, error)

func (e *Engine) run(ctx context.Context, studentID int64, prepare prepareFunc) (grants.Student, error) {
	unlock, err := e.locker.Lock(ctx, shared.StudentLockKey(studentID))
	if err != nil {
		return grants.Student{}, fmt.Errorf("workflow: lock student %d: %w", studentID, err)
	}
	student, change, err := func() (grants.Student, *Change, error) {
		defer unlock()
		st, err := e.store.LoadStudent(ctx, studentID)
		if err != nil {
			return grants.Student{}, nil, err
		}
		p, err := prepare(ctx, st)
		if err != nil || p == nil {
			return st, nil, err
		}
		return e.apply(ctx, st, p)
	}()
	if err != nil {
		var terr *TransitionError
		if errors.As(err, &terr) {
			e.logger.InfoContext(ctx, "transition rejected", slog.Int64("student_id", studentID), slog.Any("error", err))
			e.notifyRejected(ctx, terr)
		}
		return grants.Student{}, err
	}
	if change != nil {
		e.logger.InfoContext(ctx, "student transition",
			slog.Int64("student_id", studentID),
			slog.String("from", string(change.Event.From)),
			slog.String("to", string(change.Event.To)),
			slog.String("role", string(change.Event.Role)),
			slog.Bool("override", change.Event.Override),
		)
		e.notify(ctx, *change)
	}
	return student, nil
}

func (e *Engine) notify(ctx context.Context, change Change) {
	e.mu.RLock()
	listeners := slices.Clone(e.listeners)
	e.mu.RUnlock()
	for _, l := range listeners {
		l.AfterTransition(ctx, change)
	}
}

func (e *Engine) notifyRejected(ctx context.Context, terr *TransitionError) {
	e.mu.RLock()
	listeners := slices.Clone(e.listeners)
	e.mu.RUnlock()
	for _, l := range listeners {
		if rl, ok := l.(RejectionListener); ok {
			rl.TransitionRejected(ctx, terr)
		}
	}
}

func (e *Engine) apply(ctx context.Context, st grants.Student, p *pending) (grants.Student, *Change, error) {
	if p.to == "" {
		err := e.store.WithTx(ctx, func(ctx context.Context, tx grants.Tx) error {
			return tx.SaveAward(ctx, *p.award)
		})
		return st, nil, err
	}
	role := p.actor.Role
	tr, err := e.authorize(st, p)
	if err != nil {
		return grants.Student{}, nil, err
	}
	now := e.now()

	resend := st.Status == status.GAAGenerated && p.to == status.GAAPending
	if tr.Has(status.GuardSignatures) || p.to == status.GAAGenerated || p.to == status.PaymentComplete || resend {
		if p.award == nil {
			award, err := e.store.LoadAward(ctx, st.ID)
			if errors.Is(err, grants.ErrNotFound) {
				return grants.Student{}, nil, reject(ErrAwardIntegrityViolation, st, p.to, role, "no award on record")
			}
			if err != nil {
				return grants.Student{}, nil, err
			}
			p.award = &award
		}
	}
	if tr.Has(status.GuardSignatures) && !p.award.FullySigned() {
		return grants.Student{}, nil, reject(ErrAwardIntegrityViolation, st, p.to, role, "awaiting signatures from %v", p.award.Unsigned())
	}
	if p.to == status.GAAGenerated && p.award.EnvelopeID == "" {
		return grants.Student{}, nil, reject(ErrInvalidTransition, st, p.to, role, "agreement has not been sent for signature")
	}
	if resend && !p.awardDirty {
		p.award.ResetSignatures()
		p.awardDirty = true
	}
	if p.to == status.PaymentComplete {
		paid := now
		p.award.PaidAt = &paid
		p.awardDirty = true
	}

	if tr.Has(status.GuardReportsApproved) {
		if err := e.checkReports(ctx, st, p); err != nil {
			return grants.Student{}, nil, err
		}
	}

	overridden := false
	if tr.Has(status.GuardPaymentHold) {
		overridden, err = e.checkHold(ctx, st, p)
		if err != nil {
			return grants.Student{}, nil, err
		}
	}

	next := st.Clone()
	next.Status = p.to
	next.LastActionAt = now
	switch {
	case tr.Has(status.GuardRecordsRevision):
		next.RevisionOrigin = tr.Origin
	case st.Status == status.RevisionRequested:
		next.RevisionOrigin = status.RevisionNone
	}

	if p.amount != nil && !tr.Has(status.GuardAdmission) {
		return grants.Student{}, nil, fmt.Errorf("%w: award amount is only accepted on approval", grants.ErrValidation)
	}
	if tr.Has(status.GuardAdmission) {
		unlockCycle, err := e.locker.Lock(ctx, shared.CycleLockKey(st.CycleID))
		if err != nil {
			return grants.Student{}, nil, fmt.Errorf("workflow: lock cycle %d: %w", st.CycleID, err)
		}
		defer unlockCycle()
		amount, err := e.admit(ctx, st, p.amount)
		if errors.Is(err, ErrBudgetOverCommitment) {
			return grants.Student{}, nil, reject(ErrBudgetOverCommitment, st, p.to, role, "%v", err)
		}
		if err != nil {
			return grants.Student{}, nil, err
		}
		next.AwardAmount = &amount
	}
	if err := next.CheckAwardInvariant(); err != nil {
		return grants.Student{}, nil, reject(ErrAwardIntegrityViolation, st, p.to, role, "%v", err)
	}

	evt := grants.TransitionEvent{
		ID:             uuid.New(),
		StudentID:      st.ID,
		From:           st.Status,
		To:             p.to,
		ActorID:        p.actor.ID,
		Role:           role,
		Override:       overridden,
		RevisionOrigin: next.RevisionOrigin,
		Note:           p.note,
		At:             now,
	}
	var award *grants.Award
	err = e.store.WithTx(ctx, func(ctx context.Context, tx grants.Tx) error {
		saved, err := tx.SaveStudent(ctx, next)
		if err != nil {
			return err
		}
		next = saved
		if err := tx.AppendTransitionEvent(ctx, evt); err != nil {
			return err
		}
		switch {
		case p.to == status.CTCApproved:
			created, err := tx.CreateAward(ctx, grants.NewAwardShell(next, e.policy.Signers, now))
			if err != nil {
				return err
			}
			award = &created
		case p.awardDirty:
			if err := tx.SaveAward(ctx, *p.award); err != nil {
				return err
			}
			award = p.award
		}
		return nil
	})
	if errors.Is(err, grants.ErrConcurrentModification) {
		return grants.Student{}, nil, reject(ErrConcurrentModification, st, p.to, role, "student changed, reload and retry")
	}
	if err != nil {
		return grants.Student{}, nil, err
	}
	return next, &Change{Student: next, Event: evt, Award: award}, nil
}

func (e *Engine) authorize(st grants.Student, p *pending) (status.Transition, error) {
	role := p.actor.Role
	if status.IsTerminal(st.Status) {
		return status.Transition{}, reject(ErrInvalidTransition, st, p.to, role, "%s is terminal", st.Status)
	}
	tr, ok := status.Lookup(st.Status, p.to)
	if !ok {
		return status.Transition{}, reject(ErrInvalidTransition, st, p.to, role, "allowed next: %v", NextFor(st))
	}
	if !tr.Permits(role) {
		return status.Transition{}, reject(ErrUnauthorizedRole, st, p.to, role, "requires one of %v", tr.Roles)
	}
	if p.origin != status.RevisionNone && p.origin != tr.Origin {
		return status.Transition{}, reject(ErrInvalidTransition, st, p.to, role, "edge does not belong to %s revisions", p.origin)
	}
	if st.Status == status.RevisionRequested {
		if st.RevisionOrigin == status.RevisionNone {
			return status.Transition{}, reject(ErrInvalidTransition, st, p.to, role, "revision origin unknown")
		}
		if st.RevisionOrigin != tr.Origin {
			return status.Transition{}, reject(ErrInvalidTransition, st, p.to, role, "revision requested by %s resumes at %v", st.RevisionOrigin, NextFor(st))
		}
	}
	return tr, nil
}

func (e *Engine) checkHold(ctx context.Context, st grants.Student, p *pending) (bool, error) {
	e.mu.RLock()
	holds := e.holds
	e.mu.RUnlock()
	if holds == nil {
		return false, nil
	}
	held, err := holds.HasPaymentHoldWarning(ctx, st.LEAID)
	if err != nil {
		return false, fmt.Errorf("workflow: payment hold for lea %d: %w", st.LEAID, err)
	}
	if !held {
		return false, nil
	}
	if p.override && e.policy.CanOverride(p.actor.Role) {
		return true, nil
	}
	if p.override {
		return false, reject(ErrPaymentHold, st, p.to, p.actor.Role, "lea %d is on hold and %s may not override", st.LEAID, p.actor.Role)
	}
	return false, reject(ErrPaymentHold, st, p.to, p.actor.Role, "lea %d is on hold", st.LEAID)
}

func (e *Engine) checkReports(ctx context.Context, st grants.Student, p *pending) error {
	e.mu.RLock()
	reports := e.reports
	e.mu.RUnlock()
	if reports == nil {
		return nil
	}
	ok, err := reports.ReportsApproved(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("workflow: reports for student %d: %w", st.ID, err)
	}
	if !ok {
		return reject(ErrInvalidTransition, st, p.to, p.actor.Role, "outcome reports are not all approved")
	}
	return nil
}

func (e *Engine) admit(ctx context.Context, st grants.Student, requested *decimal.Decimal) (decimal.Decimal, error) {
	cycle, err := e.store.LoadCycle(ctx, st.CycleID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	amount := cycle.DefaultAward
	if requested != nil {
		amount = *requested
	}
	students, err := e.store.LoadStudentsForCycle(ctx, st.CycleID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	others := slices.DeleteFunc(students, func(s grants.Student) bool { return s.ID == st.ID })
	if err := ledger.Compute(cycle, others).Admit(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}
