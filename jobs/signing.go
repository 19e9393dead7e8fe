package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/ctc-stipend/stipend/internal/grants"
	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
	"github.com/ctc-stipend/stipend/internal/signing"
	"github.com/ctc-stipend/stipend/internal/status"
	"github.com/ctc-stipend/stipend/internal/workflow"
)

// Dispatcher sends one student's agreement.
type Dispatcher interface {
	Dispatch(ctx context.Context, studentID int64) error
}

// SigningDispatchJob handles TaskSigningDispatch.
type SigningDispatchJob struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle dispatches the agreement. Missing students are not retried.
func (j *SigningDispatchJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Dispatcher == nil {
		return errors.New("signing dispatch: handler not configured")
	}
	var payload SigningDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.StudentID == 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSigningDispatch)
	defer func() { err = tracker.End(err) }()

	if err := j.Dispatcher.Dispatch(ctx, payload.StudentID); err != nil {
		if errors.Is(err, grants.ErrNotFound) {
			logger(j.Logger).WarnContext(ctx, "dispatch for unknown student", slog.Int64("student_id", payload.StudentID))
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// SignatureApplier feeds signing callbacks into the workflow.
type SignatureApplier interface {
	ApplySignatureEvent(ctx context.Context, evt signing.Event) (grants.Student, error)
}

// StudentReader loads a student and its award.
type StudentReader interface {
	LoadStudent(ctx context.Context, id int64) (grants.Student, error)
	LoadAward(ctx context.Context, studentID int64) (grants.Award, error)
}

// SigningEventJob handles TaskSigningEvent.
type SigningEventJob struct {
	Applier  SignatureApplier
	Students StudentReader
	Sender   signing.Sender
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle applies the event. A decline that reverted the student voids the
// declined envelope so no party can still sign it.
func (j *SigningEventJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Applier == nil || j.Students == nil {
		return errors.New("signing event: handler not configured")
	}
	var evt signing.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	if err := evt.Validate(); err != nil {
		logger(j.Logger).WarnContext(ctx, "drop invalid signing event", slog.String("event_id", evt.ID), slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSigningEvent)
	defer func() { err = tracker.End(err) }()

	before, err := j.Students.LoadStudent(ctx, evt.StudentID)
	if errors.Is(err, grants.ErrNotFound) {
		return asynq.SkipRetry
	}
	if err != nil {
		return err
	}
	beforeSigs := j.signatures(ctx, evt.StudentID)
	after, err := j.Applier.ApplySignatureEvent(ctx, evt)
	if err != nil {
		if errors.Is(err, workflow.ErrConcurrentModification) {
			return err
		}
		var terr *workflow.TransitionError
		if errors.As(err, &terr) || errors.Is(err, grants.ErrValidation) {
			logger(j.Logger).WarnContext(ctx, "signing event rejected", slog.String("event_id", evt.ID), slog.Any("error", err))
			return asynq.SkipRetry
		}
		return err
	}
	applied := after.Version != before.Version || !slices.Equal(beforeSigs, j.signatures(ctx, evt.StudentID))
	j.Metrics.ObserveSigningEvent(string(evt.Kind), applied)

	if applied && evt.Kind == signing.EventDeclined && after.Status == status.GAAPending && j.Sender != nil {
		if err := j.Sender.Void(ctx, evt.EnvelopeID, "declined by "+string(evt.Party)); err != nil {
			logger(j.Logger).WarnContext(ctx, "void declined envelope", slog.String("envelope_id", evt.EnvelopeID), slog.Any("error", err))
		}
	}
	return nil
}

// signatures returns the award's signature states, or nil when there is no award.
func (j *SigningEventJob) signatures(ctx context.Context, studentID int64) []grants.SignatureState {
	award, err := j.Students.LoadAward(ctx, studentID)
	if err != nil {
		return nil
	}
	out := make([]grants.SignatureState, len(award.Signatures))
	for i, sig := range award.Signatures {
		out[i] = sig.State
	}
	return out
}

// Enqueuer schedules agreement dispatch.
type Enqueuer interface {
	EnqueueSigningDispatch(ctx context.Context, studentID int64) error
}

// DispatchOnPending returns a listener that schedules a dispatch every time a
// student enters GAA_PENDING.
func DispatchOnPending(q Enqueuer, log *slog.Logger) workflow.Listener {
	return workflow.ListenerFunc(func(ctx context.Context, change workflow.Change) {
		if change.Event.To != status.GAAPending {
			return
		}
		if err := q.EnqueueSigningDispatch(ctx, change.Student.ID); err != nil {
			logger(log).ErrorContext(ctx, "enqueue signing dispatch", slog.Int64("student_id", change.Student.ID), slog.Any("error", err))
		}
	})
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
