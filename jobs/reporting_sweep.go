package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ctc-stipend/stipend/internal/grants"
	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
	"github.com/ctc-stipend/stipend/internal/reporting"
)

// CycleLister lists grant cycles.
type CycleLister interface {
	ListCycles(ctx context.Context) ([]grants.GrantCycle, error)
}

// ReportingSweeper is the slice of the reporting tracker used by the sweep.
type ReportingSweeper interface {
	Reconcile(ctx context.Context, cycleID int64) (int, error)
	Overdue(ctx context.Context, asOf time.Time) ([]reporting.Overdue, error)
}

// ReportingSweepJob attaches obligations missed by the transition listener and
// logs overdue ones.
type ReportingSweepJob struct {
	Cycles  CycleLister
	Tracker ReportingSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportingSweepJob initialises the sweep handler.
func NewReportingSweepJob(cycles CycleLister, tracker ReportingSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportingSweepJob {
	return &ReportingSweepJob{
		Cycles:  cycles,
		Tracker: tracker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one sweep.
func (j *ReportingSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cycles == nil || j.Tracker == nil {
		return errors.New("reporting sweep: handler not configured")
	}
	var payload ReportingSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.ScheduledFor
	if asOf.IsZero() {
		asOf = j.now()
	}
	tracker := j.Metrics.Track(TaskReportingSweep)
	defer func() { err = tracker.End(err) }()

	log := logger(j.Logger).With(slog.Time("as_of", asOf))
	cycles, err := j.Cycles.ListCycles(ctx)
	if err != nil {
		return err
	}
	attached := 0
	for _, cycle := range cycles {
		n, err := j.Tracker.Reconcile(ctx, cycle.ID)
		if err != nil {
			log.Error("reconcile cycle", slog.Int64("cycle_id", cycle.ID), slog.Any("error", err))
			return err
		}
		attached += n
	}

	overdue, err := j.Tracker.Overdue(ctx, asOf)
	if err != nil {
		return err
	}
	j.Metrics.SetOverdue(len(overdue))
	for _, o := range overdue {
		log.Warn("reporting obligation overdue",
			slog.Int64("student_id", o.Obligation.StudentID),
			slog.Int64("lea_id", o.Obligation.LEAID),
			slog.Int64("period_id", o.Period.ID),
			slog.Time("due_date", o.Period.DueDate),
		)
	}
	log.Info("reporting sweep finished", slog.Int("cycles", len(cycles)), slog.Int("attached", attached), slog.Int("overdue", len(overdue)))
	return nil
}

func (j *ReportingSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
