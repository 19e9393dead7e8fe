package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
)

// KeyPruner removes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyPruneJob handles TaskIdempotencyPrune.
type IdempotencyPruneJob struct {
	Keys      KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle prunes once.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency prune: handler not configured")
	}
	if j.Retention <= 0 {
		return asynq.SkipRetry
	}
	run := j.Metrics.Track(TaskIdempotencyPrune)
	defer func() { err = run.End(err) }()

	if err := j.Keys.Cleanup(ctx, j.Retention); err != nil {
		return err
	}
	logger(j.Logger).InfoContext(ctx, "idempotency keys pruned", slog.Duration("retention", j.Retention))
	return nil
}
