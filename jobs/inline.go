package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ctc-stipend/stipend/internal/signing"
)

// InlineQueue runs signing tasks in the caller's goroutine. It stands in for
// the Redis queue when the API runs without Redis, mostly in development.
type InlineQueue struct {
	Dispatch *SigningDispatchJob
	Events   *SigningEventJob
	Logger   *slog.Logger
}

// EnqueueSigningDispatch runs the dispatch job immediately.
func (q *InlineQueue) EnqueueSigningDispatch(ctx context.Context, studentID int64) error {
	task, err := NewSigningDispatchTask(studentID)
	if err != nil {
		return err
	}
	return q.run(ctx, task, q.Dispatch.Handle)
}

// EnqueueSigningEvent applies the event immediately.
func (q *InlineQueue) EnqueueSigningEvent(ctx context.Context, evt signing.Event) error {
	task, err := NewSigningEventTask(evt)
	if err != nil {
		return err
	}
	return q.run(ctx, task, q.Events.Handle)
}

func (q *InlineQueue) run(ctx context.Context, task *asynq.Task, handle asynq.HandlerFunc) error {
	err := handle(ctx, task)
	if errors.Is(err, asynq.SkipRetry) {
		logger(q.Logger).WarnContext(ctx, "inline task dropped", slog.String("type", task.Type()), slog.Any("error", err))
		return nil
	}
	return err
}
