package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ctc-stipend/stipend/internal/signing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueSigning carries signing service traffic.
	QueueSigning = "signing"

	// TaskSigningDispatch sends a pending grant award agreement for signature.
	TaskSigningDispatch = "signing:dispatch"
	// TaskSigningEvent applies a signing service callback.
	TaskSigningEvent = "signing:event"
	// TaskReportingSweep reconciles obligations and reports overdue ones.
	TaskReportingSweep = "reporting:sweep"
	// TaskIdempotencyPrune drops processed signing event keys past retention.
	TaskIdempotencyPrune = "maintenance:idempotency_prune"
)

// SigningDispatchPayload identifies the student whose agreement is sent.
type SigningDispatchPayload struct {
	StudentID int64 `json:"student_id"`
}

// NewSigningDispatchTask constructs the dispatch task.
func NewSigningDispatchTask(studentID int64) (*asynq.Task, error) {
	body, err := json.Marshal(SigningDispatchPayload{StudentID: studentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSigningDispatch, body, asynq.Queue(QueueSigning), asynq.MaxRetry(10)), nil
}

// NewSigningEventTask constructs the event task. The event id doubles as the
// task id so redelivered callbacks collapse.
func NewSigningEventTask(evt signing.Event) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSigningEvent, body,
		asynq.Queue(QueueSigning),
		asynq.TaskID(fmt.Sprintf("signing-event-%s", evt.ID)),
		asynq.MaxRetry(10),
	), nil
}

// ReportingSweepPayload carries scheduling metadata.
type ReportingSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReportingSweepTask constructs the sweep task.
func NewReportingSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReportingSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportingSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyPruneTask constructs the prune task.
func NewIdempotencyPruneTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPrune, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(2))
}
