package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/reporting"
	"github.com/ctc-stipend/stipend/jobs"
)

type enqueueSpy struct {
	tasks []*asynq.Task
}

func (e *enqueueSpy) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (e *enqueueSpy) Close() error { return nil }

type inspectorStub map[string]*asynq.QueueInfo

func (s inspectorStub) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func (s inspectorStub) Close() error { return nil }

func TestTriggerCommand(t *testing.T) {
	spy := &enqueueSpy{}
	c := &JobsCLI{client: spy}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.TriggerCommand(context.Background(), TriggerOptions{Job: jobs.TaskReportingSweep, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "enqueued reporting:sweep id=t-1")

	code = c.TriggerCommand(context.Background(), TriggerOptions{Job: jobs.TaskSigningDispatch, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--student is required")

	code = c.TriggerCommand(context.Background(), TriggerOptions{Job: jobs.TaskSigningDispatch, StudentID: 9, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code)
	require.Len(t, spy.tasks, 2)
	require.JSONEq(t, `{"student_id":9}`, string(spy.tasks[1].Payload()))

	code = c.TriggerCommand(context.Background(), TriggerOptions{Job: jobs.TaskIdempotencyPrune, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code)
	require.Len(t, spy.tasks, 3)
	require.Equal(t, jobs.TaskIdempotencyPrune, spy.tasks[2].Type())

	code = c.TriggerCommand(context.Background(), TriggerOptions{Job: "payments:export", Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unsupported job")
}

func TestInspectCommand(t *testing.T) {
	c := &JobsCLI{inspector: inspectorStub{
		jobs.QueueSigning: {Queue: jobs.QueueSigning, Pending: 2, Retry: 1},
	}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.InspectCommand(context.Background(), InspectOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 10, code)
	require.Empty(t, stderr.String())

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueSigning, Pending: 2, Retry: 1},
		{Queue: jobs.QueueDefault},
	}, stats)
}

type complianceStub struct {
	rows []reporting.Compliance
	err  error
}

func (s complianceStub) ComplianceFor(context.Context, []int64) ([]reporting.Compliance, error) {
	return s.rows, s.err
}

func TestComplianceCommand(t *testing.T) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	c := NewComplianceCLI(complianceStub{rows: []reporting.Compliance{
		{LEAID: 4, Funded: 4, Reported: 1, Rate: decimal.RequireFromString("0.25"), Status: reporting.ComplianceStatus("Poor"), PendingPayments: 2, HasPaymentHoldWarning: true},
	}})

	require.Equal(t, 1, c.ComplianceCommand(context.Background(), ComplianceOptions{Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stderr.String(), "--lea is required")

	code := c.ComplianceCommand(context.Background(), ComplianceOptions{LEAIDs: []int64{4}, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "0.25")
	require.Contains(t, stdout.String(), "true")

	stderr.Reset()
	failing := NewComplianceCLI(complianceStub{err: errors.New("db down")})
	require.Equal(t, 1, failing.ComplianceCommand(context.Background(), ComplianceOptions{LEAIDs: []int64{4}, Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stderr.String(), "db down")
}
