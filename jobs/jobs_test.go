package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/grants"
	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
	"github.com/ctc-stipend/stipend/internal/reporting"
	"github.com/ctc-stipend/stipend/internal/signing"
	"github.com/ctc-stipend/stipend/internal/status"
	"github.com/ctc-stipend/stipend/internal/workflow"
)

type dispatchFunc func(ctx context.Context, studentID int64) error

func (f dispatchFunc) Dispatch(ctx context.Context, studentID int64) error { return f(ctx, studentID) }

func TestSigningDispatchJob(t *testing.T) {
	var got []int64
	job := &SigningDispatchJob{Dispatcher: dispatchFunc(func(_ context.Context, id int64) error {
		got = append(got, id)
		if id == 404 {
			return grants.ErrNotFound
		}
		if id == 500 {
			return errors.New("signing service down")
		}
		return nil
	})}
	ctx := context.Background()

	task, err := NewSigningDispatchTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskSigningDispatch, []byte("{"))), asynq.SkipRetry)

	task, _ = NewSigningDispatchTask(404)
	require.ErrorIs(t, job.Handle(ctx, task), asynq.SkipRetry)

	task, _ = NewSigningDispatchTask(500)
	err = job.Handle(ctx, task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []int64{7, 404, 500}, got)
}

type voidRecorder struct {
	mu     sync.Mutex
	voided []string
}

func (v *voidRecorder) Send(context.Context, signing.Document, []grants.SignerParty) (string, error) {
	return "", errors.New("not used")
}

func (v *voidRecorder) Void(_ context.Context, envelopeID, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.voided = append(v.voided, envelopeID)
	return nil
}

func seedGenerated(t *testing.T, store *grants.MemoryStore, envelopeID string) grants.Student {
	t.Helper()
	amount := decimal.RequireFromString("10000")
	var st grants.Student
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx grants.Tx) error {
		var err error
		st, err = tx.CreateStudent(ctx, grants.Student{CycleID: 1, LEAID: 2, IHEID: 3, Status: status.GAAGenerated, AwardAmount: &amount})
		if err != nil {
			return err
		}
		award := grants.NewAwardShell(st, grants.DefaultSigners(), time.Now())
		award.MarkSent(envelopeID, time.Now())
		_, err = tx.CreateAward(ctx, award)
		return err
	}))
	return st
}

func TestSigningEventJobVoidsDeclinedEnvelope(t *testing.T) {
	store := grants.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, workflow.DefaultPolicy(), nil)
	sender := &voidRecorder{}
	job := &SigningEventJob{Applier: engine, Students: store, Sender: sender}
	st := seedGenerated(t, store, "env-1")
	ctx := context.Background()

	stale, err := NewSigningEventTask(signing.Event{ID: "e0", EnvelopeID: "env-old", StudentID: st.ID, Kind: signing.EventDeclined, Party: grants.PartyLEA})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, stale))
	require.Empty(t, sender.voided)

	task, err := NewSigningEventTask(signing.Event{ID: "e1", EnvelopeID: "env-1", StudentID: st.ID, Kind: signing.EventDeclined, Party: grants.PartyLEA, Reason: "wrong name"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, []string{"env-1"}, sender.voided)

	loaded, err := store.LoadStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, status.GAAPending, loaded.Status)

	invalid, err := NewSigningEventTask(signing.Event{ID: "e2", EnvelopeID: "env-1", StudentID: st.ID, Kind: signing.EventSigned})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, invalid), asynq.SkipRetry)
}

func TestSigningEventJobCompletesSignatures(t *testing.T) {
	store := grants.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, workflow.DefaultPolicy(), nil)
	job := &SigningEventJob{Applier: engine, Students: store}
	st := seedGenerated(t, store, "env-9")
	ctx := context.Background()

	for i, party := range grants.DefaultSigners() {
		task, err := NewSigningEventTask(signing.Event{
			ID: string(rune('a' + i)), EnvelopeID: "env-9", StudentID: st.ID, Kind: signing.EventSigned, Party: party,
		})
		require.NoError(t, err)
		require.NoError(t, job.Handle(ctx, task))
	}
	loaded, err := store.LoadStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, status.GAASigned, loaded.Status)
}

func TestSigningEventJobCountsPartialSignatureAsApplied(t *testing.T) {
	store := grants.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, workflow.DefaultPolicy(), nil)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := &SigningEventJob{Applier: engine, Students: store, Metrics: metrics}
	st := seedGenerated(t, store, "env-3")
	ctx := context.Background()

	evt := signing.Event{ID: "p1", EnvelopeID: "env-3", StudentID: st.ID, Kind: signing.EventSigned, Party: grants.PartyLEA}
	task, err := NewSigningEventTask(evt)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	// Redelivery of the same signature changes nothing.
	require.NoError(t, job.Handle(ctx, task))

	expected := `
# HELP stipend_signing_events_total Signing service callbacks by kind and whether they changed a student.
# TYPE stipend_signing_events_total counter
stipend_signing_events_total{kind="SIGNED",outcome="applied"} 1
stipend_signing_events_total{kind="SIGNED",outcome="ignored"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stipend_signing_events_total"))

	loaded, err := store.LoadStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, status.GAAGenerated, loaded.Status)
}

type enqueueSpy struct{ ids []int64 }

func (e *enqueueSpy) EnqueueSigningDispatch(_ context.Context, id int64) error {
	e.ids = append(e.ids, id)
	return nil
}

func TestDispatchOnPending(t *testing.T) {
	spy := &enqueueSpy{}
	listener := DispatchOnPending(spy, nil)
	ctx := context.Background()

	listener.AfterTransition(ctx, workflow.Change{Student: grants.Student{ID: 1}, Event: grants.TransitionEvent{To: status.GAAGenerated}})
	listener.AfterTransition(ctx, workflow.Change{Student: grants.Student{ID: 2}, Event: grants.TransitionEvent{To: status.GAAPending}})
	require.Equal(t, []int64{2}, spy.ids)
}

func TestClientEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	require.NoError(t, client.EnqueueSigningDispatch(ctx, 11))

	evt := signing.Event{ID: "evt-1", EnvelopeID: "env-1", StudentID: 11, Kind: signing.EventExpired}
	require.NoError(t, client.EnqueueSigningEvent(ctx, evt))
	require.ErrorIs(t, client.EnqueueSigningEvent(ctx, evt), ErrDuplicateEvent)

	pending, err := mr.List("asynq:{signing}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

type cyclesStub []grants.GrantCycle

func (c cyclesStub) ListCycles(context.Context) ([]grants.GrantCycle, error) { return c, nil }

type sweeperStub struct {
	reconciled []int64
	overdue    []reporting.Overdue
	asOf       time.Time
}

func (s *sweeperStub) Reconcile(_ context.Context, cycleID int64) (int, error) {
	s.reconciled = append(s.reconciled, cycleID)
	return 1, nil
}

func (s *sweeperStub) Overdue(_ context.Context, asOf time.Time) ([]reporting.Overdue, error) {
	s.asOf = asOf
	return s.overdue, nil
}

func TestReportingSweepJob(t *testing.T) {
	sweeper := &sweeperStub{overdue: []reporting.Overdue{{Obligation: reporting.Obligation{StudentID: 4}}}}
	job := NewReportingSweepJob(cyclesStub{{ID: 1}, {ID: 2}}, sweeper, nil, nil)

	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	task, err := NewReportingSweepTask(at)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 2}, sweeper.reconciled)
	require.True(t, sweeper.asOf.Equal(at))
}

func TestReportingSweepBindsDeferredObligations(t *testing.T) {
	ctx := context.Background()
	store := grants.NewMemoryStore()
	reports := reporting.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, workflow.DefaultPolicy(), nil)
	tracker := reporting.NewTracker(reports, store, engine, reporting.DefaultPolicy(), nil)

	amount := decimal.RequireFromString("10000")
	var st grants.Student
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx grants.Tx) error {
		cycle, err := tx.CreateCycle(ctx, grants.GrantCycle{Name: "2026", Appropriated: decimal.NewFromInt(100000), DefaultAward: amount, Open: true})
		if err != nil {
			return err
		}
		st, err = tx.CreateStudent(ctx, grants.Student{CycleID: cycle.ID, LEAID: 2, IHEID: 3, Status: status.PaymentComplete, AwardAmount: &amount})
		return err
	}))
	var period reporting.Period
	require.NoError(t, reports.WithTx(ctx, func(ctx context.Context, tx reporting.Tx) error {
		if _, err := tx.CreateObligation(ctx, reporting.Obligation{StudentID: st.ID, CycleID: st.CycleID, LEAID: st.LEAID, IHEID: st.IHEID}); err != nil {
			return err
		}
		var err error
		period, err = tx.CreatePeriod(ctx, reporting.Period{CycleID: st.CycleID, Name: "Progress", Type: reporting.ReportProgress})
		if err != nil {
			return err
		}
		return tx.SetPeriodActive(ctx, period.ID, true)
	}))

	task, err := NewReportingSweepTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, NewReportingSweepJob(store, tracker, nil, nil).Handle(ctx, task))

	obligations, err := tracker.Obligations(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, obligations, 1)
	require.Equal(t, period.ID, obligations[0].PeriodID)
	loaded, err := store.LoadStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, status.ReportingPending, loaded.Status)
}

func TestNewWorkerValidatesRegistrations(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	noop := func(context.Context, *asynq.Task) error { return nil }
	sweep, err := NewReportingSweepTask(time.Time{})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{
		{Type: TaskSigningEvent, Handler: noop},
		{Type: TaskSigningEvent, Handler: noop},
	}})
	require.ErrorContains(t, err, "duplicate handler")

	_, err = NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskSigningEvent, Handler: noop}},
		Cron:      []CronRegistration{{Spec: "0 6 * * *", Task: sweep}},
	})
	require.ErrorContains(t, err, "has no handler")

	w, err := NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskReportingSweep, Handler: noop}},
		Cron:      []CronRegistration{{Spec: "0 6 * * *", Task: sweep}},
	})
	require.NoError(t, err)
	require.NotNil(t, w)
}

type prunerStub struct {
	olderThan time.Duration
	err       error
}

func (p *prunerStub) Cleanup(_ context.Context, olderThan time.Duration) error {
	p.olderThan = olderThan
	return p.err
}

func TestIdempotencyPruneJob(t *testing.T) {
	ctx := context.Background()
	keys := &prunerStub{}
	job := &IdempotencyPruneJob{Keys: keys, Retention: 30 * 24 * time.Hour}

	require.NoError(t, job.Handle(ctx, NewIdempotencyPruneTask()))
	require.Equal(t, 30*24*time.Hour, keys.olderThan)

	keys.err = errors.New("connection reset")
	require.ErrorContains(t, job.Handle(ctx, NewIdempotencyPruneTask()), "connection reset")

	job.Retention = 0
	require.ErrorIs(t, job.Handle(ctx, NewIdempotencyPruneTask()), asynq.SkipRetry)
}
