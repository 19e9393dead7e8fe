package grants

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
)

type orgStub map[int64]Organization

func (o orgStub) Organization(_ context.Context, id int64) (Organization, error) {
	org, ok := o[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

type auditSpy struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

var fixedNow = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryStore, *auditSpy) {
	store := NewMemoryStore()
	audit := &auditSpy{}
	orgs := orgStub{
		10: {ID: 10, Type: OrgIHE, Code: "IHE-10", Name: "State University"},
		20: {ID: 20, Type: OrgLEA, Code: "LEA-20", Name: "Unified District"},
	}
	svc := NewService(store, orgs, audit).WithNow(func() time.Time { return fixedNow })
	return svc, store, audit
}

func cycleInput() CreateCycleInput {
	return CreateCycleInput{
		Name:         "2025-26",
		Appropriated: decimal.RequireFromString("100000"),
		DefaultAward: decimal.RequireFromString("10000"),
		StartDate:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		ActorID:      1,
	}
}

func TestCreateCycleValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	in := cycleInput()
	in.Name = ""
	_, err := svc.CreateCycle(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	in = cycleInput()
	in.EndDate = in.StartDate.Add(-time.Hour)
	_, err = svc.CreateCycle(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	in = cycleInput()
	in.Appropriated = decimal.RequireFromString("-1")
	_, err = svc.CreateCycle(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	in = cycleInput()
	in.DefaultAward = decimal.Zero
	_, err = svc.CreateCycle(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	cycle, err := svc.CreateCycle(ctx, cycleInput())
	require.NoError(t, err)
	require.True(t, cycle.Open)
	require.NotZero(t, cycle.ID)
	require.Equal(t, fixedNow, cycle.CreatedAt)
}

func TestIntakeFlow(t *testing.T) {
	svc, store, audit := newTestService()
	ctx := context.Background()

	cycle, err := svc.CreateCycle(ctx, cycleInput())
	require.NoError(t, err)

	_, err = svc.CreateApplication(ctx, CreateApplicationInput{CycleID: cycle.ID, IHEID: 20, LEAID: 20, ActorID: 1})
	require.ErrorIs(t, err, ErrValidation, "LEA cannot sponsor as IHE")
	_, err = svc.CreateApplication(ctx, CreateApplicationInput{CycleID: cycle.ID, IHEID: 10, LEAID: 99, ActorID: 1})
	require.ErrorIs(t, err, ErrValidation)

	app, err := svc.CreateApplication(ctx, CreateApplicationInput{CycleID: cycle.ID, IHEID: 10, LEAID: 20, ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, ApplicationActive, app.Status)

	_, err = svc.AddStudent(ctx, AddStudentInput{
		ApplicationID: app.ID, FirstName: "Ana", LastName: "Diaz", SEID: "12AB5678", CredentialArea: "Math",
	})
	require.ErrorIs(t, err, ErrValidation)

	st, err := svc.AddStudent(ctx, AddStudentInput{
		ApplicationID: app.ID, FirstName: "Ana", LastName: "Diaz", SEID: "12345678", CredentialArea: "Math", ActorID: 2,
	})
	require.NoError(t, err)
	require.Equal(t, status.Draft, st.Status)
	require.Equal(t, int64(1), st.Version)
	require.Equal(t, cycle.ID, st.CycleID)
	require.Equal(t, int64(10), st.IHEID)
	require.Equal(t, int64(20), st.LEAID)
	require.Nil(t, st.AwardAmount)
	require.NoError(t, st.CheckAwardInvariant())

	loaded, err := store.LoadStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, st, loaded)

	require.NoError(t, svc.CloseApplication(ctx, app.ID, 1))
	_, err = svc.AddStudent(ctx, AddStudentInput{
		ApplicationID: app.ID, FirstName: "Ben", LastName: "Lee", SEID: "87654321", CredentialArea: "Science",
	})
	require.ErrorIs(t, err, ErrApplicationClosed)

	require.NoError(t, svc.SetCycleOpen(ctx, cycle.ID, false, 1))
	_, err = svc.CreateApplication(ctx, CreateApplicationInput{CycleID: cycle.ID, IHEID: 10, LEAID: 20})
	require.ErrorIs(t, err, ErrCycleClosed)

	require.Equal(t, []string{
		"grant_cycle.created",
		"application.created",
		"student.created",
		"application.closed",
		"grant_cycle.open_changed",
	}, audit.actions())
}

func TestHistoryRequiresStudent(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.History(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.CreateCycle(ctx, GrantCycle{Name: "discarded"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	cycles, err := store.ListCycles(ctx)
	require.NoError(t, err)
	require.Empty(t, cycles)
}

func TestMemoryStoreVersionCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var created Student
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		created, err = tx.CreateStudent(ctx, Student{Status: status.Draft})
		return err
	}))

	stale := created
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		next := created
		next.Status = status.IHESubmitted
		saved, err := tx.SaveStudent(ctx, next)
		require.Equal(t, int64(2), saved.Version)
		return err
	}))

	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.SaveStudent(ctx, stale)
		return err
	})
	require.ErrorIs(t, err, ErrConcurrentModification)

	loaded, err := store.LoadStudent(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, status.IHESubmitted, loaded.Status)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	amount := decimal.RequireFromString("5000")

	var created Student
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		created, err = tx.CreateStudent(ctx, Student{Status: status.CTCApproved, AwardAmount: &amount})
		if err != nil {
			return err
		}
		_, err = tx.CreateAward(ctx, NewAwardShell(created, DefaultSigners(), fixedNow))
		return err
	}))

	loaded, err := store.LoadStudent(ctx, created.ID)
	require.NoError(t, err)
	*loaded.AwardAmount = decimal.RequireFromString("1")

	award, err := store.LoadAward(ctx, created.ID)
	require.NoError(t, err)
	award.Signatures[0].State = SignatureSigned

	again, err := store.LoadStudent(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, again.Award().Equal(amount))
	awardAgain, err := store.LoadAward(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, SignatureNotSent, awardAgain.Signatures[0].State)

	err = store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.CreateAward(ctx, NewAwardShell(created, DefaultSigners(), fixedNow))
		return err
	})
	require.ErrorIs(t, err, ErrValidation, "one award per student")
}
