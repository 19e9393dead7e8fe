package reporting

import "context"

// Reader exposes the reads shared by Store and Tx.
type Reader interface {
	LoadPeriod(ctx context.Context, id int64) (Period, error)
	// ActivePeriod returns ErrNotFound when no period of the cycle is active.
	ActivePeriod(ctx context.Context, cycleID int64) (Period, error)
	ObligationsForStudent(ctx context.Context, studentID int64) ([]Obligation, error)
	DeferredObligations(ctx context.Context, cycleID int64) ([]Obligation, error)
	LoadReport(ctx context.Context, id int64) (IHEReport, error)
	ReportsFor(ctx context.Context, studentID, periodID int64) ([]IHEReport, error)
}

// Store describes persistence used by Tracker.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	ListPeriods(ctx context.Context, cycleID int64) ([]Period, error)
	ObligationsForLEA(ctx context.Context, leaID int64) ([]Obligation, error)
	OutstandingObligations(ctx context.Context) ([]Obligation, error)
	ReportsForStudent(ctx context.Context, studentID int64) ([]IHEReport, error)
}

// Tx exposes the operations executed atomically inside WithTx.
type Tx interface {
	Reader
	CreatePeriod(ctx context.Context, p Period) (Period, error)
	SetPeriodActive(ctx context.Context, id int64, active bool) error
	CreateObligation(ctx context.Context, o Obligation) (Obligation, error)
	SaveObligation(ctx context.Context, o Obligation) error
	CreateReport(ctx context.Context, r IHEReport) (IHEReport, error)
	SaveReport(ctx context.Context, r IHEReport) error
}
