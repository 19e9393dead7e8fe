package grants

import "context"

// Store describes the persistence operations the workflow core needs.
// LoadStudentsForCycle and LoadStudentsForLEA must return a consistent snapshot
// taken at a single point in time.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	LoadCycle(ctx context.Context, id int64) (GrantCycle, error)
	ListCycles(ctx context.Context) ([]GrantCycle, error)
	LoadApplication(ctx context.Context, id int64) (Application, error)
	LoadStudent(ctx context.Context, id int64) (Student, error)
	LoadStudentsForCycle(ctx context.Context, cycleID int64) ([]Student, error)
	LoadStudentsForLEA(ctx context.Context, leaID int64) ([]Student, error)
	LoadAward(ctx context.Context, studentID int64) (Award, error)
	ListTransitionEvents(ctx context.Context, studentID int64) ([]TransitionEvent, error)
}

// Tx exposes the write operations executed atomically inside WithTx.
type Tx interface {
	CreateCycle(ctx context.Context, cycle GrantCycle) (GrantCycle, error)
	SetCycleOpen(ctx context.Context, id int64, open bool) error
	CreateApplication(ctx context.Context, app Application) (Application, error)
	UpdateApplicationStatus(ctx context.Context, id int64, st ApplicationStatus) error
	CreateStudent(ctx context.Context, student Student) (Student, error)
	// SaveStudent persists the student when its Version still matches the
	// stored one and returns it with the incremented version. A mismatch
	// returns ErrConcurrentModification.
	SaveStudent(ctx context.Context, student Student) (Student, error)
	AppendTransitionEvent(ctx context.Context, evt TransitionEvent) error
	CreateAward(ctx context.Context, award Award) (Award, error)
	SaveAward(ctx context.Context, award Award) error
}
