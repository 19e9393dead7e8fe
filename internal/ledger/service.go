package ledger

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// SnapshotSource loads the data a ledger is computed from.
type SnapshotSource interface {
	LoadCycle(ctx context.Context, id int64) (grants.GrantCycle, error)
	LoadStudentsForCycle(ctx context.Context, cycleID int64) ([]grants.Student, error)
}

// Service computes cycle ledgers on demand.
type Service struct {
	source SnapshotSource
	group  singleflight.Group
}

// NewService constructs a ledger service.
func NewService(source SnapshotSource) *Service {
	return &Service{source: source}
}

// CycleLedger recomputes the ledger from a fresh snapshot of the cycle.
// Concurrent callers for the same cycle share one computation.
func (s *Service) CycleLedger(ctx context.Context, cycleID int64) (Ledger, error) {
	ch := s.group.DoChan(strconv.FormatInt(cycleID, 10), func() (interface{}, error) {
		return s.compute(ctx, cycleID)
	})
	select {
	case <-ctx.Done():
		return Ledger{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Ledger{}, res.Err
		}
		return res.Val.(Ledger), nil
	}
}

func (s *Service) compute(ctx context.Context, cycleID int64) (Ledger, error) {
	cycle, err := s.source.LoadCycle(ctx, cycleID)
	if err != nil {
		return Ledger{}, err
	}
	students, err := s.source.LoadStudentsForCycle(ctx, cycleID)
	if err != nil {
		return Ledger{}, err
	}
	return Compute(cycle, students), nil
}
