package reporting

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store with copy-on-write transactions.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

type memoryState struct {
	periods     map[int64]Period
	obligations map[int64]Obligation
	reports     map[int64]IHEReport
	nextID      int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		periods:     make(map[int64]Period),
		obligations: make(map[int64]Obligation),
		reports:     make(map[int64]IHEReport),
	}}
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		periods:     maps.Clone(s.periods),
		obligations: maps.Clone(s.obligations),
		reports:     maps.Clone(s.reports),
		nextID:      s.nextID,
	}
}

// WithTx runs fn against a staged copy and commits it when fn returns nil.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.state.clone()
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *MemoryStore) read() *memoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// The committed state is never mutated in place, so reads work on the
// snapshot pointer without holding the lock.

func (m *MemoryStore) LoadPeriod(ctx context.Context, id int64) (Period, error) {
	return m.read().LoadPeriod(ctx, id)
}

func (m *MemoryStore) ActivePeriod(ctx context.Context, cycleID int64) (Period, error) {
	return m.read().ActivePeriod(ctx, cycleID)
}

func (m *MemoryStore) ObligationsForStudent(ctx context.Context, studentID int64) ([]Obligation, error) {
	return m.read().ObligationsForStudent(ctx, studentID)
}

func (m *MemoryStore) DeferredObligations(ctx context.Context, cycleID int64) ([]Obligation, error) {
	return m.read().DeferredObligations(ctx, cycleID)
}

func (m *MemoryStore) LoadReport(ctx context.Context, id int64) (IHEReport, error) {
	return m.read().LoadReport(ctx, id)
}

func (m *MemoryStore) ReportsFor(ctx context.Context, studentID, periodID int64) ([]IHEReport, error) {
	return m.read().ReportsFor(ctx, studentID, periodID)
}

// ListPeriods returns the cycle's periods ordered by id.
func (m *MemoryStore) ListPeriods(_ context.Context, cycleID int64) ([]Period, error) {
	s := m.read()
	var out []Period
	for _, id := range slices.Sorted(maps.Keys(s.periods)) {
		if p := s.periods[id]; p.CycleID == cycleID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ObligationsForLEA returns every obligation of students hosted by the LEA.
func (m *MemoryStore) ObligationsForLEA(_ context.Context, leaID int64) ([]Obligation, error) {
	return m.read().filterObligations(func(o Obligation) bool { return o.LEAID == leaID }), nil
}

// OutstandingObligations returns bound obligations not yet submitted.
func (m *MemoryStore) OutstandingObligations(_ context.Context) ([]Obligation, error) {
	return m.read().filterObligations(func(o Obligation) bool { return !o.Deferred() && !o.Submitted }), nil
}

// ReportsForStudent returns the student's reports ordered by id.
func (m *MemoryStore) ReportsForStudent(_ context.Context, studentID int64) ([]IHEReport, error) {
	return m.read().filterReports(func(r IHEReport) bool { return r.StudentID == studentID }), nil
}

func (s *memoryState) filterObligations(keep func(Obligation) bool) []Obligation {
	var out []Obligation
	for _, id := range slices.Sorted(maps.Keys(s.obligations)) {
		if o := s.obligations[id]; keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (s *memoryState) filterReports(keep func(IHEReport) bool) []IHEReport {
	var out []IHEReport
	for _, id := range slices.Sorted(maps.Keys(s.reports)) {
		if r := s.reports[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryState) LoadPeriod(_ context.Context, id int64) (Period, error) {
	p, ok := s.periods[id]
	if !ok {
		return Period{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryState) ActivePeriod(_ context.Context, cycleID int64) (Period, error) {
	for _, id := range slices.Sorted(maps.Keys(s.periods)) {
		if p := s.periods[id]; p.CycleID == cycleID && p.Active {
			return p, nil
		}
	}
	return Period{}, ErrNotFound
}

func (s *memoryState) ObligationsForStudent(_ context.Context, studentID int64) ([]Obligation, error) {
	return s.filterObligations(func(o Obligation) bool { return o.StudentID == studentID }), nil
}

func (s *memoryState) DeferredObligations(_ context.Context, cycleID int64) ([]Obligation, error) {
	return s.filterObligations(func(o Obligation) bool { return o.CycleID == cycleID && o.Deferred() }), nil
}

func (s *memoryState) LoadReport(_ context.Context, id int64) (IHEReport, error) {
	r, ok := s.reports[id]
	if !ok {
		return IHEReport{}, ErrNotFound
	}
	return r, nil
}

func (s *memoryState) ReportsFor(_ context.Context, studentID, periodID int64) ([]IHEReport, error) {
	return s.filterReports(func(r IHEReport) bool { return r.StudentID == studentID && r.PeriodID == periodID }), nil
}

func (s *memoryState) CreatePeriod(_ context.Context, p Period) (Period, error) {
	p.ID = s.id()
	s.periods[p.ID] = p
	return p, nil
}

func (s *memoryState) SetPeriodActive(_ context.Context, id int64, active bool) error {
	p, ok := s.periods[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	s.periods[id] = p
	return nil
}

func (s *memoryState) CreateObligation(_ context.Context, o Obligation) (Obligation, error) {
	for _, existing := range s.obligations {
		if existing.StudentID == o.StudentID && existing.PeriodID == o.PeriodID {
			return Obligation{}, ErrValidation
		}
	}
	o.ID = s.id()
	s.obligations[o.ID] = o
	return o, nil
}

func (s *memoryState) SaveObligation(_ context.Context, o Obligation) error {
	if _, ok := s.obligations[o.ID]; !ok {
		return ErrNotFound
	}
	s.obligations[o.ID] = o
	return nil
}

func (s *memoryState) CreateReport(_ context.Context, r IHEReport) (IHEReport, error) {
	r.ID = s.id()
	s.reports[r.ID] = r
	return r, nil
}

func (s *memoryState) SaveReport(_ context.Context, r IHEReport) error {
	if _, ok := s.reports[r.ID]; !ok {
		return ErrNotFound
	}
	s.reports[r.ID] = r
	return nil
}
