package grants

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. Each transaction works on a private copy
// of the state that replaces the shared state only when the callback succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	cycles       map[int64]GrantCycle
	applications map[int64]Application
	students     map[int64]Student
	awards       map[int64]Award
	events       map[int64][]TransitionEvent
	nextID       int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		cycles:       make(map[int64]GrantCycle),
		applications: make(map[int64]Application),
		students:     make(map[int64]Student),
		awards:       make(map[int64]Award),
		events:       make(map[int64][]TransitionEvent),
	}}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		cycles:       maps.Clone(s.cycles),
		applications: maps.Clone(s.applications),
		students:     make(map[int64]Student, len(s.students)),
		awards:       make(map[int64]Award, len(s.awards)),
		events:       make(map[int64][]TransitionEvent, len(s.events)),
		nextID:       s.nextID,
	}
	for id, st := range s.students {
		out.students[id] = st.Clone()
	}
	for id, a := range s.awards {
		out.awards[id] = a.Clone()
	}
	for id, evts := range s.events {
		out.events[id] = slices.Clone(evts)
	}
	return out
}

// WithTx runs fn against a staged copy and commits it when fn returns nil.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := &memoryTx{state: m.state.clone()}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.state = staged.state
	return nil
}

// LoadCycle returns a grant cycle.
func (m *MemoryStore) LoadCycle(ctx context.Context, id int64) (GrantCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.state.cycles[id]
	if !ok {
		return GrantCycle{}, ErrNotFound
	}
	return c, nil
}

// ListCycles returns every cycle ordered by id.
func (m *MemoryStore) ListCycles(ctx context.Context) ([]GrantCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GrantCycle, 0, len(m.state.cycles))
	for _, id := range slices.Sorted(maps.Keys(m.state.cycles)) {
		out = append(out, m.state.cycles[id])
	}
	return out, nil
}

// LoadApplication returns an application.
func (m *MemoryStore) LoadApplication(ctx context.Context, id int64) (Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.state.applications[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app, nil
}

// LoadStudent returns a copy of the student.
func (m *MemoryStore) LoadStudent(ctx context.Context, id int64) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return st.Clone(), nil
}

// LoadStudentsForCycle copies every student of the cycle under one read lock.
func (m *MemoryStore) LoadStudentsForCycle(ctx context.Context, cycleID int64) ([]Student, error) {
	return m.filterStudents(func(st Student) bool { return st.CycleID == cycleID }), nil
}

// LoadStudentsForLEA copies every student hosted by the LEA under one read lock.
func (m *MemoryStore) LoadStudentsForLEA(ctx context.Context, leaID int64) ([]Student, error) {
	return m.filterStudents(func(st Student) bool { return st.LEAID == leaID }), nil
}

func (m *MemoryStore) filterStudents(keep func(Student) bool) []Student {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Student
	for _, id := range slices.Sorted(maps.Keys(m.state.students)) {
		st := m.state.students[id]
		if keep(st) {
			out = append(out, st.Clone())
		}
	}
	return out
}

// LoadAward returns the award funding the student.
func (m *MemoryStore) LoadAward(ctx context.Context, studentID int64) (Award, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.state.awards[studentID]
	if !ok {
		return Award{}, ErrNotFound
	}
	return a.Clone(), nil
}

// ListTransitionEvents returns the student's events in append order.
func (m *MemoryStore) ListTransitionEvents(ctx context.Context, studentID int64) ([]TransitionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.state.events[studentID]), nil
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) CreateCycle(ctx context.Context, cycle GrantCycle) (GrantCycle, error) {
	cycle.ID = tx.id()
	tx.state.cycles[cycle.ID] = cycle
	return cycle, nil
}

func (tx *memoryTx) SetCycleOpen(ctx context.Context, id int64, open bool) error {
	c, ok := tx.state.cycles[id]
	if !ok {
		return ErrNotFound
	}
	c.Open = open
	tx.state.cycles[id] = c
	return nil
}

func (tx *memoryTx) CreateApplication(ctx context.Context, app Application) (Application, error) {
	app.ID = tx.id()
	tx.state.applications[app.ID] = app
	return app, nil
}

func (tx *memoryTx) UpdateApplicationStatus(ctx context.Context, id int64, st ApplicationStatus) error {
	app, ok := tx.state.applications[id]
	if !ok {
		return ErrNotFound
	}
	app.Status = st
	tx.state.applications[id] = app
	return nil
}

func (tx *memoryTx) CreateStudent(ctx context.Context, student Student) (Student, error) {
	student.ID = tx.id()
	student.Version = 1
	tx.state.students[student.ID] = student.Clone()
	return student, nil
}

func (tx *memoryTx) SaveStudent(ctx context.Context, student Student) (Student, error) {
	current, ok := tx.state.students[student.ID]
	if !ok {
		return Student{}, ErrNotFound
	}
	if current.Version != student.Version {
		return Student{}, ErrConcurrentModification
	}
	student.Version++
	tx.state.students[student.ID] = student.Clone()
	return student, nil
}

func (tx *memoryTx) AppendTransitionEvent(ctx context.Context, evt TransitionEvent) error {
	tx.state.events[evt.StudentID] = append(tx.state.events[evt.StudentID], evt)
	return nil
}

func (tx *memoryTx) CreateAward(ctx context.Context, award Award) (Award, error) {
	if _, exists := tx.state.awards[award.StudentID]; exists {
		return Award{}, ErrValidation
	}
	award.ID = tx.id()
	tx.state.awards[award.StudentID] = award.Clone()
	return award, nil
}

func (tx *memoryTx) SaveAward(ctx context.Context, award Award) error {
	if _, ok := tx.state.awards[award.StudentID]; !ok {
		return ErrNotFound
	}
	tx.state.awards[award.StudentID] = award.Clone()
	return nil
}
