package grants

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
)

// OrganizationDirectory resolves IHE and LEA reference data.
type OrganizationDirectory interface {
	Organization(ctx context.Context, id int64) (Organization, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages grant cycles, applications and student intake.
type Service struct {
	store    Store
	orgs     OrganizationDirectory
	audit    AuditPort
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the grants service.
func NewService(store Store, orgs OrganizationDirectory, audit AuditPort) *Service {
	return &Service{store: store, orgs: orgs, audit: audit, validate: validator.New(), now: time.Now}
}

// WithNow overrides the clock used for timestamps.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateCycleInput describes a new grant cycle.
type CreateCycleInput struct {
	Name         string          `validate:"required,max=120"`
	Appropriated decimal.Decimal `validate:"-"`
	DefaultAward decimal.Decimal `validate:"-"`
	StartDate    time.Time       `validate:"required"`
	EndDate      time.Time       `validate:"required,gtfield=StartDate"`
	ActorID      int64
}

// CreateCycle opens a new grant cycle.
func (s *Service) CreateCycle(ctx context.Context, input CreateCycleInput) (GrantCycle, error) {
	if err := s.validate.Struct(input); err != nil {
		return GrantCycle{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Appropriated.IsNegative() {
		return GrantCycle{}, fmt.Errorf("%w: appropriation must not be negative", ErrValidation)
	}
	if !input.DefaultAward.IsPositive() {
		return GrantCycle{}, fmt.Errorf("%w: default award must be positive", ErrValidation)
	}
	cycle := GrantCycle{
		Name:         input.Name,
		Appropriated: input.Appropriated,
		DefaultAward: input.DefaultAward,
		StartDate:    input.StartDate,
		EndDate:      input.EndDate,
		Open:         true,
		CreatedAt:    s.now(),
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		cycle, err = tx.CreateCycle(ctx, cycle)
		return err
	})
	if err != nil {
		return GrantCycle{}, err
	}
	s.record(ctx, input.ActorID, "grant_cycle.created", "grant_cycle", cycle.ID, map[string]any{
		"appropriated": cycle.Appropriated.String(),
	})
	return cycle, nil
}

// ListCycles returns every grant cycle.
func (s *Service) ListCycles(ctx context.Context) ([]GrantCycle, error) {
	return s.store.ListCycles(ctx)
}

// LoadCycle returns the cycle by id.
func (s *Service) LoadCycle(ctx context.Context, id int64) (GrantCycle, error) {
	return s.store.LoadCycle(ctx, id)
}

// SetCycleOpen opens or closes intake for a cycle.
func (s *Service) SetCycleOpen(ctx context.Context, cycleID int64, open bool, actorID int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetCycleOpen(ctx, cycleID, open)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "grant_cycle.open_changed", "grant_cycle", cycleID, map[string]any{"open": open})
	return nil
}

// CreateApplicationInput binds an IHE to an LEA for a cycle.
type CreateApplicationInput struct {
	CycleID int64 `validate:"required"`
	IHEID   int64 `validate:"required"`
	LEAID   int64 `validate:"required"`
	ActorID int64
}

// CreateApplication registers a new application.
func (s *Service) CreateApplication(ctx context.Context, input CreateApplicationInput) (Application, error) {
	if err := s.validate.Struct(input); err != nil {
		return Application{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cycle, err := s.store.LoadCycle(ctx, input.CycleID)
	if err != nil {
		return Application{}, err
	}
	if !cycle.Open {
		return Application{}, ErrCycleClosed
	}
	if err := s.requireOrg(ctx, input.IHEID, OrgIHE); err != nil {
		return Application{}, err
	}
	if err := s.requireOrg(ctx, input.LEAID, OrgLEA); err != nil {
		return Application{}, err
	}
	app := Application{
		CycleID:   input.CycleID,
		IHEID:     input.IHEID,
		LEAID:     input.LEAID,
		Status:    ApplicationActive,
		CreatedAt: s.now(),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		app, err = tx.CreateApplication(ctx, app)
		return err
	})
	if err != nil {
		return Application{}, err
	}
	s.record(ctx, input.ActorID, "application.created", "application", app.ID, map[string]any{
		"cycle_id": app.CycleID, "ihe_id": app.IHEID, "lea_id": app.LEAID,
	})
	return app, nil
}

func (s *Service) requireOrg(ctx context.Context, id int64, want OrgType) error {
	if s.orgs == nil {
		return nil
	}
	org, err := s.orgs.Organization(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: organization %d not found", ErrValidation, id)
		}
		return err
	}
	if org.Type != want {
		return fmt.Errorf("%w: organization %d is %s, want %s", ErrValidation, id, org.Type, want)
	}
	return nil
}

// CloseApplication stops further student intake. Existing students keep their status.
func (s *Service) CloseApplication(ctx context.Context, applicationID, actorID int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateApplicationStatus(ctx, applicationID, ApplicationClosed)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "application.closed", "application", applicationID, nil)
	return nil
}

// AddStudentInput describes a student placed under an application.
type AddStudentInput struct {
	ApplicationID  int64  `validate:"required"`
	FirstName      string `validate:"required,max=80"`
	LastName       string `validate:"required,max=80"`
	SEID           string `validate:"required,numeric,len=8"`
	CredentialArea string `validate:"required"`
	ActorID        int64
}

// AddStudent creates a student in DRAFT.
func (s *Service) AddStudent(ctx context.Context, input AddStudentInput) (Student, error) {
	if err := s.validate.Struct(input); err != nil {
		return Student{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	app, err := s.store.LoadApplication(ctx, input.ApplicationID)
	if err != nil {
		return Student{}, err
	}
	if app.Status != ApplicationActive {
		return Student{}, ErrApplicationClosed
	}
	cycle, err := s.store.LoadCycle(ctx, app.CycleID)
	if err != nil {
		return Student{}, err
	}
	if !cycle.Open {
		return Student{}, ErrCycleClosed
	}
	now := s.now()
	student := Student{
		ApplicationID:  app.ID,
		CycleID:        app.CycleID,
		IHEID:          app.IHEID,
		LEAID:          app.LEAID,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		SEID:           input.SEID,
		CredentialArea: input.CredentialArea,
		Status:         status.Draft,
		LastActionAt:   now,
		CreatedAt:      now,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		student, err = tx.CreateStudent(ctx, student)
		return err
	})
	if err != nil {
		return Student{}, err
	}
	s.record(ctx, input.ActorID, "student.created", "student", student.ID, map[string]any{"application_id": app.ID})
	return student, nil
}

// LoadStudent returns the student by id.
func (s *Service) LoadStudent(ctx context.Context, id int64) (Student, error) {
	return s.store.LoadStudent(ctx, id)
}

// History returns the student's transition events in order.
func (s *Service) History(ctx context.Context, studentID int64) ([]TransitionEvent, error) {
	if _, err := s.store.LoadStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.store.ListTransitionEvents(ctx, studentID)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
