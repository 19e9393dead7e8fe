// Package grantshttp exposes grant cycle and application intake endpoints.
package grantshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	"github.com/ctc-stipend/stipend/internal/rbac"
	"github.com/ctc-stipend/stipend/internal/shared"
)

// Intake is the grants service surface used by the handler.
type Intake interface {
	CreateCycle(ctx context.Context, input grants.CreateCycleInput) (grants.GrantCycle, error)
	ListCycles(ctx context.Context) ([]grants.GrantCycle, error)
	LoadCycle(ctx context.Context, id int64) (grants.GrantCycle, error)
	SetCycleOpen(ctx context.Context, cycleID int64, open bool, actorID int64) error
	CreateApplication(ctx context.Context, input grants.CreateApplicationInput) (grants.Application, error)
	CloseApplication(ctx context.Context, applicationID, actorID int64) error
	AddStudent(ctx context.Context, input grants.AddStudentInput) (grants.Student, error)
}

// Handler wires intake endpoints.
type Handler struct {
	intake   Intake
	errors   *httpx.Mapper
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(intake Intake, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		intake:   intake,
		errors:   NewErrorMapper(logger),
		rbac:     rbac.Middleware{Logger: logger},
		validate: validator.New(),
	}
}

// NewErrorMapper maps grants errors to problem responses.
func NewErrorMapper(logger *slog.Logger) *httpx.Mapper {
	return httpx.NewMapper(logger,
		httpx.Rule{Target: shared.ErrActorMissing, Status: http.StatusUnauthorized, Title: "Actor Required"},
		httpx.Rule{Target: grants.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
		httpx.Rule{Target: grants.ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
		httpx.Rule{Target: grants.ErrCycleClosed, Status: http.StatusConflict, Title: "Cycle Closed"},
		httpx.Rule{Target: grants.ErrApplicationClosed, Status: http.StatusConflict, Title: "Application Closed"},
	)
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cycles", h.listCycles)
	r.Get("/cycles/{id}", h.showCycle)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCyclesManage))
		r.Post("/cycles", h.createCycle)
		r.Post("/cycles/{id}/open", h.setCycleOpen(true))
		r.Post("/cycles/{id}/close", h.setCycleOpen(false))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermIntakeEdit))
		r.Post("/applications", h.createApplication)
		r.Post("/applications/{id}/close", h.closeApplication)
		r.Post("/applications/{id}/students", h.addStudent)
	})
}

func (h *Handler) listCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.intake.ListCycles(r.Context())
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

func (h *Handler) showCycle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	cycle, err := h.intake.LoadCycle(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cycle)
}

type cycleRequest struct {
	Name         string `json:"name" validate:"required,max=120"`
	Appropriated string `json:"appropriated" validate:"required,numeric"`
	DefaultAward string `json:"default_award" validate:"required,numeric"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) createCycle(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var body cycleRequest
	if err := h.decode(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	input := grants.CreateCycleInput{Name: body.Name, ActorID: actor.ID}
	input.Appropriated, _ = decimal.NewFromString(body.Appropriated)
	input.DefaultAward, _ = decimal.NewFromString(body.DefaultAward)
	input.StartDate, _ = time.Parse(time.DateOnly, body.StartDate)
	input.EndDate, _ = time.Parse(time.DateOnly, body.EndDate)
	cycle, err := h.intake.CreateCycle(r.Context(), input)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cycle)
}

func (h *Handler) setCycleOpen(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.errors.Respond(w, r, err)
			return
		}
		actor, _ := shared.ActorFromContext(r.Context())
		if err := h.intake.SetCycleOpen(r.Context(), id, open, actor.ID); err != nil {
			h.errors.Respond(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type applicationRequest struct {
	CycleID int64 `json:"cycle_id" validate:"required,gt=0"`
	IHEID   int64 `json:"ihe_id" validate:"required,gt=0"`
	LEAID   int64 `json:"lea_id" validate:"required,gt=0"`
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var body applicationRequest
	if err := h.decode(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	app, err := h.intake.CreateApplication(r.Context(), grants.CreateApplicationInput{
		CycleID: body.CycleID,
		IHEID:   body.IHEID,
		LEAID:   body.LEAID,
		ActorID: actor.ID,
	})
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, app)
}

func (h *Handler) closeApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.intake.CloseApplication(r.Context(), id, actor.ID); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type studentRequest struct {
	FirstName      string `json:"first_name" validate:"required,max=80"`
	LastName       string `json:"last_name" validate:"required,max=80"`
	SEID           string `json:"seid" validate:"required"`
	CredentialArea string `json:"credential_area" validate:"required"`
}

func (h *Handler) addStudent(w http.ResponseWriter, r *http.Request) {
	appID, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	var body studentRequest
	if err := h.decode(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	st, err := h.intake.AddStudent(r.Context(), grants.AddStudentInput{
		ApplicationID:  appID,
		FirstName:      body.FirstName,
		LastName:       body.LastName,
		SEID:           body.SEID,
		CredentialArea: body.CredentialArea,
		ActorID:        actor.ID,
	})
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return err
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", httpx.ErrValidation, chi.URLParam(r, "id"))
	}
	return id, nil
}
