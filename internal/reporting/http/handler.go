// Package reportinghttp exposes reporting periods, IHE outcome reports and
// LEA compliance as a JSON API.
package reportinghttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	"github.com/ctc-stipend/stipend/internal/rbac"
	"github.com/ctc-stipend/stipend/internal/reporting"
	"github.com/ctc-stipend/stipend/internal/shared"
)

// Tracker is the reporting surface used by the handler.
type Tracker interface {
	CreatePeriod(ctx context.Context, input reporting.CreatePeriodInput) (reporting.Period, error)
	ActivatePeriod(ctx context.Context, periodID int64) (reporting.Period, []reporting.Obligation, error)
	DeactivatePeriod(ctx context.Context, periodID int64) error
	CreateReport(ctx context.Context, input reporting.CreateReportInput) (reporting.IHEReport, error)
	ApplyReportAction(ctx context.Context, reportID int64, action reporting.ReportAction, actor shared.Actor, note string) (reporting.IHEReport, error)
	Compliance(ctx context.Context, leaID int64) (reporting.Compliance, error)
	ComplianceFor(ctx context.Context, leaIDs []int64) ([]reporting.Compliance, error)
	Obligations(ctx context.Context, studentID int64) ([]reporting.Obligation, error)
	Reports(ctx context.Context, studentID int64) ([]reporting.IHEReport, error)
}

// Handler wires the reporting endpoints.
type Handler struct {
	tracker  Tracker
	logger   *slog.Logger
	errors   *httpx.Mapper
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(tracker Tracker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tracker:  tracker,
		logger:   logger,
		errors:   NewErrorMapper(logger),
		rbac:     rbac.Middleware{Logger: logger},
		validate: validator.New(),
	}
}

// NewErrorMapper maps reporting errors to problem responses.
func NewErrorMapper(logger *slog.Logger) *httpx.Mapper {
	return httpx.NewMapper(logger,
		httpx.Rule{Target: shared.ErrActorMissing, Status: http.StatusUnauthorized, Title: "Actor Required"},
		httpx.Rule{Target: reporting.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
		httpx.Rule{Target: grants.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
		httpx.Rule{Target: reporting.ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
		httpx.Rule{Target: reporting.ErrActivePeriodExists, Status: http.StatusConflict, Title: "Active Period Exists"},
		httpx.Rule{Target: reporting.ErrInvalidReportAction, Status: http.StatusConflict, Title: "Invalid Report Action"},
		httpx.Rule{Target: reporting.ErrUnauthorizedRole, Status: http.StatusForbidden, Title: "Role Not Authorized"},
		httpx.Rule{Target: reporting.ErrNotFunded, Status: http.StatusUnprocessableEntity, Title: "Student Not Funded"},
		httpx.Rule{Target: reporting.ErrDuplicateReport, Status: http.StatusConflict, Title: "Duplicate Report"},
	)
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermComplianceView)).Get("/leas/compliance", h.complianceList)
	r.With(h.rbac.RequireAny(shared.PermComplianceView)).Get("/leas/{id}/compliance", h.compliance)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPeriodsManage))
		r.Post("/cycles/{id}/periods", h.createPeriod)
		r.Post("/periods/{id}/activate", h.activatePeriod)
		r.Post("/periods/{id}/deactivate", h.deactivatePeriod)
	})
	r.With(h.rbac.RequireAny(shared.PermReportsWrite)).Post("/reports", h.createReport)
	r.With(h.rbac.RequireAny(shared.PermReportsWrite, shared.PermReportsReview)).Post("/reports/{id}/{action}", h.reportAction)
	r.Get("/students/{id}/obligations", h.obligations)
}

func (h *Handler) compliance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	c, err := h.tracker.Compliance(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) complianceList(w http.ResponseWriter, r *http.Request) {
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]int64, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			h.errors.Respond(w, r, fmt.Errorf("%w: invalid lea id %q", httpx.ErrValidation, part))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		h.errors.Respond(w, r, fmt.Errorf("%w: ids required", httpx.ErrValidation))
		return
	}
	out, err := h.tracker.ComplianceFor(r.Context(), ids)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"leas": out})
}

type periodRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Type      string `json:"type" validate:"required,oneof=PROGRESS COMPLETION FINAL"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	DueDate   string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	cycleID, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	var body periodRequest
	if err := h.decode(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	start, _ := time.Parse(time.DateOnly, body.StartDate)
	due, _ := time.Parse(time.DateOnly, body.DueDate)
	p, err := h.tracker.CreatePeriod(r.Context(), reporting.CreatePeriodInput{
		CycleID:   cycleID,
		Name:      body.Name,
		Type:      reporting.ReportType(body.Type),
		StartDate: start,
		DueDate:   due,
	})
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) activatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	p, bound, err := h.tracker.ActivatePeriod(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"period": p, "obligations": bound})
}

func (h *Handler) deactivatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if err := h.tracker.DeactivatePeriod(r.Context(), id); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reportRequest struct {
	StudentID        int64  `json:"student_id" validate:"required,gt=0"`
	PeriodID         int64  `json:"period_id" validate:"gte=0"`
	CompletedProgram bool   `json:"completed_program"`
	CredentialEarned bool   `json:"credential_earned"`
	Employed         bool   `json:"employed"`
	EmployerLEAID    *int64 `json:"employer_lea_id" validate:"omitempty,gt=0"`
	Notes            string `json:"notes" validate:"max=2000"`
}

func (h *Handler) createReport(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	var body reportRequest
	if err := h.decode(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	rep, err := h.tracker.CreateReport(r.Context(), reporting.CreateReportInput{
		StudentID:        body.StudentID,
		PeriodID:         body.PeriodID,
		Actor:            actor,
		CompletedProgram: body.CompletedProgram,
		CredentialEarned: body.CredentialEarned,
		Employed:         body.Employed,
		EmployerLEAID:    body.EmployerLEAID,
		Notes:            body.Notes,
	})
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rep)
}

type actionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) reportAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	action := reporting.ReportAction(chi.URLParam(r, "action"))
	switch action {
	case reporting.ActionSubmit, reporting.ActionApprove, reporting.ActionDeny:
	default:
		h.errors.Respond(w, r, fmt.Errorf("%w: unknown action %q", httpx.ErrNotFound, action))
		return
	}
	var body actionRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &body); err != nil {
			h.errors.Respond(w, r, err)
			return
		}
	}
	rep, err := h.tracker.ApplyReportAction(r.Context(), id, action, actor, body.Note)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) obligations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	obligations, err := h.tracker.Obligations(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	reports, err := h.tracker.Reports(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"obligations": obligations, "reports": reports})
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
