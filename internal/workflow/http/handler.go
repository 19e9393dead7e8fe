// Package workflowhttp exposes student transitions, budget ledgers and the
// signing callback endpoint as a JSON API.
package workflowhttp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/ledger"
	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	"github.com/ctc-stipend/stipend/internal/rbac"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/signing"
	"github.com/ctc-stipend/stipend/internal/status"
	"github.com/ctc-stipend/stipend/internal/workflow"
	"github.com/ctc-stipend/stipend/jobs"
)

// Transitioner applies transitions.
type Transitioner interface {
	AttemptTransition(ctx context.Context, req workflow.TransitionRequest) (grants.Student, error)
}

// Students reads students and their history.
type Students interface {
	LoadStudent(ctx context.Context, id int64) (grants.Student, error)
	History(ctx context.Context, studentID int64) ([]grants.TransitionEvent, error)
}

// Ledgers computes cycle budget positions.
type Ledgers interface {
	CycleLedger(ctx context.Context, cycleID int64) (ledger.Ledger, error)
}

// EventQueue hands signing callbacks to the worker.
type EventQueue interface {
	EnqueueSigningEvent(ctx context.Context, evt signing.Event) error
}

// Idempotency deduplicates webhook deliveries.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Deps groups handler dependencies.
type Deps struct {
	Engine      Transitioner
	Students    Students
	Ledgers     Ledgers
	Events      EventQueue
	Idempotency Idempotency
	// WebhookToken is the bearer token the signing service presents on
	// callbacks. Empty disables the check.
	WebhookToken string
	Logger       *slog.Logger
}

// ErrWebhookUnauthorized reports a signing callback without the shared token.
var ErrWebhookUnauthorized = errors.New("signing webhook token missing or invalid")

// Handler wires the workflow endpoints.
type Handler struct {
	deps     Deps
	errors   *httpx.Mapper
	validate *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps, errors: NewErrorMapper(deps.Logger), validate: validator.New()}
}

// NewErrorMapper maps workflow, grants and signing errors to problem responses.
func NewErrorMapper(logger *slog.Logger) *httpx.Mapper {
	return httpx.NewMapper(logger,
		httpx.Rule{Target: shared.ErrActorMissing, Status: http.StatusUnauthorized, Title: "Actor Required"},
		httpx.Rule{Target: ErrWebhookUnauthorized, Status: http.StatusUnauthorized, Title: "Webhook Unauthorized"},
		httpx.Rule{Target: workflow.ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
		httpx.Rule{Target: workflow.ErrUnauthorizedRole, Status: http.StatusForbidden, Title: "Role Not Authorized"},
		httpx.Rule{Target: workflow.ErrAwardIntegrityViolation, Status: http.StatusUnprocessableEntity, Title: "Award Integrity Violation"},
		httpx.Rule{Target: workflow.ErrPaymentHold, Status: http.StatusLocked, Title: "Payment Hold"},
		httpx.Rule{Target: workflow.ErrBudgetOverCommitment, Status: http.StatusConflict, Title: "Budget Over-Commitment"},
		httpx.Rule{Target: workflow.ErrConcurrentModification, Status: http.StatusConflict, Title: "Concurrent Modification"},
		httpx.Rule{Target: grants.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
		httpx.Rule{Target: grants.ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
		httpx.Rule{Target: grants.ErrAwardInvariant, Status: http.StatusUnprocessableEntity, Title: "Award Integrity Violation"},
		httpx.Rule{Target: signing.ErrInvalidEvent, Status: http.StatusUnprocessableEntity, Title: "Invalid Signing Event"},
	)
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{id}", h.showStudent)
	r.Post("/students/{id}/transitions", h.transition)
	r.Get("/students/{id}/history", h.history)
	r.With(rbac.Middleware{Logger: h.deps.Logger}.RequireAny(shared.PermLedgerView)).Get("/cycles/{id}/ledger", h.cycleLedger)
	r.With(h.requireWebhookToken).Post("/signing/events", h.signingEvent)
}

func (h *Handler) requireWebhookToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.WebhookToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.deps.WebhookToken)) != 1 {
				h.deps.Logger.WarnContext(r.Context(), "signing callback rejected", slog.String("remote_addr", r.RemoteAddr))
				h.errors.Respond(w, r, ErrWebhookUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type studentView struct {
	grants.Student
	Label string          `json:"label"`
	Stage status.Stage    `json:"stage"`
	Next  []status.Status `json:"next"`
}

func newStudentView(st grants.Student) studentView {
	last := st.LastActionAt
	return studentView{
		Student: st,
		Label:   status.DisplayLabel(st.Status, &last),
		Stage:   status.StageOf(st.Status),
		Next:    workflow.NextFor(st),
	}
}

func (h *Handler) showStudent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	st, err := h.deps.Students.LoadStudent(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStudentView(st))
}

type transitionRequest struct {
	To             string  `json:"to" validate:"required"`
	Override       bool    `json:"override"`
	RevisionOrigin string  `json:"revision_origin" validate:"omitempty,oneof=LEA CTC"`
	AwardAmount    *string `json:"award_amount" validate:"omitempty,numeric"`
	Note           string  `json:"note" validate:"max=500"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
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
	var body transitionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.errors.Respond(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	to := status.Status(body.To)
	if !to.Valid() {
		h.errors.Respond(w, r, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, body.To))
		return
	}
	req := workflow.TransitionRequest{
		StudentID:      id,
		To:             to,
		Actor:          actor,
		Override:       body.Override,
		RevisionOrigin: status.RevisionOrigin(body.RevisionOrigin),
		Note:           body.Note,
	}
	if body.AwardAmount != nil {
		amount, err := decimal.NewFromString(*body.AwardAmount)
		if err != nil {
			h.errors.Respond(w, r, fmt.Errorf("%w: award_amount: %v", httpx.ErrValidation, err))
			return
		}
		req.AwardAmount = &amount
	}
	st, err := h.deps.Engine.AttemptTransition(r.Context(), req)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStudentView(st))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	events, err := h.deps.Students.History(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	pagination := shared.PaginationFromQuery(r.URL.Query(), len(events))
	start, end := pagination.Bounds()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"events":     events[start:end],
		"pagination": pagination,
	})
}

type ledgerView struct {
	ledger.Ledger
	Display map[string]string `json:"display"`
}

func (h *Handler) cycleLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	l, err := h.deps.Ledgers.CycleLedger(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgerView{
		Ledger: l,
		Display: map[string]string{
			"appropriated": ledger.FormatUSD(l.Appropriated),
			"reserved":     ledger.FormatUSD(l.Reserved),
			"encumbered":   ledger.FormatUSD(l.Encumbered),
			"disbursed":    ledger.FormatUSD(l.Disbursed),
			"remaining":    ledger.FormatUSD(l.Remaining),
		},
	})
}

const idempotencyModule = "signing"

func (h *Handler) signingEvent(w http.ResponseWriter, r *http.Request) {
	var evt signing.Event
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if err := h.validate.Struct(evt); err != nil {
		h.errors.Respond(w, r, fmt.Errorf("%w: %v", signing.ErrInvalidEvent, err))
		return
	}
	if err := evt.Validate(); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	ctx := r.Context()
	if h.deps.Idempotency != nil {
		if err := h.deps.Idempotency.CheckAndInsert(ctx, evt.ID, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				return
			}
			h.errors.Respond(w, r, err)
			return
		}
	}
	if err := h.deps.Events.EnqueueSigningEvent(ctx, evt); err != nil {
		if errors.Is(err, jobs.ErrDuplicateEvent) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		if h.deps.Idempotency != nil {
			if derr := h.deps.Idempotency.Delete(ctx, evt.ID); derr != nil {
				h.deps.Logger.WarnContext(ctx, "release idempotency key", slog.String("event_id", evt.ID), slog.Any("error", derr))
			}
		}
		h.deps.Logger.ErrorContext(ctx, "enqueue signing event", slog.String("event_id", evt.ID), slog.Any("error", err))
		httpx.Problem(w, r, http.StatusServiceUnavailable, "Queue Unavailable", "signing event not accepted, retry later")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", httpx.ErrValidation, chi.URLParam(r, "id"))
	}
	return id, nil
}
