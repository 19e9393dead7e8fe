// Package refdatahttp exposes the organization directory as a JSON API.
package refdatahttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	"github.com/ctc-stipend/stipend/internal/rbac"
	"github.com/ctc-stipend/stipend/internal/refdata"
	"github.com/ctc-stipend/stipend/internal/shared"
)

// Directory is the reference data surface used by the handler.
type Directory interface {
	refdata.Provider
	CreateContact(ctx context.Context, c refdata.Contact) error
}

// Handler serves reference data.
type Handler struct {
	dir    Directory
	errors *httpx.Mapper
	rbac   rbac.Middleware
}

// NewHandler constructs handler.
func NewHandler(dir Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dir: dir,
		errors: httpx.NewMapper(logger,
			httpx.Rule{Target: grants.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
			httpx.Rule{Target: refdata.ErrInvalidContact, Status: http.StatusUnprocessableEntity, Title: "Invalid Contact"},
		),
		rbac: rbac.Middleware{Logger: logger},
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/organizations", h.organizations)
	r.Get("/organizations/{id}", h.organization)
	r.Get("/organizations/{id}/contacts", h.contacts)
	r.With(h.rbac.RequireAny(shared.PermIntakeEdit, shared.PermCyclesManage)).Post("/organizations/{id}/contacts", h.createContact)
	r.Get("/counties", h.counties)
	r.Get("/districts", h.districts)
	r.Get("/districts/{id}/schools", h.schools)
}

func (h *Handler) organizations(w http.ResponseWriter, r *http.Request) {
	typ := grants.OrgType(strings.ToUpper(r.URL.Query().Get("type")))
	switch typ {
	case grants.OrgIHE, grants.OrgLEA, "":
	default:
		h.errors.Respond(w, r, fmt.Errorf("%w: unknown organization type %q", httpx.ErrValidation, typ))
		return
	}
	orgs, err := h.dir.Organizations(r.Context(), typ)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (h *Handler) organization(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	org, err := h.dir.Organization(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, org)
}

func (h *Handler) contacts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	contacts, err := h.dir.Contacts(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *Handler) createContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if _, err := h.dir.Organization(r.Context(), id); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	var c refdata.Contact
	if err := httpx.DecodeJSON(r, &c); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	c.ID = 0
	c.OrgID = id
	if err := h.dir.CreateContact(r.Context(), c); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) counties(w http.ResponseWriter, r *http.Request) {
	counties, err := h.dir.Counties(r.Context())
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"counties": counties})
}

func (h *Handler) districts(w http.ResponseWriter, r *http.Request) {
	var countyID *int64
	if raw := r.URL.Query().Get("county_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.errors.Respond(w, r, fmt.Errorf("%w: invalid county_id %q", httpx.ErrValidation, raw))
			return
		}
		countyID = &id
	}
	districts, err := h.dir.Districts(r.Context(), countyID)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"districts": districts})
}

func (h *Handler) schools(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	schools, err := h.dir.Schools(r.Context(), id)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"schools": schools})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", httpx.ErrValidation, chi.URLParam(r, "id"))
	}
	return id, nil
}
