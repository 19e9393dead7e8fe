// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Sentinel errors for the HTTP edge.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Rule maps every error matching Target (errors.Is) to a problem response.
type Rule struct {
	Target error
	Status int
	Title  string
}

var baseRules = []Rule{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
}

// Mapper translates domain errors to RFC7807 responses. Rules are checked in
// order; the first match wins.
type Mapper struct {
	rules  []Rule
	logger *slog.Logger
}

// NewMapper builds a Mapper from rules followed by the base HTTP rules.
func NewMapper(logger *slog.Logger, rules ...Rule) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	all := make([]Rule, 0, len(rules)+len(baseRules))
	all = append(all, rules...)
	all = append(all, baseRules...)
	return &Mapper{rules: all, logger: logger}
}

// Status returns the status code and title err maps to.
func (m *Mapper) Status(err error) (int, string) {
	for _, rule := range m.rules {
		if errors.Is(err, rule.Target) {
			return rule.Status, rule.Title
		}
	}
	return http.StatusInternalServerError, "Internal Error"
}

// Respond writes the problem for err. Unmapped errors are logged and their
// detail is withheld from the client.
func (m *Mapper) Respond(w http.ResponseWriter, r *http.Request, err error) {
	status, title := m.Status(err)
	if status == http.StatusInternalServerError {
		m.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		Problem(w, r, status, title, "")
		return
	}
	Problem(w, r, status, title, err.Error())
}

var defaultMapper = NewMapper(nil)

// RespondError maps the base HTTP errors to responses using RFC7807.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	defaultMapper.Respond(w, r, err)
}
