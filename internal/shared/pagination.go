package shared

import (
	"net/url"
	"strconv"
)

// Page size limits for listing endpoints.
const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination clamps page and perPage and computes the page count for total.
func NewPagination(page, perPage, total int) Pagination {
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	page = max(page, 1)
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: (total + perPage - 1) / perPage}
}

// PaginationFromQuery reads page and per_page from q. Malformed values fall
// back to the defaults.
func PaginationFromQuery(q url.Values, total int) Pagination {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return NewPagination(page, perPage, total)
}

// Bounds returns the slice bounds of the current page within total items.
func (p Pagination) Bounds() (int, int) {
	start := min((p.Page-1)*p.PerPage, p.Total)
	return start, min(start+p.PerPage, p.Total)
}
