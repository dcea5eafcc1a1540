package common

import (
	"net/http"
	"strconv"
)

// Pagination is the page metadata rendered next to list results.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// PageRequest is a validated page/limit pair taken from the query string.
type PageRequest struct {
	Page    int
	PerPage int
}

// ParsePagination reads ?page= and ?limit=. Missing or invalid values fall
// back to page 1 and defaultPerPage; limit is capped at maxPerPage.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) PageRequest {
	q := r.URL.Query()
	p := PageRequest{Page: 1, PerPage: defaultPerPage}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.PerPage = v
	}
	if maxPerPage > 0 && p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

// Offset is the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Meta builds the response metadata for total matching rows.
func (p PageRequest) Meta(total int) Pagination {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Pagination{Page: p.Page, PerPage: p.PerPage, TotalItems: total, TotalPages: pages}
}
