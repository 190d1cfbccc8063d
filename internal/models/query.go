package models

import (
	"net/url"
	"strconv"
)

// Filters are the query parameters of GET /problems. Zero values are omitted.
type Filters struct {
	Search     string
	Domain     string
	Category   Category
	Difficulty Difficulty
	Status     Status
	Featured   *bool
	Page       int
	Limit      int
}

// Values encodes the filters as query parameters.
func (f Filters) Values() url.Values {
	v := url.Values{}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	if f.Domain != "" {
		v.Set("domain", f.Domain)
	}
	if f.Category != "" {
		v.Set("category", string(f.Category))
	}
	if f.Difficulty != "" {
		v.Set("difficulty", string(f.Difficulty))
	}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Featured != nil {
		v.Set("featured", strconv.FormatBool(*f.Featured))
	}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// Page is one page of GET /problems results.
type Page struct {
	Data  []ProblemStatement `json:"data"`
	Page  int                `json:"page"`
	Pages int                `json:"pages"`
	Total int                `json:"total"`
}

// DomainCount is one bucket of the by-domain distribution.
type DomainCount struct {
	Domain string `json:"_id"`
	Count  int    `json:"count"`
}

// DifficultyCount is one bucket of the by-difficulty distribution.
type DifficultyCount struct {
	Difficulty Difficulty `json:"_id"`
	Count      int        `json:"count"`
}

// Stats is the aggregate returned by GET /problems/stats.
type Stats struct {
	Total        int               `json:"total"`
	Active       int               `json:"active"`
	Draft        int               `json:"draft"`
	Archived     int               `json:"archived"`
	Featured     int               `json:"featured"`
	TotalViews   int               `json:"totalViews"`
	ByDomain     []DomainCount     `json:"byDomain"`
	ByDifficulty []DifficultyCount `json:"byDifficulty"`
}

// RowError describes one CSV row rejected by the server.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BulkUploadResult reports the outcome of a CSV import. A result with
// Failed > 0 is still a successful call.
type BulkUploadResult struct {
	Success  bool       `json:"success"`
	Message  string     `json:"message"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

// PartiallyFailed reports whether some rows were rejected.
func (r *BulkUploadResult) PartiallyFailed() bool {
	return r.Failed > 0 || len(r.Errors) > 0
}
