package problems

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/wolfeidau/psadmin/internal/models"
)

// Field limits enforced before a record is sent.
const (
	TitleMinLen    = 5
	TitleMaxLen    = 200
	AbstractMinLen = 50
	AbstractMaxLen = 5000
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotCSV is returned when a bulk upload is not a CSV file.
	ErrNotCSV = errors.New("only CSV files are accepted")
)

// FieldError is one rejected field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists the fields that failed client-side validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Field returns the message for field, if it failed.
func (e *ValidationError) Field(field string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message, true
		}
	}
	return "", false
}

type validator struct {
	fields []FieldError
}

func (v *validator) add(field, format string, args ...any) {
	v.fields = append(v.fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) length(field, value string, lo, hi int) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < lo || n > hi {
		v.add(field, "must be between %d and %d characters", lo, hi)
	}
}

func (v *validator) nonEmptyList(field string, values []string) {
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			return
		}
	}
	v.add(field, "at least one entry is required")
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// ValidateProblem checks a record about to be created.
func ValidateProblem(p *models.ProblemStatement) error {
	if p == nil {
		return &ValidationError{Fields: []FieldError{{Field: "problem", Message: "is required"}}}
	}

	v := &validator{}
	v.length("title", p.Title, TitleMinLen, TitleMaxLen)
	v.length("abstract", p.Abstract, AbstractMinLen, AbstractMaxLen)
	if !models.ValidDomain(p.Domain) {
		v.add("domain", "must be one of the supported domains")
	}
	if !p.Category.Valid() {
		v.add("category", "must be one of Major, Minor, Capstone")
	}
	if !p.Difficulty.Valid() {
		v.add("difficulty", "must be one of Beginner, Intermediate, Advanced")
	}
	if strings.TrimSpace(p.Duration) == "" {
		v.add("duration", "is required")
	}
	v.nonEmptyList("technologies", p.Technologies)
	v.nonEmptyList("deliverables", p.Deliverables)
	if p.Status != "" && !p.Status.Valid() {
		v.add("status", "must be one of Active, Draft, Archived")
	}

	return v.err()
}

// ValidateUpdate checks only the fields present in a partial update.
func ValidateUpdate(u models.ProblemUpdate) error {
	v := &validator{}
	if u.Title != nil {
		v.length("title", *u.Title, TitleMinLen, TitleMaxLen)
	}
	if u.Abstract != nil {
		v.length("abstract", *u.Abstract, AbstractMinLen, AbstractMaxLen)
	}
	if u.Domain != nil && !models.ValidDomain(*u.Domain) {
		v.add("domain", "must be one of the supported domains")
	}
	if u.Category != nil && !u.Category.Valid() {
		v.add("category", "must be one of Major, Minor, Capstone")
	}
	if u.Difficulty != nil && !u.Difficulty.Valid() {
		v.add("difficulty", "must be one of Beginner, Intermediate, Advanced")
	}
	if u.Duration != nil && strings.TrimSpace(*u.Duration) == "" {
		v.add("duration", "is required")
	}
	if u.Technologies != nil {
		v.nonEmptyList("technologies", u.Technologies)
	}
	if u.Deliverables != nil {
		v.nonEmptyList("deliverables", u.Deliverables)
	}
	if u.Status != nil && !u.Status.Valid() {
		v.add("status", "must be one of Active, Draft, Archived")
	}
	return v.err()
}

var csvMediaTypes = map[string]bool{
	"text/csv":                    true,
	"application/csv":             true,
	"text/comma-separated-values": true,
}

// IsCSV reports whether a file looks like CSV by extension or declared type.
func IsCSV(filename, contentType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return true
	}
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return csvMediaTypes[strings.ToLower(mediaType)]
}
