package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Category of a problem statement.
type Category string

const (
	CategoryMajor    Category = "Major"
	CategoryMinor    Category = "Minor"
	CategoryCapstone Category = "Capstone"
)

// Categories lists every accepted category.
var Categories = []Category{CategoryMajor, CategoryMinor, CategoryCapstone}

// Difficulty of a problem statement.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
)

// Difficulties lists every accepted difficulty.
var Difficulties = []Difficulty{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced}

// Status is the publication status of a problem statement.
type Status string

const (
	StatusActive   Status = "Active"
	StatusDraft    Status = "Draft"
	StatusArchived Status = "Archived"
)

// Statuses lists every accepted status.
var Statuses = []Status{StatusActive, StatusDraft, StatusArchived}

// Domains is the fixed set of subject domains a problem statement may belong to.
var Domains = []string{
	"Web Development",
	"Mobile Development",
	"Data Science",
	"Machine Learning",
	"Artificial Intelligence",
	"Cloud Computing",
	"Cybersecurity",
	"Blockchain",
	"IoT",
	"DevOps",
	"Game Development",
	"AR/VR",
	"Embedded Systems",
	"Networking",
	"Other",
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

func (d Difficulty) Valid() bool {
	for _, v := range Difficulties {
		if d == v {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ValidDomain reports whether domain is a member of Domains.
func ValidDomain(domain string) bool {
	for _, v := range Domains {
		if domain == v {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name in any letter case.
func ParseStatus(s string) (Status, error) {
	for _, v := range Statuses {
		if strings.EqualFold(s, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid status %q (expected one of Active, Draft, Archived)", s)
}

// ProblemStatement is one project brief record.
type ProblemStatement struct {
	ID               string     `json:"id" yaml:"id,omitempty"`
	Code             string     `json:"problemId,omitempty" yaml:"problemId,omitempty"`
	Title            string     `json:"title" yaml:"title"`
	Abstract         string     `json:"abstract" yaml:"abstract"`
	Domain           string     `json:"domain" yaml:"domain"`
	Category         Category   `json:"category" yaml:"category"`
	Difficulty       Difficulty `json:"difficulty" yaml:"difficulty"`
	Duration         string     `json:"duration" yaml:"duration"`
	Technologies     []string   `json:"technologies" yaml:"technologies"`
	Deliverables     []string   `json:"deliverables" yaml:"deliverables"`
	Prerequisites    []string   `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	LearningOutcomes []string   `json:"learningOutcomes,omitempty" yaml:"learningOutcomes,omitempty"`
	Tags             []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Status           Status     `json:"status,omitempty" yaml:"status,omitempty"`
	Featured         bool       `json:"featured" yaml:"featured"`
	ViewCount        int        `json:"viewCount" yaml:"-"`
	CreatedBy        string     `json:"createdBy,omitempty" yaml:"-"`
	CreatedAt        time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt        time.Time  `json:"updatedAt" yaml:"-"`
}

// UnmarshalJSON accepts documents keyed by either "id" or "_id".
func (p *ProblemStatement) UnmarshalJSON(data []byte) error {
	type plain ProblemStatement
	var doc struct {
		plain
		DocumentID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*p = ProblemStatement(doc.plain)
	if p.ID == "" {
		p.ID = doc.DocumentID
	}
	return nil
}

// ProblemUpdate carries the fields of a partial update. Nil fields are left
// untouched by the server.
type ProblemUpdate struct {
	Title            *string     `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract         *string     `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Domain           *string     `json:"domain,omitempty" yaml:"domain,omitempty"`
	Category         *Category   `json:"category,omitempty" yaml:"category,omitempty"`
	Difficulty       *Difficulty `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Duration         *string     `json:"duration,omitempty" yaml:"duration,omitempty"`
	Technologies     []string    `json:"technologies,omitempty" yaml:"technologies,omitempty"`
	Deliverables     []string    `json:"deliverables,omitempty" yaml:"deliverables,omitempty"`
	Prerequisites    []string    `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	LearningOutcomes []string    `json:"learningOutcomes,omitempty" yaml:"learningOutcomes,omitempty"`
	Tags             []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Status           *Status     `json:"status,omitempty" yaml:"status,omitempty"`
	Featured         *bool       `json:"featured,omitempty" yaml:"featured,omitempty"`
}
