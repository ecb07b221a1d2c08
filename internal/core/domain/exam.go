package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Exam Paper Errors
// =============================================================================

var (
	ErrInvalidPaper   = errors.New("exam paper is invalid")
	ErrMissingTitle   = errors.New("exam paper title is required")
	ErrInvalidMarks   = errors.New("exam paper total marks must be positive")
	ErrNoSections     = errors.New("exam paper has no sections")
	ErrEmptySection   = errors.New("exam paper section has no questions")
	ErrSectionKeyName = errors.New("section key must start with " + SectionPrefix)
)

// SectionPrefix starts every section key inside questions_data.
const SectionPrefix = "section_"

// =============================================================================
// Exam Paper
// =============================================================================

// ExamPaper is a generated exam. The JSON layout is the one the model is
// asked to produce and the one clients read back.
type ExamPaper struct {
	ID            string        `json:"id,omitempty"`
	InfrontPage   FrontPage     `json:"infront_page"`
	QuestionsData QuestionsData `json:"questions_data"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
}

// FrontPage is the cover sheet of an exam paper.
type FrontPage struct {
	Title                string `json:"title"`
	Subject              string `json:"subject"`
	TotalMarks           int    `json:"total_marks"`
	ExamTime             string `json:"exam_time"`
	Description          string `json:"description"`
	SecondaryDescription string `json:"secondary_description"`
}

// Section is a titled group of numbered questions.
type Section struct {
	Title     string            `json:"title"`
	Child     int               `json:"child"`
	Questions map[string]string `json:"questions"`
}

// QuestionsData holds the section count and the sections keyed by
// "section_a", "section_b", ... on the wire.
type QuestionsData struct {
	NumOfSection int
	Sections     map[string]Section
}

// MarshalJSON flattens the sections next to num_of_section.
func (q QuestionsData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(q.Sections)+1)
	out["num_of_section"] = q.NumOfSection
	for key, section := range q.Sections {
		out[key] = section
	}
	return json.Marshal(out)
}

// UnmarshalJSON collects every section_* key. Other keys are ignored.
func (q *QuestionsData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	q.NumOfSection = 0
	q.Sections = make(map[string]Section)
	for key, value := range raw {
		switch {
		case key == "num_of_section":
			if err := json.Unmarshal(value, &q.NumOfSection); err != nil {
				return fmt.Errorf("num_of_section: %w", err)
			}
		case strings.HasPrefix(key, SectionPrefix):
			var s Section
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			q.Sections[key] = s
		}
	}
	return nil
}

// SectionKeys returns the section keys in order.
func (q QuestionsData) SectionKeys() []string {
	keys := make([]string, 0, len(q.Sections))
	for k := range q.Sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// QuestionCount returns the total number of questions across sections.
func (q QuestionsData) QuestionCount() int {
	n := 0
	for _, s := range q.Sections {
		n += len(s.Questions)
	}
	return n
}

// Validate checks the fields a client needs to render the paper.
func (p ExamPaper) Validate() error {
	if strings.TrimSpace(p.InfrontPage.Title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPaper, ErrMissingTitle)
	}
	if p.InfrontPage.TotalMarks <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPaper, ErrInvalidMarks)
	}
	if len(p.QuestionsData.Sections) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPaper, ErrNoSections)
	}
	for _, key := range p.QuestionsData.SectionKeys() {
		if !strings.HasPrefix(key, SectionPrefix) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidPaper, ErrSectionKeyName, key)
		}
		if len(p.QuestionsData.Sections[key].Questions) == 0 {
			return fmt.Errorf("%w: %w: %s", ErrInvalidPaper, ErrEmptySection, key)
		}
	}
	return nil
}

// Warnings reports count mismatches that do not make the paper unusable.
func (p ExamPaper) Warnings() []string {
	var warnings []string
	if n := len(p.QuestionsData.Sections); p.QuestionsData.NumOfSection != n {
		warnings = append(warnings, fmt.Sprintf("num_of_section is %d but %d sections present", p.QuestionsData.NumOfSection, n))
	}
	for _, key := range p.QuestionsData.SectionKeys() {
		s := p.QuestionsData.Sections[key]
		if s.Child != len(s.Questions) {
			warnings = append(warnings, fmt.Sprintf("%s.child is %d but %d questions present", key, s.Child, len(s.Questions)))
		}
	}
	return warnings
}

// =============================================================================
// User
// =============================================================================

// User is a client record holding the exam paper it was created with.
type User struct {
	ID        string    `json:"id"`
	GenInfo   ExamPaper `json:"gen_info"`
	CreatedAt time.Time `json:"created_at"`
}
