package omr

import (
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// MarkScheme is the committed answer key of a test. Version is assigned by
// the store on commit and increases by one per commit.
type MarkScheme struct {
	TestID    string         `json:"test_id"`
	Questions int            `json:"questions"`
	Answers   map[int]Symbol `json:"answers"`
	Version   int            `json:"version"`

	// SourceRecord is the key-sheet record the scheme was built from.
	SourceRecord uuid.UUID `json:"source_record"`
	CreatedAt    time.Time `json:"created_at"`
}

// Answer returns the key for question q, Blank when absent.
func (s *MarkScheme) Answer(q int) Symbol {
	if a, ok := s.Answers[q]; ok {
		return a
	}
	return Blank
}

// Validate checks that every question 1..Questions has a single letter.
// The error is IncompleteScheme listing every offending question.
func (s *MarkScheme) Validate() error {
	if s.Questions < 1 {
		return omrerr.New(omrerr.KindInvalidInput, "scheme for %q has no questions", s.TestID)
	}
	var bad []int
	for q := 1; q <= s.Questions; q++ {
		if !s.Answer(q).IsLetter() {
			bad = append(bad, q)
		}
	}
	if len(bad) > 0 {
		return omrerr.WithQuestions(omrerr.KindIncompleteScheme, bad,
			"key sheet for %q must have exactly one shaded option per question", s.TestID)
	}
	return nil
}

// BuildScheme derives a scheme from a key-sheet record. Nothing is committed
// here; on error the caller must leave any stored scheme untouched.
func BuildScheme(rec *AnswerRecord) (*MarkScheme, error) {
	s := &MarkScheme{
		TestID:       rec.TestID,
		Questions:    rec.Questions,
		Answers:      make(map[int]Symbol, rec.Questions),
		SourceRecord: rec.ID,
		CreatedAt:    time.Now().UTC(),
	}
	for q := 1; q <= rec.Questions; q++ {
		s.Answers[q] = rec.Answer(q)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
