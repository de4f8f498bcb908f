package omr

import (
	"github.com/google/uuid"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// GradingResult is the score of one record against one scheme version.
type GradingResult struct {
	RecordID      uuid.UUID    `json:"record_id"`
	TestID        string       `json:"test_id"`
	Score         int          `json:"score"`
	OutOf         int          `json:"out_of"`
	Correct       map[int]bool `json:"per_question_correct"`
	IndexNumber   string       `json:"index_number,omitempty"`
	SchemeVersion int          `json:"scheme_version"`
}

// Correctness returns per-question correctness for 1..OutOf in order.
func (g *GradingResult) Correctness() []bool {
	out := make([]bool, g.OutOf)
	for q := 1; q <= g.OutOf; q++ {
		out[q-1] = g.Correct[q]
	}
	return out
}

// Grade scores rec against scheme. A question is correct only on an exact
// letter match; Blank and Ambiguous are always incorrect. Grade has no side
// effects, so grading the same pair twice yields equal results.
func Grade(rec *AnswerRecord, scheme *MarkScheme) (*GradingResult, error) {
	if scheme == nil {
		return nil, omrerr.New(omrerr.KindNoSchemeYet, "test %q has no committed mark scheme", rec.TestID)
	}

	res := &GradingResult{
		RecordID:      rec.ID,
		TestID:        rec.TestID,
		OutOf:         scheme.Questions,
		Correct:       make(map[int]bool, scheme.Questions),
		IndexNumber:   rec.IndexNumber,
		SchemeVersion: scheme.Version,
	}
	for q := 1; q <= scheme.Questions; q++ {
		got := rec.Answer(q)
		ok := got.IsLetter() && got == scheme.Answer(q)
		res.Correct[q] = ok
		if ok {
			res.Score++
		}
	}
	return res, nil
}
