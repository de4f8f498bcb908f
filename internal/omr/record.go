package omr

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// IndexStatus is "complete" when a numeric index was extracted.
type IndexStatus string

const (
	IndexComplete   IndexStatus = "complete"
	IndexIncomplete IndexStatus = "incomplete"
)

// Warning is a non-fatal problem attached to a record.
type Warning struct {
	Kind      omrerr.Kind `json:"kind"`
	Questions []int       `json:"questions,omitempty"`

	// Positions lists index-number digit positions for index-grid warnings.
	Positions []int  `json:"positions,omitempty"`
	Message   string `json:"message"`
}

// WarningFrom converts a classified error into a warning.
func WarningFrom(err error) Warning {
	w := Warning{Kind: omrerr.KindOf(err), Message: err.Error()}
	var e *omrerr.Error
	if errors.As(err, &e) {
		w.Questions = append([]int(nil), e.Questions...)
		if e.Msg != "" {
			w.Message = e.Msg
		}
	}
	return w
}

// indexWarning is WarningFrom for index-grid errors, whose numbers are digit
// positions rather than questions.
func indexWarning(err error) Warning {
	w := WarningFrom(err)
	w.Positions, w.Questions = w.Questions, nil
	return w
}

// AnswerRecord is the structured reading of one sheet. It is never mutated
// after Read returns; a resubmission produces a new record.
type AnswerRecord struct {
	ID        uuid.UUID `json:"id"`
	TestID    string    `json:"test_id"`
	Questions int       `json:"questions"`

	// Answers holds one symbol per question 1..Questions.
	Answers map[int]Symbol `json:"answers"`

	IndexNumber string      `json:"index_number,omitempty"`
	IndexRaw    string      `json:"index_raw"`
	IndexStatus IndexStatus `json:"index_status"`

	// SheetLabel is the printed label read by OCR, when enabled.
	SheetLabel string `json:"sheet_label,omitempty"`

	Warnings  []Warning `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer returns the symbol for question q, Blank when absent.
func (r *AnswerRecord) Answer(q int) Symbol {
	if s, ok := r.Answers[q]; ok {
		return s
	}
	return Blank
}

// AnswerList returns the answers for 1..Questions in order.
func (r *AnswerRecord) AnswerList() []Symbol {
	out := make([]Symbol, r.Questions)
	for q := 1; q <= r.Questions; q++ {
		out[q-1] = r.Answer(q)
	}
	return out
}

// HasWarning reports whether a warning of the given kind is attached.
func (r *AnswerRecord) HasWarning(kind omrerr.Kind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Read resolves an assembled sheet into a new record. Layout mismatches and
// an unresolved index are attached as warnings; the record is always
// produced.
func (r *Resolver) Read(sheet *grid.Sheet, testID string) *AnswerRecord {
	rec := &AnswerRecord{
		ID:        uuid.New(),
		TestID:    testID,
		Questions: len(sheet.Answers.Rows),
		Answers:   r.ResolveAnswers(&sheet.Answers),
		CreatedAt: time.Now().UTC(),
	}

	if err := sheet.Answers.Err(); err != nil {
		rec.Warnings = append(rec.Warnings, WarningFrom(err))
	}
	if err := sheet.Index.Err(); err != nil {
		rec.Warnings = append(rec.Warnings, indexWarning(err))
	}

	idx, err := r.ExtractIndex(&sheet.Index)
	rec.IndexRaw = idx.Raw
	rec.IndexNumber = idx.Number
	if err != nil {
		rec.IndexStatus = IndexIncomplete
		rec.Warnings = append(rec.Warnings, indexWarning(err))
	} else {
		rec.IndexStatus = IndexComplete
	}
	return rec
}
