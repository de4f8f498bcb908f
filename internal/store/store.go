// Package store persists mark schemes and graded scripts.
//
// Two implementations are provided: Memory for single-process use and tests,
// and Postgres for deployments with OMR_DATABASE_URL set. Both replace a
// test's scheme atomically and assign it the next version number.
package store

import (
	"context"
	"errors"

	"github.com/ironsheep/omr-grader-mcp/internal/omr"
)

// ErrNotFound is returned when a test has no committed scheme.
var ErrNotFound = errors.New("not found")

// Script is a stored answer record with its latest grading, if any.
type Script struct {
	Record *omr.AnswerRecord  `json:"record"`
	Result *omr.GradingResult `json:"result,omitempty"`
}

// Store is the persistence boundary of the grading pipeline.
type Store interface {
	// GetScheme returns the committed scheme of a test, or ErrNotFound.
	GetScheme(ctx context.Context, testID string) (*omr.MarkScheme, error)

	// SaveScheme validates and commits s as the test's scheme, replacing any
	// previous one in a single step. It returns the new version.
	SaveScheme(ctx context.Context, s *omr.MarkScheme) (int, error)

	// SaveScript stores a record and its grading (nil when the test had no
	// scheme). Saving the same record again replaces its grading. A record
	// with a complete index number replaces the older script of the same
	// student, so a rescan never lists a student twice; saving a record older
	// than the one it would replace is a no-op.
	SaveScript(ctx context.Context, rec *omr.AnswerRecord, res *omr.GradingResult) error

	// ListScripts returns a test's scripts in submission order.
	ListScripts(ctx context.Context, testID string) ([]Script, error)

	Close() error
}

// studentIndex is the key a script is deduplicated on: the index number when
// it was read completely, otherwise empty.
func studentIndex(rec *omr.AnswerRecord) string {
	if rec == nil || rec.IndexStatus != omr.IndexComplete {
		return ""
	}
	return rec.IndexNumber
}
