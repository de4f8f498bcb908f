// Package omrerr defines the error taxonomy shared by every stage of the
// grading pipeline.
//
// Each surfaced error carries a Kind and, where it applies, the question (or
// index-digit) numbers it concerns, so a client can give actionable feedback
// such as "rescan question 7". Errors are compared by kind:
//
//	if errors.Is(err, omrerr.ErrNoSchemeYet) {
//	    // return the record unscored
//	}
//
// Per-question ambiguity is never an error; it is resolved to a sentinel
// symbol by the resolver. Only whole-image failures and commit refusals are
// returned to callers. LayoutMismatch and IndexIncomplete are recoverable and
// travel with the answer record as warnings.
package omrerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindImageUnusable    Kind = "image_unusable"
	KindDetectionEmpty   Kind = "detection_empty"
	KindLayoutMismatch   Kind = "layout_mismatch"
	KindIndexIncomplete  Kind = "index_incomplete"
	KindIncompleteScheme Kind = "incomplete_scheme"
	KindNoSchemeYet      Kind = "no_scheme_yet"
	KindServerBusy       Kind = "server_busy"
	KindTimeout          Kind = "timeout"
	KindInvalidInput     Kind = "invalid_input"
	KindLabelMismatch    Kind = "label_mismatch"
	KindUnknown          Kind = "unknown"
)

// Sentinels for errors.Is comparisons. They match any *Error of the same kind.
var (
	ErrImageUnusable    = &Error{Kind: KindImageUnusable}
	ErrDetectionEmpty   = &Error{Kind: KindDetectionEmpty}
	ErrLayoutMismatch   = &Error{Kind: KindLayoutMismatch}
	ErrIndexIncomplete  = &Error{Kind: KindIndexIncomplete}
	ErrIncompleteScheme = &Error{Kind: KindIncompleteScheme}
	ErrNoSchemeYet      = &Error{Kind: KindNoSchemeYet}
	ErrServerBusy       = &Error{Kind: KindServerBusy}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind `json:"kind"`

	// Questions lists the affected question or digit-position numbers,
	// ascending. Empty when the error concerns the whole image.
	Questions []int `json:"questions,omitempty"`

	// Msg is a human-readable description.
	Msg string `json:"message,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithQuestions builds an error of the given kind naming the affected
// questions. The list is copied and sorted.
func WithQuestions(kind Kind, questions []int, format string, args ...interface{}) *Error {
	qs := append([]int(nil), questions...)
	sort.Ints(qs)
	return &Error{Kind: kind, Questions: qs, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Questions) > 0 {
		fmt.Fprintf(&b, " (questions %s)", joinInts(e.Questions))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// QuestionsOf returns the affected questions of the first *Error in err's chain.
func QuestionsOf(err error) []int {
	var e *Error
	if errors.As(err, &e) {
		return e.Questions
	}
	return nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
