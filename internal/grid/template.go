package grid

import (
	"fmt"
	"image"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// Pad trims a zone box by fractions of its own width and height.
type Pad struct {
	Left, Top, Right, Bottom float64
}

func (p Pad) apply(b detection.Box) detection.Box {
	w, h := b.Width(), b.Height()
	return detection.Box{
		X1: b.X1 + w*p.Left,
		Y1: b.Y1 + h*p.Top,
		X2: b.X2 - w*p.Right,
		Y2: b.Y2 - h*p.Bottom,
	}
}

// Span is a [Start, End) interval as fractions of a parent extent.
type Span struct {
	Start, End float64
}

// Template is the printed geometry of an answer sheet.
//
// Areas are fractions of the sheet content rectangle and describe the outer
// zone boundary, i.e. what a zone detector would box. The pads trim that
// boundary down to the bubble grid itself.
type Template struct {
	IndexArea detection.Box
	IndexPad  Pad

	// IndexDigits is the number of printed digit positions.
	IndexDigits int

	// IndexValues is the number of digit values per position (10).
	IndexValues int

	// IndexTransposed is set when digit positions run left to right and digit
	// values top to bottom.
	IndexTransposed bool

	AnswerArea detection.Box
	AnswerPad  Pad

	// Blocks are the answer columns as fractions of the padded answer width.
	Blocks []Span

	RowsPerBlock int

	// RowsPerGroup questions are printed together, separated by GroupGap
	// (a fraction of the block height). Zero disables grouping.
	RowsPerGroup int
	GroupGap     float64

	// Options is the number of choices per question (A, B, ...).
	Options int
}

// DefaultTemplate returns the geometry of the standard 200-question sheet:
// a 7-digit index block and five answer blocks of 40 questions in groups of
// five, options A to E.
func DefaultTemplate() Template {
	return Template{
		IndexArea:       detection.Box{X1: 0.06, Y1: 0.04, X2: 0.52, Y2: 0.30},
		IndexPad:        Pad{Left: 0.05, Top: 0.095, Right: 0.05, Bottom: 0.08},
		IndexDigits:     7,
		IndexValues:     10,
		IndexTransposed: true,

		AnswerArea: detection.Box{X1: 0.04, Y1: 0.33, X2: 0.96, Y2: 0.97},
		AnswerPad:  Pad{Left: 0.05, Top: 0.04, Right: 0.04, Bottom: 0.04},
		Blocks: []Span{
			{35.0 / 965, 175.0 / 965},
			{235.0 / 965, 375.0 / 965},
			{435.0 / 965, 570.0 / 965},
			{635.0 / 965, 770.0 / 965},
			{830.0 / 965, 965.0 / 965},
		},
		RowsPerBlock: 40,
		RowsPerGroup: 5,
		GroupGap:     0.022,
		Options:      5,
	}
}

// Capacity is the number of printed questions.
func (t Template) Capacity() int { return len(t.Blocks) * t.RowsPerBlock }

// Layout is the expected geometry for one test.
type Layout struct {
	// Questions is the configured question count N.
	Questions int

	// Digits is the configured index-number length K.
	Digits int

	Template Template
}

// NewLayout returns a layout on the default template.
func NewLayout(questions, digits int) Layout {
	return Layout{Questions: questions, Digits: digits, Template: DefaultTemplate()}
}

// Validate checks the configured counts against the template.
func (l Layout) Validate() error {
	t := l.Template
	switch {
	case l.Questions < 1:
		return omrerr.New(omrerr.KindInvalidInput, "question count must be at least 1")
	case l.Questions > t.Capacity():
		return omrerr.New(omrerr.KindInvalidInput,
			"question count %d exceeds the sheet's %d printed questions", l.Questions, t.Capacity())
	case l.Digits < 1:
		return omrerr.New(omrerr.KindInvalidInput, "index digit count must be at least 1")
	case l.Digits > t.IndexDigits:
		return omrerr.New(omrerr.KindInvalidInput,
			"index digit count %d exceeds the sheet's %d printed positions", l.Digits, t.IndexDigits)
	case t.Options < 1 || t.Options > 26:
		return omrerr.New(omrerr.KindInvalidInput, "option count %d out of range", t.Options)
	case t.IndexValues < 1 || t.IndexValues > 10:
		return omrerr.New(omrerr.KindInvalidInput, "digit value count %d out of range", t.IndexValues)
	}
	for i, b := range t.Blocks {
		if b.Start < 0 || b.End > 1 || b.End <= b.Start {
			return omrerr.New(omrerr.KindInvalidInput, "answer block %d has invalid span", i+1)
		}
	}
	return nil
}

// Zones places the index zone and answer-block zones on the sheet.
//
// A detected ClassIndexZone or ClassAnswerZone box (highest confidence wins)
// overrides the template area for that zone; the template pads apply either
// way. content is the photograph's rectangle inside the normalized image.
func (l Layout) Zones(content image.Rectangle, marks []detection.Mark) []Zone {
	t := l.Template

	indexBox := pickZoneBox(marks, detection.ClassIndexZone, scaleBox(t.IndexArea, content))
	answerBox := pickZoneBox(marks, detection.ClassAnswerZone, scaleBox(t.AnswerArea, content))

	zones := make([]Zone, 0, 1+len(t.Blocks))
	zones = append(zones, Zone{
		Kind:       KindIndex,
		Name:       "index",
		Bounds:     t.IndexPad.apply(indexBox),
		Rows:       t.IndexDigits,
		Cols:       t.IndexValues,
		FirstRow:   1,
		Transposed: t.IndexTransposed,
	})

	inner := t.AnswerPad.apply(answerBox)
	w := inner.Width()
	for i, b := range t.Blocks {
		zones = append(zones, Zone{
			Kind: KindAnswers,
			Name: fmt.Sprintf("block %d", i+1),
			Bounds: detection.Box{
				X1: inner.X1 + w*b.Start,
				Y1: inner.Y1,
				X2: inner.X1 + w*b.End,
				Y2: inner.Y2,
			},
			Rows:         t.RowsPerBlock,
			Cols:         t.Options,
			FirstRow:     i*t.RowsPerBlock + 1,
			RowsPerGroup: t.RowsPerGroup,
			GroupGap:     t.GroupGap,
		})
	}
	return zones
}

func scaleBox(frac detection.Box, content image.Rectangle) detection.Box {
	w, h := float64(content.Dx()), float64(content.Dy())
	ox, oy := float64(content.Min.X), float64(content.Min.Y)
	return detection.Box{
		X1: ox + frac.X1*w,
		Y1: oy + frac.Y1*h,
		X2: ox + frac.X2*w,
		Y2: oy + frac.Y2*h,
	}
}

func pickZoneBox(marks []detection.Mark, class detection.Class, fallback detection.Box) detection.Box {
	best, found := detection.Mark{}, false
	for _, m := range marks {
		if m.Class == class && (!found || m.Confidence > best.Confidence) {
			best, found = m, true
		}
	}
	if !found {
		return fallback
	}
	return best.Box
}
