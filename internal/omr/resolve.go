package omr

import (
	"sort"

	"github.com/ironsheep/omr-grader-mcp/internal/grid"
)

// DefaultMargin is the illustrative ambiguity margin δ.
const DefaultMargin = 0.15

// Resolver decides the symbol of each row.
type Resolver struct {
	// Margin is how far the strongest mark must lead the next one for a
	// multi-mark row to resolve to the strongest.
	Margin float64
}

// NewResolver creates a resolver. A negative margin falls back to
// DefaultMargin.
func NewResolver(margin float64) *Resolver {
	if margin < 0 {
		margin = DefaultMargin
	}
	return &Resolver{Margin: margin}
}

// Resolve maps one row to a symbol.
//
//   - invalid placeholder row → Ambiguous
//   - no marks → Blank
//   - one mark → label(col)
//   - several marks → label of the strongest when it leads the runner-up by
//     more than Margin, otherwise Ambiguous
//
// A letter is never produced for an empty row.
func (r *Resolver) Resolve(row grid.Row, label func(col int) Symbol) Symbol {
	if row.Invalid {
		return Ambiguous
	}
	switch len(row.Marks) {
	case 0:
		return Blank
	case 1:
		return label(row.Marks[0].Col)
	}

	ranked := append([]grid.Placed(nil), row.Marks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if ranked[0].Confidence-ranked[1].Confidence > r.Margin {
		return label(ranked[0].Col)
	}
	return Ambiguous
}

// ResolveAnswers resolves every row of an answer grid, keyed by question.
func (r *Resolver) ResolveAnswers(g *grid.Grid) map[int]Symbol {
	out := make(map[int]Symbol, len(g.Rows))
	for _, row := range g.Rows {
		out[row.Number] = r.Resolve(row, Letter)
	}
	return out
}
