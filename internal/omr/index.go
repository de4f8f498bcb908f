package omr

import (
	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// IndexResult is the outcome of reading the index-number grid.
type IndexResult struct {
	// Number is the digit string, empty unless every position resolved.
	Number string `json:"number,omitempty"`

	// Raw holds one symbol per position, e.g. "12M45", for manual follow-up.
	Raw string `json:"raw"`

	// Unresolved lists the positions (1-based) that were blank or ambiguous.
	Unresolved []int `json:"unresolved,omitempty"`
}

// Complete reports whether a numeric index was extracted.
func (r IndexResult) Complete() bool { return len(r.Unresolved) == 0 && r.Number != "" }

// ExtractIndex reads the index grid with the same resolution rule as the
// answers, using digits as labels.
//
// # Errors
//
// When any position is blank or ambiguous the result still carries Raw and
// the error is an IndexIncomplete naming the positions. The caller keeps the
// record and flags it; this is not a failure of the sheet.
func (r *Resolver) ExtractIndex(g *grid.Grid) (IndexResult, error) {
	syms := make([]Symbol, len(g.Rows))
	var res IndexResult
	for i, row := range g.Rows {
		syms[i] = r.Resolve(row, Digit)
		if !syms[i].Resolved() {
			res.Unresolved = append(res.Unresolved, row.Number)
		}
	}
	res.Raw = Join(syms)

	if len(res.Unresolved) > 0 {
		return res, omrerr.WithQuestions(omrerr.KindIndexIncomplete, res.Unresolved,
			"index number unresolved (read %q)", res.Raw)
	}
	res.Number = res.Raw
	return res, nil
}
