package omr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// row builds a row from (col, confidence) pairs.
func row(n int, marks ...float64) grid.Row {
	r := grid.Row{Number: n}
	for i := 0; i+1 < len(marks); i += 2 {
		r.Marks = append(r.Marks, grid.Placed{Col: int(marks[i]), Confidence: marks[i+1]})
	}
	return r
}

func TestResolve(t *testing.T) {
	res := NewResolver(0.15)

	tests := []struct {
		name string
		row  grid.Row
		want Symbol
	}{
		{"empty", row(1), Blank},
		{"single", row(1, 2, 0.4), "C"},
		{"single low confidence", row(1, 4, 0.05), "E"},
		{"clear leader", row(1, 0, 0.9, 3, 0.5), "A"},
		{"leader listed second", row(1, 0, 0.5, 3, 0.9), "D"},
		{"within margin", row(1, 0, 0.8, 1, 0.7), Ambiguous},
		{"three marks", row(1, 0, 0.9, 1, 0.85, 2, 0.2), Ambiguous},
		{"invalid placeholder", grid.Row{Number: 1, Invalid: true}, Ambiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := res.Resolve(tt.row, Letter); got != tt.want {
				t.Errorf("Resolve: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_LeadEqualToMargin(t *testing.T) {
	// Binary-exact values: a lead of exactly the margin is not enough.
	got := NewResolver(0.25).Resolve(row(1, 0, 0.75, 1, 0.5), Letter)
	if got != Ambiguous {
		t.Errorf("got %q, want %q", got, Ambiguous)
	}
}

func TestResolve_SingleMarkEveryColumn(t *testing.T) {
	res := NewResolver(DefaultMargin)
	for col := 0; col < 5; col++ {
		got := res.Resolve(row(1, float64(col), 0.6), Letter)
		if got != Letter(col) || !got.IsLetter() {
			t.Errorf("column %d: got %q, want %q", col, got, Letter(col))
		}
	}
}

func TestResolve_DoesNotReorderRow(t *testing.T) {
	r := row(1, 0, 0.5, 3, 0.9)
	before := append([]grid.Placed(nil), r.Marks...)
	NewResolver(0.15).Resolve(r, Letter)
	if !reflect.DeepEqual(r.Marks, before) {
		t.Error("Resolve must not modify the row's marks")
	}
}

func TestNewResolver_NegativeMargin(t *testing.T) {
	if m := NewResolver(-1).Margin; m != DefaultMargin {
		t.Errorf("Margin: got %.2f, want %.2f", m, DefaultMargin)
	}
	if m := NewResolver(0).Margin; m != 0 {
		t.Errorf("a zero margin should be kept, got %.2f", m)
	}
}

func TestExtractIndex(t *testing.T) {
	res := NewResolver(0.15)

	g := &grid.Grid{Kind: grid.KindIndex}
	for pos := 1; pos <= 5; pos++ {
		g.Rows = append(g.Rows, row(pos, float64(pos), 0.9))
	}

	idx, err := res.ExtractIndex(g)
	if err != nil {
		t.Fatalf("ExtractIndex: %v", err)
	}
	if idx.Number != "12345" || idx.Raw != "12345" || !idx.Complete() {
		t.Errorf("got %+v, want number 12345", idx)
	}
}

func TestExtractIndex_DoubleMark(t *testing.T) {
	res := NewResolver(0.15)

	g := &grid.Grid{Kind: grid.KindIndex}
	for pos := 1; pos <= 5; pos++ {
		g.Rows = append(g.Rows, row(pos, float64(pos), 0.9))
	}
	g.Rows[2] = row(3, 3, 0.9, 7, 0.85)

	idx, err := res.ExtractIndex(g)
	if !errors.Is(err, omrerr.ErrIndexIncomplete) {
		t.Fatalf("expected IndexIncomplete, got %v", err)
	}
	if idx.Number != "" || idx.Complete() {
		t.Errorf("no numeric value should be set, got %q", idx.Number)
	}
	if idx.Raw != "12M45" {
		t.Errorf("Raw: got %q, want 12M45", idx.Raw)
	}
	if !reflect.DeepEqual(omrerr.QuestionsOf(err), []int{3}) {
		t.Errorf("positions: got %v, want [3]", omrerr.QuestionsOf(err))
	}
}

func TestExtractIndex_BlankPosition(t *testing.T) {
	g := &grid.Grid{Kind: grid.KindIndex, Rows: []grid.Row{row(1, 0, 0.9), row(2), row(3, 9, 0.7)}}

	idx, err := NewResolver(0.15).ExtractIndex(g)
	if !errors.Is(err, omrerr.ErrIndexIncomplete) {
		t.Fatalf("expected IndexIncomplete, got %v", err)
	}
	if idx.Raw != "0X9" {
		t.Errorf("Raw: got %q, want 0X9", idx.Raw)
	}
}

func TestSymbols(t *testing.T) {
	if Letter(0) != "A" || Letter(4) != "E" || Letter(26) != Ambiguous {
		t.Error("Letter mapping")
	}
	if Digit(0) != "0" || Digit(9) != "9" || Digit(10) != Ambiguous {
		t.Error("Digit mapping")
	}
	if Blank.IsLetter() || Ambiguous.IsLetter() || !Symbol("B").IsLetter() {
		t.Error("IsLetter should exclude the sentinels")
	}

	for in, want := range map[string]Symbol{"a": "A", " c ": "C", "x": Blank, "M": Ambiguous} {
		got, err := ParseAnswer(in)
		if err != nil || got != want {
			t.Errorf("ParseAnswer(%q): got %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "AB", "3", "?"} {
		if _, err := ParseAnswer(in); err == nil {
			t.Errorf("ParseAnswer(%q) should fail", in)
		}
	}

	if got := Join([]Symbol{"A", Blank, "C"}); got != "AXC" {
		t.Errorf("Join: got %q", got)
	}
}
