package omr

import (
	"fmt"
	"strings"
)

// Symbol is the resolved content of one row: a letter (answers), a digit
// (index positions), Blank or Ambiguous.
type Symbol string

const (
	// Blank is a row with no detected mark.
	Blank Symbol = "X"
	// Ambiguous is a row with competing marks or an unreliable mapping.
	Ambiguous Symbol = "M"
)

// Letter returns the option letter for column col (0 = "A").
func Letter(col int) Symbol {
	if col < 0 || col >= 26 {
		return Ambiguous
	}
	return Symbol(rune('A' + col))
}

// Digit returns the digit for column col (0 = "0").
func Digit(col int) Symbol {
	if col < 0 || col > 9 {
		return Ambiguous
	}
	return Symbol(rune('0' + col))
}

// Resolved reports whether s is a definite answer rather than a sentinel.
func (s Symbol) Resolved() bool {
	return s != Blank && s != Ambiguous && s != ""
}

// IsLetter reports whether s is a single option letter other than the
// sentinels.
func (s Symbol) IsLetter() bool {
	return len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' && s.Resolved()
}

// ParseAnswer parses a user-supplied answer letter. The sentinels are
// accepted so that records can round-trip.
func ParseAnswer(s string) (Symbol, error) {
	sym := Symbol(strings.ToUpper(strings.TrimSpace(s)))
	if sym == Blank || sym == Ambiguous || sym.IsLetter() {
		return sym, nil
	}
	return "", fmt.Errorf("invalid answer symbol %q", s)
}

// Join renders symbols in order, e.g. "ABXD".
func Join(syms []Symbol) string {
	var b strings.Builder
	for _, s := range syms {
		b.WriteString(string(s))
	}
	return b.String()
}
