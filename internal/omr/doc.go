// Package omr turns assembled grids into answer records and grades them.
//
// A row resolves to a letter (or digit, for the index grid) when exactly one
// mark is present or the strongest mark clearly leads; to Blank ("X") when
// nothing is shaded; and to Ambiguous ("M") otherwise. Blank and Ambiguous
// are always graded incorrect.
//
// Key sheets become a MarkScheme only when every question resolves to a
// single letter. Grading is a pure function of a record and a scheme.
package omr
