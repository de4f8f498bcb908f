// Package grid maps unordered mark detections onto the rows and columns of
// an answer sheet.
//
// A Layout combines the test's configured counts (questions N, index digits
// K) with the sheet Template. Layout.Zones places the index zone and the
// answer blocks on a normalized image, from the template or from detected
// zone boxes. Assembler.Assemble then clusters marks into rows, removes skew,
// assigns columns and validates the result against the configured counts.
//
// # Rows and Columns
//
// Logically every zone has rows (questions, or index digit positions) and
// columns (options A..E, or digit values 0..9). On the standard sheet the
// index block is transposed: positions run left to right and values top to
// bottom. The assembler swaps axes for such zones so that the rest of the
// pipeline never needs to know.
//
// # Failure Handling
//
// Missing marks mean "unshaded" and are never an error. Rows that cannot be
// mapped reliably (two clusters competing for one row) become Invalid
// placeholders and are listed in Grid.Mismatched. Marks on printed answer
// rows beyond the configured count are listed in Grid.Extra; marks on unused
// index positions are ignored. Grid.Err turns either into a non-fatal
// LayoutMismatch.
package grid
