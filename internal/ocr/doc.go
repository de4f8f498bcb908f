// Package ocr reads the printed label of an answer sheet with Tesseract.
//
// The label (usually the test code printed in the sheet header) is an
// optional cross-check: when it is read and does not match the test the
// sheet was submitted under, the record carries a label_mismatch warning.
// Recognition never blocks grading.
//
// # Prerequisites
//
// Tesseract and its language data must be installed:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Builds without cgo compile a stub whose Read returns ErrUnavailable.
package ocr
