package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	omrimg "github.com/ironsheep/omr-grader-mcp/internal/imaging"
)

// ErrUnavailable is returned when the binary was built without Tesseract.
var ErrUnavailable = errors.New("ocr: tesseract support not compiled in")

// DefaultRegion is the header strip holding the printed label, as fractions
// of the sheet content rectangle.
var DefaultRegion = detection.Box{X1: 0.55, Y1: 0.01, X2: 0.97, Y2: 0.09}

// Label is a recognized sheet label.
type Label struct {
	Text       string  `json:"text"`
	Raw        string  `json:"raw"`
	Confidence float64 `json:"confidence"`
}

// Reader reads sheet labels.
type Reader struct {
	Language string
	Region   detection.Box

	// Upscale enlarges the crop before recognition; Tesseract does poorly
	// on glyphs under ~20px tall.
	Upscale float64
}

// NewReader creates a reader for the given Tesseract language.
func NewReader(language string) *Reader {
	if language == "" {
		language = "eng"
	}
	return &Reader{Language: language, Region: DefaultRegion, Upscale: 2}
}

// Read recognizes the label inside content, the rectangle of img covered by
// the sheet.
func (r *Reader) Read(ctx context.Context, img image.Image, content image.Rectangle) (Label, error) {
	if err := ctx.Err(); err != nil {
		return Label{}, err
	}

	data, err := r.prepare(img, content)
	if err != nil {
		return Label{}, err
	}

	raw, conf, err := recognize(data, r.Language)
	if err != nil {
		return Label{}, err
	}
	if err := ctx.Err(); err != nil {
		return Label{}, err
	}
	return Label{Text: cleanLabel(raw), Raw: raw, Confidence: conf}, nil
}

// prepare crops the label strip, converts it to grayscale and encodes PNG.
func (r *Reader) prepare(img image.Image, content image.Rectangle) ([]byte, error) {
	rect := regionRect(r.Region, content).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("label region is outside the image")
	}

	crop, err := omrimg.CropRegion(img, rect, r.Upscale)
	if err != nil {
		return nil, err
	}
	gray := imaging.Grayscale(crop)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("failed to encode label crop: %w", err)
	}
	return buf.Bytes(), nil
}

func regionRect(frac detection.Box, content image.Rectangle) image.Rectangle {
	w, h := float64(content.Dx()), float64(content.Dy())
	return image.Rect(
		content.Min.X+int(math.Floor(frac.X1*w)),
		content.Min.Y+int(math.Floor(frac.Y1*h)),
		content.Min.X+int(math.Ceil(frac.X2*w)),
		content.Min.Y+int(math.Ceil(frac.Y2*h)),
	)
}

// cleanLabel keeps letters, digits, '-' and '_', upper-cased, and collapses
// whitespace runs into a single '-'.
func cleanLabel(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
		case r == '-' || r == '_':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
			pendingSep = false
		case unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return strings.Trim(b.String(), "-_")
}

// Matches reports whether a recognized label names testID. Comparison ignores
// case and separators.
func Matches(label, testID string) bool {
	strip := func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToUpper(r)
			}
			return -1
		}, s)
	}
	l, id := strip(label), strip(testID)
	return l != "" && id != "" && strings.Contains(l, id)
}
