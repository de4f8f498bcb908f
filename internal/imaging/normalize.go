package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// NormalizeOptions controls letterboxing and the capture-quality floor.
type NormalizeOptions struct {
	// InputSize is the side of the square image the detector expects.
	InputSize int

	// MinEdge is the minimum length in pixels of the source's shorter edge.
	// Zero disables the check.
	MinEdge int

	// VarianceFloor is the minimum grayscale variance (0-255 scale) over the
	// sheet content. Blank or lens-capped captures fall below it. Zero
	// disables the check.
	VarianceFloor float64

	// SharpnessFloor is the minimum variance of the Laplacian response.
	// Heavily blurred captures fall below it. Zero disables the check.
	SharpnessFloor float64
}

// DefaultNormalizeOptions returns illustrative calibration values.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		InputSize:      1280,
		MinEdge:        480,
		VarianceFloor:  25,
		SharpnessFloor: 2,
	}
}

// Quality holds the capture statistics measured during normalization.
type Quality struct {
	Mean      float64 `json:"mean"`
	Variance  float64 `json:"variance"`
	Sharpness float64 `json:"sharpness"`
}

// Normalized is a letterboxed sheet image ready for detection.
type Normalized struct {
	// Image is InputSize x InputSize.
	Image *image.NRGBA

	// Content is the rectangle of Image covered by the photograph.
	Content image.Rectangle

	// Scale is normalized pixels per source pixel.
	Scale float64

	SourceWidth  int
	SourceHeight int

	Quality Quality
}

// SourcePoint maps a point in normalized coordinates back to the source photo.
func (n *Normalized) SourcePoint(x, y float64) (float64, float64) {
	return (x - float64(n.Content.Min.X)) / n.Scale, (y - float64(n.Content.Min.Y)) / n.Scale
}

// paperWhite pads the letterbox so padding never reads as shading.
var paperWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// laplacian is the 4-neighbour Laplacian used for the sharpness estimate.
var laplacian = &convolution.Kernel{
	Matrix: []float64{
		0, 1, 0,
		1, -4, 1,
		0, 1, 0,
	},
	Width:  3,
	Height: 3,
}

// Normalizer letterboxes sheet photos and enforces the quality floor.
type Normalizer struct {
	opts NormalizeOptions
}

// NewNormalizer creates a normalizer. A non-positive InputSize falls back to
// DefaultNormalizeOptions().InputSize; zero MinEdge, VarianceFloor and
// SharpnessFloor each disable their check. Pass DefaultNormalizeOptions() for
// the calibrated floors.
func NewNormalizer(opts NormalizeOptions) *Normalizer {
	def := DefaultNormalizeOptions()
	if opts.InputSize <= 0 {
		opts.InputSize = def.InputSize
	}
	if opts.MinEdge < 0 {
		opts.MinEdge = 0
	}
	return &Normalizer{opts: opts}
}

// Options returns the effective options.
func (n *Normalizer) Options() NormalizeOptions { return n.opts }

// NormalizeBytes decodes an upload and normalizes it.
func (n *Normalizer) NormalizeBytes(data []byte) (*Normalized, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return n.Normalize(img)
}

// Normalize resizes the longest edge of src to InputSize, preserving the
// aspect ratio, and pads the remainder with paper white. Marks near the sheet
// edges are never cropped.
//
// # Errors
//
// Returns an ImageUnusable error when src is below MinEdge, when the content
// is near-uniform, or when it is too blurred to trust detections.
func (n *Normalizer) Normalize(src image.Image) (*Normalized, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, omrerr.New(omrerr.KindImageUnusable, "image has no pixels")
	}
	if short := min(w, h); short < n.opts.MinEdge {
		return nil, omrerr.New(omrerr.KindImageUnusable,
			"resolution %dx%d below minimum edge of %d pixels", w, h, n.opts.MinEdge)
	}

	size := n.opts.InputSize
	scale := float64(size) / float64(max(w, h))
	newW := clamp(int(math.Round(float64(w)*scale)), 1, size)
	newH := clamp(int(math.Round(float64(h)*scale)), 1, size)

	resized := imaging.Resize(src, newW, newH, imaging.Lanczos)
	offset := image.Pt((size-newW)/2, (size-newH)/2)
	canvas := imaging.New(size, size, paperWhite)
	canvas = imaging.Paste(canvas, resized, offset)

	q := measureQuality(resized)
	if q.Variance < n.opts.VarianceFloor {
		return nil, omrerr.New(omrerr.KindImageUnusable,
			"near-uniform capture (variance %.1f below %.1f)", q.Variance, n.opts.VarianceFloor)
	}
	if n.opts.SharpnessFloor > 0 && q.Sharpness < n.opts.SharpnessFloor {
		return nil, omrerr.New(omrerr.KindImageUnusable,
			"blurred capture (sharpness %.2f below %.2f)", q.Sharpness, n.opts.SharpnessFloor)
	}

	return &Normalized{
		Image:        canvas,
		Content:      image.Rectangle{Min: offset, Max: offset.Add(image.Pt(newW, newH))},
		Scale:        scale,
		SourceWidth:  w,
		SourceHeight: h,
		Quality:      q,
	}, nil
}

// measureQuality computes grayscale mean/variance and the variance of the
// Laplacian response. The Laplacian is biased by 128 so negative responses
// survive the 8-bit clamp.
func measureQuality(img image.Image) Quality {
	gray := effect.Grayscale(img)
	b := gray.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return Quality{}
	}

	values := make([]float64, 0, n)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			values = append(values, float64(row[x]))
		}
	}
	mean, variance := stat.MeanVariance(values, nil)

	lap := convolution.Convolve(gray, laplacian, &convolution.Options{Bias: 128})
	lb := lap.Bounds()
	values = values[:0]
	for y := lb.Min.Y; y < lb.Max.Y; y++ {
		off := (y - lb.Min.Y) * lap.Stride
		for x := 0; x < lb.Dx(); x++ {
			values = append(values, float64(lap.Pix[off+x*4]))
		}
	}
	_, sharp := stat.MeanVariance(values, nil)

	return Quality{
		Mean:      math.Round(mean*100) / 100,
		Variance:  math.Round(variance*100) / 100,
		Sharpness: math.Round(sharp*100) / 100,
	}
}

// clamp constrains an integer value to the range [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
