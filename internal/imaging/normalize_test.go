package imaging

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(NormalizeOptions{
		InputSize:      320,
		MinEdge:        100,
		VarianceFloor:  25,
		SharpnessFloor: 2,
	})
}

// createGradient creates a horizontal black-to-white ramp: plenty of
// variance but no edges.
func createGradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(x * 255 / (width - 1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestNormalize_Letterbox(t *testing.T) {
	n := testNormalizer()
	src := createCheckerboard(600, 400, 40)

	out, err := n.Normalize(src)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if out.Image.Bounds().Dx() != 320 || out.Image.Bounds().Dy() != 320 {
		t.Errorf("canvas: got %v, want 320x320", out.Image.Bounds())
	}

	want := image.Rect(0, 53, 320, 266)
	if out.Content != want {
		t.Errorf("Content: got %v, want %v", out.Content, want)
	}

	srcAspect := 600.0 / 400.0
	gotAspect := float64(out.Content.Dx()) / float64(out.Content.Dy())
	if math.Abs(srcAspect-gotAspect) > 0.01 {
		t.Errorf("aspect ratio not preserved: got %.3f, want %.3f", gotAspect, srcAspect)
	}

	// Padding is paper white.
	for _, p := range []image.Point{{0, 0}, {160, 10}, {319, 319}} {
		c := out.Image.NRGBAAt(p.X, p.Y)
		if c.R != 255 || c.G != 255 || c.B != 255 {
			t.Errorf("padding at %v: got %v, want white", p, c)
		}
	}

	if out.SourceWidth != 600 || out.SourceHeight != 400 {
		t.Errorf("source size: got %dx%d", out.SourceWidth, out.SourceHeight)
	}
}

func TestNormalized_SourcePoint(t *testing.T) {
	n := testNormalizer()
	out, err := n.Normalize(createCheckerboard(600, 400, 40))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	x, y := out.SourcePoint(float64(out.Content.Min.X), float64(out.Content.Min.Y))
	if math.Abs(x) > 1e-9 || math.Abs(y) > 1e-9 {
		t.Errorf("content origin should map to (0,0), got (%.3f,%.3f)", x, y)
	}

	x, _ = out.SourcePoint(160, 160)
	if math.Abs(x-300) > 1 {
		t.Errorf("canvas centre should map to source x=300, got %.2f", x)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		img  image.Image
	}{
		{"below minimum edge", createCheckerboard(300, 80, 10)},
		{"uniform", createInMemoryImage(400, 400, color.RGBA{128, 128, 128, 255})},
		{"no edges", createGradient(600, 400)},
		{"empty", image.NewRGBA(image.Rect(0, 0, 0, 0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.img)
			if !errors.Is(err, omrerr.ErrImageUnusable) {
				t.Errorf("expected ImageUnusable, got %v", err)
			}
		})
	}
}

func TestNormalize_SharpnessDisabled(t *testing.T) {
	n := NewNormalizer(NormalizeOptions{InputSize: 320, MinEdge: 100, VarianceFloor: 25})
	if _, err := n.Normalize(createGradient(600, 400)); err != nil {
		t.Errorf("gradient should pass with the sharpness check disabled: %v", err)
	}
}

func TestNormalizeBytes(t *testing.T) {
	n := testNormalizer()

	out, err := n.NormalizeBytes(encodePNG(t, createCheckerboard(400, 400, 20)))
	if err != nil {
		t.Fatalf("NormalizeBytes failed: %v", err)
	}
	if out.Quality.Variance < 25 {
		t.Errorf("checkerboard variance too low: %.2f", out.Quality.Variance)
	}
	if out.Content != image.Rect(0, 0, 320, 320) {
		t.Errorf("square input should fill the canvas, got %v", out.Content)
	}

	if _, err := n.NormalizeBytes([]byte("junk")); !errors.Is(err, omrerr.ErrImageUnusable) {
		t.Errorf("expected ImageUnusable for junk bytes, got %v", err)
	}
}

func TestNewNormalizer_Defaults(t *testing.T) {
	n := NewNormalizer(NormalizeOptions{})
	if n.Options().InputSize != DefaultNormalizeOptions().InputSize {
		t.Errorf("InputSize should default, got %d", n.Options().InputSize)
	}

	// Zero floors are off: a uniform page passes.
	if _, err := n.Normalize(createInMemoryImage(400, 400, color.RGBA{128, 128, 128, 255})); err != nil {
		t.Errorf("zero floors should disable the quality checks: %v", err)
	}

	d := NewNormalizer(DefaultNormalizeOptions())
	if _, err := d.Normalize(createInMemoryImage(600, 600, color.RGBA{128, 128, 128, 255})); !errors.Is(err, omrerr.ErrImageUnusable) {
		t.Errorf("default floors should reject a uniform page, got %v", err)
	}
}
