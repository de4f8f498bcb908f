package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestRenderOverlay(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	src := createInMemoryImage(100, 100, white)

	ov := Overlay{
		Boxes: []OverlayBox{{Rect: image.Rect(10, 10, 50, 50), Color: ColorZone}},
		Lines: []OverlayLine{{From: image.Pt(0, 80), To: image.Pt(99, 80), Color: ColorGridLine}},
		Dots:  []OverlayDot{{Center: image.Pt(70, 30), Radius: 4, Color: ColorMark, Label: ConfidenceLabel(0.91)}},
	}
	out := RenderOverlay(src, ov)

	tests := []struct {
		name string
		p    image.Point
		want color.RGBA
	}{
		{"box top edge", image.Pt(30, 10), ColorZone},
		{"box left edge", image.Pt(10, 30), ColorZone},
		{"box interior untouched", image.Pt(30, 30), white},
		{"line", image.Pt(50, 80), ColorGridLine},
		{"dot centre", image.Pt(70, 30), ColorMark},
		{"outside everything", image.Pt(5, 95), white},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := out.RGBAAt(tt.p.X, tt.p.Y); got != tt.want {
				t.Errorf("pixel %v: got %v, want %v", tt.p, got, tt.want)
			}
		})
	}

	// The source must not be modified.
	if src.RGBAAt(30, 10) != white {
		t.Error("RenderOverlay modified its input")
	}
}

func TestRenderOverlay_ClipsOutOfBounds(t *testing.T) {
	src := createInMemoryImage(20, 20, color.RGBA{255, 255, 255, 255})
	ov := Overlay{
		Boxes: []OverlayBox{{Rect: image.Rect(-10, -10, 40, 40), Color: ColorZone, Label: "answers"}},
		Lines: []OverlayLine{{From: image.Pt(-5, -5), To: image.Pt(30, 30), Color: ColorGridLine}},
		Dots:  []OverlayDot{{Center: image.Pt(19, 19), Radius: 6, Color: ColorMark}},
	}
	// Should not panic
	out := RenderOverlay(src, ov)
	if out.Bounds() != src.Bounds() {
		t.Errorf("bounds changed: got %v, want %v", out.Bounds(), src.Bounds())
	}
}

func TestParseColorOr(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"#FF0000", color.RGBA{255, 0, 0, 255}},
		{"00FF0080", color.RGBA{0, 255, 0, 128}},
		{"#12", ColorMark},
		{"", ColorMark},
		{"#GGGGGG", ColorMark},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseColorOr(tt.in, ColorMark); got != tt.want {
				t.Errorf("ParseColorOr(%q): got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfidenceLabel(t *testing.T) {
	if got := ConfidenceLabel(0.876); got != "0.88" {
		t.Errorf("got %q, want 0.88", got)
	}
}
