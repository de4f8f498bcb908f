package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayBox is an outlined rectangle, e.g. a zone or a detection box.
type OverlayBox struct {
	Rect  image.Rectangle
	Color color.RGBA
	Label string
}

// OverlayLine is a straight segment, e.g. an expected row or column centre.
type OverlayLine struct {
	From, To image.Point
	Color    color.RGBA
}

// OverlayDot is a filled marker with an optional caption such as a
// confidence score.
type OverlayDot struct {
	Center image.Point
	Radius int
	Color  color.RGBA
	Label  string
}

// Overlay describes everything to draw over a sheet image.
type Overlay struct {
	Boxes []OverlayBox
	Lines []OverlayLine
	Dots  []OverlayDot
}

// Overlay palette, matching the debug plots operators already know:
// detected zones red, calculation area yellow, grid lines blue, marks green.
var (
	ColorZone     = color.RGBA{255, 0, 0, 255}
	ColorGridArea = color.RGBA{255, 255, 0, 255}
	ColorGridLine = color.RGBA{0, 0, 255, 160}
	ColorMark     = color.RGBA{0, 200, 0, 255}
	ColorRejected = color.RGBA{255, 128, 0, 255}
)

// RenderOverlay draws ov over a copy of img. img itself is not modified.
func RenderOverlay(img image.Image, ov Overlay) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, l := range ov.Lines {
		drawLine(out, l.From, l.To, l.Color)
	}
	for _, b := range ov.Boxes {
		drawRect(out, b.Rect, b.Color)
		if b.Label != "" {
			drawLabel(out, b.Rect.Min.X+2, b.Rect.Min.Y-2, b.Label, b.Color)
		}
	}
	for _, d := range ov.Dots {
		fillCircle(out, d.Center, d.Radius, d.Color)
		if d.Label != "" {
			drawLabel(out, d.Center.X+d.Radius+2, d.Center.Y-d.Radius, d.Label, d.Color)
		}
	}
	return out
}

// ConfidenceLabel formats a detection confidence for captions.
func ConfidenceLabel(conf float64) string {
	return strconv.FormatFloat(conf, 'f', 2, 64)
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080".
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// ParseColorOr parses hex, falling back to def on error.
func ParseColorOr(hex string, def color.RGBA) color.RGBA {
	c, err := parseHexColor(hex)
	if err != nil {
		return def
	}
	return c
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X; x < r.Max.X; x++ {
		setClipped(img, x, r.Min.Y, c)
		setClipped(img, x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		setClipped(img, r.Min.X, y, c)
		setClipped(img, r.Max.X-1, y, c)
	}
}

// drawLine uses Bresenham's algorithm.
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	e := dx + dy
	x, y := from.X, from.Y
	for {
		setClipped(img, x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func fillCircle(img *image.RGBA, center image.Point, radius int, c color.RGBA) {
	if radius <= 0 {
		radius = 3
	}
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setClipped(img, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

// drawLabel writes text with its baseline at (x, y) using the 7x13 bitmap face.
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
