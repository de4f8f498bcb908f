package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BlobOptions tunes the pure-Go detector.
type BlobOptions struct {
	// DarkL is the CIE L* (0-1) below which a pixel counts as shading.
	DarkL float64

	// MinSide and MaxSide bound the blob's bounding-box sides in pixels.
	MinSide int
	MaxSide int

	// MinFill is the minimum ratio of dark pixels to bounding-box area.
	// Printed bubble outlines fall well below it; shaded bubbles do not.
	MinFill float64

	// MaxAspect is the maximum ratio of the longer to the shorter side.
	MaxAspect float64
}

// DefaultBlobOptions returns values tuned for sheets letterboxed to 1280px.
func DefaultBlobOptions() BlobOptions {
	return BlobOptions{
		DarkL:     0.45,
		MinSide:   6,
		MaxSide:   80,
		MinFill:   0.45,
		MaxAspect: 2.0,
	}
}

// idealFill is the fill ratio of a disc inside its bounding square.
const idealFill = math.Pi / 4

// BlobDetector finds filled dark blobs without a trained model.
//
// It only ever reports ClassMark; zone boundaries come from the sheet
// template. It is stateless and safe for concurrent use.
type BlobDetector struct {
	opts BlobOptions
}

// NewBlobDetector creates a blob detector. Zero-valued options fall back to
// DefaultBlobOptions.
func NewBlobDetector(opts BlobOptions) *BlobDetector {
	def := DefaultBlobOptions()
	if opts.DarkL <= 0 {
		opts.DarkL = def.DarkL
	}
	if opts.MinSide <= 0 {
		opts.MinSide = def.MinSide
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = def.MaxSide
	}
	if opts.MinFill <= 0 {
		opts.MinFill = def.MinFill
	}
	if opts.MaxAspect <= 0 {
		opts.MaxAspect = def.MaxAspect
	}
	return &BlobDetector{opts: opts}
}

// Detect returns one ClassMark per filled blob, sorted top-to-bottom then
// left-to-right.
//
// # Algorithm
//
//  1. Darkness mask: pixels whose CIE L* lies below DarkL
//  2. Components: 8-connected flood fill over the mask
//  3. Filtering: bounding-box size, aspect ratio and fill ratio
//  4. Confidence: fill ratio relative to a disc, scaled by mean darkness
func (d *BlobDetector) Detect(ctx context.Context, img image.Image) ([]Mark, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mask, lightness, err := darkMask(ctx, img, d.opts.DarkL)
	if err != nil {
		return nil, err
	}

	components := findComponents(mask, width, height, d.opts.MinSide*d.opts.MinSide/2)

	marks := make([]Mark, 0, len(components))
	for _, comp := range components {
		minX, minY := width, height
		maxX, maxY := 0, 0
		sumL := 0.0
		for _, p := range comp {
			minX = min(minX, p.X)
			maxX = max(maxX, p.X)
			minY = min(minY, p.Y)
			maxY = max(maxY, p.Y)
			sumL += lightness[p.Y][p.X]
		}

		w := maxX - minX + 1
		h := maxY - minY + 1
		if w < d.opts.MinSide || h < d.opts.MinSide || w > d.opts.MaxSide || h > d.opts.MaxSide {
			continue
		}
		if float64(max(w, h))/float64(min(w, h)) > d.opts.MaxAspect {
			continue
		}
		fill := float64(len(comp)) / float64(w*h)
		if fill < d.opts.MinFill {
			continue
		}

		darkness := 1 - sumL/float64(len(comp))
		conf := math.Min(1, fill/idealFill) * darkness

		marks = append(marks, Mark{
			Box: Box{
				X1: float64(minX + bounds.Min.X),
				Y1: float64(minY + bounds.Min.Y),
				X2: float64(maxX + 1 + bounds.Min.X),
				Y2: float64(maxY + 1 + bounds.Min.Y),
			},
			Class:      ClassMark,
			Confidence: math.Round(conf*1000) / 1000,
		})
	}

	sort.Slice(marks, func(i, j int) bool {
		if marks[i].Box.Y1 != marks[j].Box.Y1 {
			return marks[i].Box.Y1 < marks[j].Box.Y1
		}
		return marks[i].Box.X1 < marks[j].Box.X1
	})
	return marks, nil
}

// darkMask marks pixels darker than darkL and records each pixel's L*.
// The context is checked every few rows.
func darkMask(ctx context.Context, img image.Image, darkL float64) ([][]bool, [][]float64, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mask := make([][]bool, height)
	lightness := make([][]float64, height)
	for y := 0; y < height; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		mask[y] = make([]bool, width)
		lightness[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			c, ok := colorful.MakeColor(img.At(x+bounds.Min.X, y+bounds.Min.Y))
			if !ok {
				// Fully transparent pixels read as paper.
				lightness[y][x] = 1
				continue
			}
			l, _, _ := c.Lab()
			lightness[y][x] = l
			mask[y][x] = l < darkL
		}
	}
	return mask, lightness, nil
}

// findComponents groups 8-connected mask pixels. Components smaller than
// minPixels are discarded as noise.
func findComponents(mask [][]bool, width, height, minPixels int) [][]Point {
	visited := make([][]bool, height)
	for y := 0; y < height; y++ {
		visited[y] = make([]bool, width)
	}

	components := make([][]Point, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y][x] && !visited[y][x] {
				comp := make([]Point, 0)
				floodFill(mask, visited, x, y, width, height, &comp)
				if len(comp) >= minPixels {
					components = append(components, comp)
				}
			}
		}
	}
	return components
}

// floodFill performs iterative flood-fill from a starting point.
//
// Uses a stack-based approach (not recursive) to avoid stack overflow
// on large components. Uses 8-connectivity.
func floodFill(mask, visited [][]bool, startX, startY, width, height int, comp *[]Point) {
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !mask[p.Y][p.X] {
			continue
		}

		visited[p.Y][p.X] = true
		*comp = append(*comp, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
}
