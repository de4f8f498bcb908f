package grid

import (
	"math"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
)

// ZoneKind tells answer zones from the index zone.
type ZoneKind string

const (
	KindIndex   ZoneKind = "index"
	KindAnswers ZoneKind = "answers"
)

// Zone is one rectangular bubble grid on the sheet.
//
// Logically a zone has Rows (questions or digit positions) and Cols (options
// or digit values). Rows run top to bottom and columns left to right unless
// Transposed, in which case rows run left to right and columns top to bottom.
type Zone struct {
	Kind ZoneKind `json:"kind"`
	Name string   `json:"name"`

	// Bounds is the padded bubble grid in normalized-image pixels.
	Bounds detection.Box `json:"bounds"`

	Rows int `json:"rows"`
	Cols int `json:"cols"`

	// FirstRow is the question or position number of logical row 0.
	FirstRow int `json:"first_row"`

	RowsPerGroup int     `json:"rows_per_group,omitempty"`
	GroupGap     float64 `json:"group_gap,omitempty"`

	Transposed bool `json:"transposed,omitempty"`
}

// rowAxis returns the start and length of the axis rows are stacked along.
func (z Zone) rowAxis() (float64, float64) {
	if z.Transposed {
		return z.Bounds.X1, z.Bounds.Width()
	}
	return z.Bounds.Y1, z.Bounds.Height()
}

// colAxis returns the start and length of the axis columns run along.
func (z Zone) colAxis() (float64, float64) {
	if z.Transposed {
		return z.Bounds.Y1, z.Bounds.Height()
	}
	return z.Bounds.X1, z.Bounds.Width()
}

// segment is the fraction of the row axis taken by one row.
func (z Zone) segment() float64 {
	if z.Rows <= 0 {
		return 0
	}
	gaps := 0
	if z.RowsPerGroup > 0 {
		groups := (z.Rows + z.RowsPerGroup - 1) / z.RowsPerGroup
		gaps = groups - 1
	}
	return (1 - float64(gaps)*z.GroupGap) / float64(z.Rows)
}

// RowPitch is the expected distance in pixels between adjacent row centres
// within a group.
func (z Zone) RowPitch() float64 {
	_, length := z.rowAxis()
	return z.segment() * length
}

// ColPitch is the expected distance in pixels between adjacent column centres.
func (z Zone) ColPitch() float64 {
	if z.Cols <= 0 {
		return 0
	}
	_, length := z.colAxis()
	return length / float64(z.Cols)
}

// RowCenter is the row-axis pixel coordinate of logical row i.
func (z Zone) RowCenter(i int) float64 {
	start, length := z.rowAxis()
	seg := z.segment()
	ratio := (float64(i) + 0.5) * seg
	if z.RowsPerGroup > 0 {
		ratio += float64(i/z.RowsPerGroup) * z.GroupGap
	}
	return start + ratio*length
}

// ColCenter is the column-axis pixel coordinate of logical column j.
func (z Zone) ColCenter(j int) float64 {
	start, _ := z.colAxis()
	return start + (float64(j)+0.5)*z.ColPitch()
}

// Point is the image position of the bubble at logical row i, column j.
func (z Zone) Point(i, j int) (x, y float64) {
	v, u := z.RowCenter(i), z.ColCenter(j)
	if z.Transposed {
		return v, u
	}
	return u, v
}

// logical converts an image position to (u, v): u along columns, v along rows.
func (z Zone) logical(x, y float64) (u, v float64) {
	if z.Transposed {
		return y, x
	}
	return x, y
}

// colMid is the column-axis centre of the zone, the pivot for deskewing.
func (z Zone) colMid() float64 {
	start, length := z.colAxis()
	return start + length/2
}

// nearestRow returns the logical row whose centre is closest to v, and the
// distance to it.
func (z Zone) nearestRow(v float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i := 0; i < z.Rows; i++ {
		if d := math.Abs(v - z.RowCenter(i)); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// nearestCol returns the logical column whose centre is closest to u, and
// the distance to it.
func (z Zone) nearestCol(u float64) (int, float64) {
	if z.Cols <= 0 {
		return -1, math.Inf(1)
	}
	start, _ := z.colAxis()
	pitch := z.ColPitch()
	j := int(math.Floor((u - start) / pitch))
	j = max(0, min(z.Cols-1, j))
	return j, math.Abs(u - z.ColCenter(j))
}

// expanded reports whether (x, y) lies within the zone grown by half a pitch
// on every side.
func (z Zone) expanded(x, y float64) bool {
	u, v := z.logical(x, y)
	rs, rl := z.rowAxis()
	cs, cl := z.colAxis()
	rp, cp := z.RowPitch()/2, z.ColPitch()/2
	return v >= rs-rp && v <= rs+rl+rp && u >= cs-cp && u <= cs+cl+cp
}

// distance is 0 inside the zone bounds and the Euclidean distance to the
// bounds outside.
func (z Zone) distance(x, y float64) float64 {
	dx := math.Max(0, math.Max(z.Bounds.X1-x, x-z.Bounds.X2))
	dy := math.Max(0, math.Max(z.Bounds.Y1-y, y-z.Bounds.Y2))
	return math.Hypot(dx, dy)
}
