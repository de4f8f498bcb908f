package detection

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// Class is the detector's label for a box.
type Class int

const (
	// ClassMark is a shaded bubble.
	ClassMark Class = iota
	// ClassIndexZone is the boundary of the index-number grid.
	ClassIndexZone
	// ClassAnswerZone is the boundary of the answer grid.
	ClassAnswerZone
)

var classNames = [...]string{"mark", "index_zone", "answer_zone"}

func (c Class) String() string {
	if c >= 0 && int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// MarshalText encodes the class by name.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts a class name or its numeric model index.
func (c *Class) UnmarshalText(b []byte) error {
	p, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = p
	return nil
}

// UnmarshalJSON accepts either a quoted class name or a bare model index.
func (c *Class) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unq
	}
	return c.UnmarshalText([]byte(s))
}

// ParseClass parses a class name ("mark", "index_zone", "answer_zone") or a
// model class index ("0", "1", "2").
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range classNames {
		if s == n || s == fmt.Sprint(i) {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("unknown detection class %q", s)
}

// Box is an axis-aligned box in normalized-image pixels. (X1, Y1) is the
// top-left corner and (X2, Y2) the bottom-right.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return math.Max(0, b.X2-b.X1) }
func (b Box) Height() float64 { return math.Max(0, b.Y2-b.Y1) }
func (b Box) Area() float64   { return b.Width() * b.Height() }

// Center returns the box centre.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Mark is a single detection.
type Mark struct {
	Box        Box     `json:"box"`
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
}

// IoU returns the intersection-over-union of two boxes, 0 when either is empty.
func IoU(a, b Box) float64 {
	ix := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	iy := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs class-aware non-maximum suppression.
//
// Marks are visited in descending confidence order; a mark is dropped when its
// IoU with an already kept mark of the same class exceeds iouThreshold. The
// result is ordered by descending confidence. The input is not modified.
func NMS(marks []Mark, iouThreshold float64) []Mark {
	sorted := append([]Mark(nil), marks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Mark, 0, len(sorted))
	for _, m := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Class == m.Class && IoU(k.Box, m.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, m)
		}
	}
	return kept
}

// FilterOptions are the post-processing thresholds shared by all back ends.
type FilterOptions struct {
	ConfThreshold float64
	IoUThreshold  float64
}

// DefaultFilterOptions returns illustrative calibration values.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{ConfThreshold: 0.25, IoUThreshold: 0.7}
}

// Filter drops detections below the confidence threshold and deduplicates the
// rest with NMS.
//
// # Errors
//
// Returns a DetectionEmpty error when no ClassMark detection survives. Zone
// boxes alone do not count: a sheet with no marks at all is almost always a
// capture problem.
func Filter(marks []Mark, opts FilterOptions) ([]Mark, error) {
	confident := make([]Mark, 0, len(marks))
	for _, m := range marks {
		if m.Confidence >= opts.ConfThreshold && m.Box.Area() > 0 {
			confident = append(confident, m)
		}
	}

	out := NMS(confident, opts.IoUThreshold)
	for _, m := range out {
		if m.Class == ClassMark {
			return out, nil
		}
	}
	return nil, omrerr.New(omrerr.KindDetectionEmpty,
		"no marks above confidence %.2f (%d raw detections)", opts.ConfThreshold, len(marks))
}

// Count returns the number of marks of the given class.
func Count(marks []Mark, class Class) int {
	n := 0
	for _, m := range marks {
		if m.Class == class {
			n++
		}
	}
	return n
}
