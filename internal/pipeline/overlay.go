package pipeline

import (
	"image"
	"math"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
)

// OverlayOptions selects what RenderOverlay draws.
type OverlayOptions struct {
	// ExpectedGrid draws a dot at every expected bubble centre.
	ExpectedGrid bool

	// Rejected draws raw detections dropped by thresholding or NMS.
	Rejected bool
}

// Overlay describes the analysis as shapes over the normalized image:
// zones in red, detected zone boxes in yellow, the expected grid in blue,
// accepted marks in green with their confidence, rejected marks in orange.
func (a *Analysis) Overlay(opts OverlayOptions) imaging.Overlay {
	var ov imaging.Overlay

	for _, z := range a.Zones {
		ov.Boxes = append(ov.Boxes, imaging.OverlayBox{
			Rect:  rect(z.Bounds),
			Color: imaging.ColorZone,
			Label: z.Name,
		})
		if !opts.ExpectedGrid {
			continue
		}
		for i := 0; i < z.Rows; i++ {
			for j := 0; j < z.Cols; j++ {
				x, y := z.Point(i, j)
				ov.Dots = append(ov.Dots, imaging.OverlayDot{
					Center: image.Pt(int(math.Round(x)), int(math.Round(y))),
					Radius: 1,
					Color:  imaging.ColorGridLine,
				})
			}
		}
	}

	accepted := make(map[detection.Box]bool, len(a.Marks))
	for _, m := range a.Marks {
		accepted[m.Box] = true
		switch m.Class {
		case detection.ClassMark:
			ov.Boxes = append(ov.Boxes, imaging.OverlayBox{
				Rect:  rect(m.Box),
				Color: imaging.ColorMark,
				Label: imaging.ConfidenceLabel(m.Confidence),
			})
		default:
			ov.Boxes = append(ov.Boxes, imaging.OverlayBox{
				Rect:  rect(m.Box),
				Color: imaging.ColorGridArea,
				Label: m.Class.String(),
			})
		}
	}

	if opts.Rejected {
		for _, m := range a.Raw {
			if m.Class != detection.ClassMark || accepted[m.Box] {
				continue
			}
			ov.Boxes = append(ov.Boxes, imaging.OverlayBox{
				Rect:  rect(m.Box),
				Color: imaging.ColorRejected,
			})
		}
	}
	return ov
}

// RenderOverlay draws the analysis over a copy of the normalized image.
func (a *Analysis) RenderOverlay(opts OverlayOptions) *image.RGBA {
	return imaging.RenderOverlay(a.Normalized.Image, a.Overlay(opts))
}

func rect(b detection.Box) image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}
