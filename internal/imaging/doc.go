// Package imaging prepares answer-sheet photographs for mark detection.
//
// It decodes uploads, letterboxes them to the detector's square input size
// and rejects captures that are too small, blank or blurred before any
// inference time is spent on them. It also renders debug overlays showing
// where marks were found and where the grid expected them.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner, X
// increasing rightward and Y increasing downward. Regions are half-open:
// (x1,y1) is inclusive and (x2,y2) is exclusive.
//
// Normalized images are square. The photograph occupies the Content
// rectangle of the normalized image; the rest is paper-white padding. Template
// geometry is expressed relative to Content, so detections map back to the
// sheet regardless of the photo's aspect ratio.
//
// # Quality Floor
//
// Normalize fails with an omrerr.KindImageUnusable error when:
//   - the shorter source edge is below MinEdge pixels
//   - grayscale variance over the content is below VarianceFloor (blank capture)
//   - variance of the Laplacian response is below SharpnessFloor (blurred capture)
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. Normalizer holds only immutable
// options and may be shared by all workers.
package imaging
