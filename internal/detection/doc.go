// Package detection finds shaded marks on a normalized answer-sheet image.
//
// The rest of the pipeline depends only on the narrow Detector capability:
//
//	marks, err := det.Detect(ctx, img)
//	marks, err = detection.Filter(marks, detection.DefaultFilterOptions())
//
// so back ends can be swapped without touching grid assembly or grading.
//
// # Back Ends
//
//   - BlobDetector: pure Go. Builds a darkness mask from CIE L*, groups
//     8-connected pixels and keeps filled, roughly square blobs. Needs no
//     model file and never reports zone boxes.
//   - RemoteDetector: posts the image to an external prediction service and
//     decodes its JSON detections.
//   - ONNXDetector: runs a YOLO export through OpenCV DNN. Only compiled with
//     the gocv build tag.
//
// # Classes
//
// Detections carry one of three classes, matching the trained model:
//
//   - ClassMark (0): a shaded bubble
//   - ClassIndexZone (1): the index-number grid boundary
//   - ClassAnswerZone (2): the answer grid boundary
//
// # Post-processing
//
// Filter applies the confidence threshold and class-aware non-maximum
// suppression: within each overlapping cluster of same-class boxes only the
// highest-confidence box survives. If no mark survives the result is a
// DetectionEmpty error, which points at the capture rather than the layout.
//
// # Model Handle
//
// ModelProvider loads the detector once, lazily, behind single-flight
// initialization. The loaded handle is shared read-only by every request.
//
// # Coordinate System
//
// Boxes are float64 pixels in the normalized image: origin top-left, X
// rightward, Y downward, (X1, Y1) inclusive and (X2, Y2) exclusive.
package detection
