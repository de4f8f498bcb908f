//go:build gocv

package detection

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"
)

// ONNXDetector runs a YOLO ONNX export through the OpenCV DNN module.
//
// The output tensor is expected in the YOLOv8 layout [1, 4+classes, anchors]
// with centre-format boxes in network input pixels. A gocv.Net is not safe for
// concurrent forwarding, so inference is serialized per detector.
type ONNXDetector struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
}

func openONNX(_ context.Context, opts Options) (Detector, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("onnx detector requires a model path")
	}
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read ONNX model %s", opts.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	size := opts.InputSize
	if size <= 0 {
		size = 1280
	}
	return &ONNXDetector{net: net, inputSize: size}, nil
}

// Detect runs one forward pass. Boxes are returned in img coordinates.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]Mark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)

	blob := gocv.BlobFromImage(bgr, 1.0/255.0, image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	rows, anchors := dims[1], dims[2]

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	sx := float64(b.Dx()) / float64(d.inputSize)
	sy := float64(b.Dy()) / float64(d.inputSize)

	marks := make([]Mark, 0, 256)
	for i := 0; i < anchors; i++ {
		best, bestConf := 0, float32(0)
		for c := 4; c < rows; c++ {
			if v := data[c*anchors+i]; v > bestConf {
				best, bestConf = c-4, v
			}
		}
		if bestConf <= 0.01 {
			continue
		}
		cx, cy := float64(data[i]), float64(data[anchors+i])
		w, h := float64(data[2*anchors+i]), float64(data[3*anchors+i])
		marks = append(marks, Mark{
			Box: Box{
				X1: (cx-w/2)*sx + float64(b.Min.X),
				Y1: (cy-h/2)*sy + float64(b.Min.Y),
				X2: (cx+w/2)*sx + float64(b.Min.X),
				Y2: (cy+h/2)*sy + float64(b.Min.Y),
			},
			Class:      Class(best),
			Confidence: float64(bestConf),
		})
	}
	return marks, nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
