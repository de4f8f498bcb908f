//go:build !gocv

package detection

import (
	"context"
	"fmt"
)

func openONNX(_ context.Context, _ Options) (Detector, error) {
	return nil, fmt.Errorf("onnx detector not available: rebuild with -tags gocv")
}
