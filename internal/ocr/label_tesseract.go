//go:build cgo

package ocr

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// recognize runs Tesseract on a PNG of a single text line and returns the
// text and the mean word confidence (0-1).
func recognize(png []byte, language string) (string, float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(language); err != nil {
		return "", 0, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", 0, fmt.Errorf("failed to set page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", 0, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("OCR failed: %w", err)
	}

	// Word boxes only feed the confidence; text is still usable without them.
	var conf float64
	if boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		for _, box := range boxes {
			conf += box.Confidence
		}
		conf = conf / float64(len(boxes)) / 100.0
	}
	return text, conf, nil
}

// Available reports whether Tesseract can be initialised.
func Available() (string, bool) {
	client := gosseract.NewClient()
	defer client.Close()
	v := client.Version()
	return v, v != ""
}
