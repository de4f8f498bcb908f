//go:build !cgo

package ocr

func recognize(png []byte, language string) (string, float64, error) {
	return "", 0, ErrUnavailable
}

// Available reports whether Tesseract can be initialised.
func Available() (string, bool) { return "", false }
