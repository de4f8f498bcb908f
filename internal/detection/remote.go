package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// RemoteDetector delegates inference to an external prediction service.
//
// The image is posted as a multipart "file" field; the service answers with
// {"detections":[{"x":..,"y":..,"width":..,"height":..,"class":"mark","confidence":..}]}
// in the coordinates of the posted image.
type RemoteDetector struct {
	url    string
	client *http.Client
}

// NewRemoteDetector creates a detector posting to endpoint. A nil client
// uses http.DefaultClient.
func NewRemoteDetector(endpoint string, client *http.Client) *RemoteDetector {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteDetector{url: endpoint, client: client}
}

type remoteBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
}

type remoteResponse struct {
	Detections []remoteBox `json:"detections"`
}

// Detect encodes img as PNG and posts it to the prediction service.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]Mark, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "sheet.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	marks := make([]Mark, 0, len(result.Detections))
	for _, b := range result.Detections {
		marks = append(marks, Mark{
			Box:        Box{X1: b.X, Y1: b.Y, X2: b.X + b.Width, Y2: b.Y + b.Height},
			Class:      b.Class,
			Confidence: b.Confidence,
		})
	}
	return marks, nil
}

// CheckHealth asks the service's /health endpoint whether it is up. The
// path is resolved against the service root, so a prediction URL of
// http://host:5000/predict is checked at http://host:5000/health.
func (d *RemoteDetector) CheckHealth(ctx context.Context) error {
	base, err := url.Parse(d.url)
	if err != nil {
		return fmt.Errorf("invalid inference url: %w", err)
	}
	health := base.ResolveReference(&url.URL{Path: "/health"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, health.String(), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
