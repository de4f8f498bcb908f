package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Detector finds candidate marks and zone boxes in a normalized sheet image.
//
// Implementations return raw detections; callers apply Filter. Detect must be
// safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Mark, error)
}

// Options selects and configures a detector back end.
type Options struct {
	// Backend is "blob", "remote" or "onnx".
	Backend string

	// ModelPath is the ONNX export used by the "onnx" back end.
	ModelPath string

	// InferenceURL is the prediction endpoint used by the "remote" back end.
	InferenceURL string

	// InputSize is the square input side the model was trained at.
	InputSize int

	Blob BlobOptions
}

// Open builds the detector named by opts.Backend.
//
// The "onnx" back end requires a binary built with the gocv tag.
func Open(ctx context.Context, opts Options) (Detector, error) {
	switch opts.Backend {
	case "", "blob":
		return NewBlobDetector(opts.Blob), nil
	case "remote":
		if opts.InferenceURL == "" {
			return nil, fmt.Errorf("remote detector requires an inference URL")
		}
		return NewRemoteDetector(opts.InferenceURL, &http.Client{Timeout: 60 * time.Second}), nil
	case "onnx":
		return openONNX(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", opts.Backend)
	}
}

// LoadFunc loads a detector. It is called at most once per successful load.
type LoadFunc func(ctx context.Context) (Detector, error)

// ModelProvider holds the process-wide detector handle.
//
// The handle is loaded lazily on first use. Concurrent first callers share a
// single load; the loaded detector is never replaced. A failed load is not
// cached, so a later call retries.
//
// ModelProvider itself implements Detector.
type ModelProvider struct {
	load  LoadFunc
	group singleflight.Group

	mu  sync.RWMutex
	det Detector
}

// NewModelProvider creates a provider around load.
func NewModelProvider(load LoadFunc) *ModelProvider {
	return &ModelProvider{load: load}
}

// NewStaticProvider wraps an already loaded detector.
func NewStaticProvider(det Detector) *ModelProvider {
	return &ModelProvider{det: det}
}

// Get returns the loaded detector, loading it if needed.
func (p *ModelProvider) Get(ctx context.Context) (Detector, error) {
	p.mu.RLock()
	det := p.det
	p.mu.RUnlock()
	if det != nil {
		return det, nil
	}

	ch := p.group.DoChan("model", func() (interface{}, error) {
		p.mu.RLock()
		existing := p.det
		p.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		start := time.Now()
		// The load is shared, so one caller's cancellation must not abort it.
		loaded, err := p.load(context.WithoutCancel(ctx))
		if err != nil {
			slog.Error("detector load failed", "err", err)
			return nil, err
		}
		slog.Info("detector loaded", "type", fmt.Sprintf("%T", loaded), "elapsed", time.Since(start))

		p.mu.Lock()
		p.det = loaded
		p.mu.Unlock()
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Detector), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded reports whether the handle has been loaded.
func (p *ModelProvider) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.det != nil
}

// Detect loads the detector if needed and runs it.
func (p *ModelProvider) Detect(ctx context.Context, img image.Image) ([]Mark, error) {
	det, err := p.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load detector: %w", err)
	}
	return det.Detect(ctx, img)
}
