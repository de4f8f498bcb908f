package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
	"github.com/ironsheep/omr-grader-mcp/internal/ocr"
	"github.com/ironsheep/omr-grader-mcp/internal/omr"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
	"github.com/ironsheep/omr-grader-mcp/internal/store"
)

// Options configures a Processor. Zero values fall back to each package's
// defaults.
type Options struct {
	Normalize imaging.NormalizeOptions
	Filter    detection.FilterOptions
	Grid      grid.Options
	Margin    float64

	// Labels enables the printed-label cross-check when non-nil.
	Labels *ocr.Reader

	Logger *slog.Logger
}

// Request is one sheet submission.
type Request struct {
	TestID    string
	Questions int
	Digits    int
	KeySheet  bool
	Image     image.Image
}

// Layout returns the grid layout for the request's counts.
func (r Request) Layout() grid.Layout { return grid.NewLayout(r.Questions, r.Digits) }

// Validate checks the request before any image work is done.
func (r Request) Validate() error {
	if r.TestID == "" {
		return omrerr.New(omrerr.KindInvalidInput, "test id is required")
	}
	if r.Image == nil {
		return omrerr.New(omrerr.KindInvalidInput, "image is required")
	}
	return r.Layout().Validate()
}

// Analysis holds every intermediate product of reading one sheet.
type Analysis struct {
	Normalized *imaging.Normalized
	Layout     grid.Layout

	// Raw is the detector output before thresholding and NMS.
	Raw   []detection.Mark
	Marks []detection.Mark
	Zones []grid.Zone
	Sheet *grid.Sheet
}

// Outcome is the result of processing a sheet.
type Outcome struct {
	Record *omr.AnswerRecord  `json:"record"`
	Scheme *omr.MarkScheme    `json:"scheme,omitempty"`
	Result *omr.GradingResult `json:"result,omitempty"`
	Marks  int                `json:"marks"`
	Stray  int                `json:"stray"`
}

// RegradeReport lists the results of an explicit regrade.
type RegradeReport struct {
	TestID        string               `json:"test_id"`
	SchemeVersion int                  `json:"scheme_version"`
	Results       []*omr.GradingResult `json:"results"`
}

// Processor runs the detection-to-grade pipeline. It keeps no per-request
// state; the detector handle and the store are shared.
type Processor struct {
	normalizer *imaging.Normalizer
	detector   detection.Detector
	filter     detection.FilterOptions
	assembler  *grid.Assembler
	resolver   *omr.Resolver
	store      store.Store
	labels     *ocr.Reader
	locks      *keyedMutex
	log        *slog.Logger
}

// NewProcessor wires a processor around a detector and a store. Zero
// Normalize or Filter options select the package defaults.
func NewProcessor(det detection.Detector, st store.Store, opts Options) *Processor {
	if opts.Normalize == (imaging.NormalizeOptions{}) {
		opts.Normalize = imaging.DefaultNormalizeOptions()
	}
	if opts.Filter == (detection.FilterOptions{}) {
		opts.Filter = detection.DefaultFilterOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		normalizer: imaging.NewNormalizer(opts.Normalize),
		detector:   det,
		filter:     opts.Filter,
		assembler:  grid.NewAssembler(opts.Grid),
		resolver:   omr.NewResolver(opts.Margin),
		store:      st,
		labels:     opts.Labels,
		locks:      newKeyedMutex(),
		log:        opts.Logger,
	}
}

// Analyze normalizes img, detects marks and assembles them into grids.
//
// # Errors
//
// ImageUnusable and InvalidInput return a nil analysis. DetectionEmpty returns
// the analysis up to detection so the raw output can still be inspected.
func (p *Processor) Analyze(ctx context.Context, img image.Image, layout grid.Layout) (*Analysis, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	norm, err := p.normalizer.Normalize(img)
	if err != nil {
		return nil, err
	}

	raw, err := p.detector.Detect(ctx, norm.Image)
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("detection failed: %w", err))
	}
	a := &Analysis{Normalized: norm, Layout: layout, Raw: raw}

	a.Marks, err = detection.Filter(raw, p.filter)
	if err != nil {
		return a, err
	}
	a.Zones = layout.Zones(norm.Content, a.Marks)
	a.Sheet = p.assembler.Assemble(a.Marks, a.Zones, layout)
	return a, nil
}

// Process reads a sheet and either commits it as the test's scheme (key
// sheet) or grades and stores it (script).
//
// A script submitted before any scheme exists is stored unscored with a
// no_scheme_yet warning. A key sheet with unresolved questions returns the
// record and an IncompleteScheme error; the stored scheme is untouched.
// Nothing is persisted once ctx has ended.
func (p *Processor) Process(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := p.log.With("test", req.TestID, "key_sheet", req.KeySheet)

	a, err := p.Analyze(ctx, req.Image, req.Layout())
	if err != nil {
		log.Warn("sheet rejected", "kind", omrerr.KindOf(err), "err", err, "elapsed", time.Since(start))
		return nil, err
	}

	rec := p.resolver.Read(a.Sheet, req.TestID)
	p.checkLabel(ctx, a, rec)

	out := &Outcome{
		Record: rec,
		Marks:  detection.Count(a.Marks, detection.ClassMark),
		Stray:  a.Sheet.Stray,
	}
	if req.KeySheet {
		err = p.commitKey(ctx, rec, out)
	} else {
		err = p.gradeScript(ctx, rec, out)
	}

	log.Info("sheet processed",
		"record", rec.ID,
		"marks", out.Marks,
		"stray", out.Stray,
		"index", rec.IndexRaw,
		"warnings", len(rec.Warnings),
		"kind", kindOrOK(err),
		"elapsed", time.Since(start))
	return out, err
}

func (p *Processor) commitKey(ctx context.Context, rec *omr.AnswerRecord, out *Outcome) error {
	scheme, err := omr.BuildScheme(rec)
	if err != nil {
		return err
	}

	unlock := p.locks.Lock(rec.TestID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return ctxErr(ctx, err)
	}
	version, err := p.store.SaveScheme(ctx, scheme)
	if err != nil {
		return ctxErr(ctx, fmt.Errorf("failed to commit scheme: %w", err))
	}
	scheme.Version = version
	out.Scheme = scheme
	return nil
}

func (p *Processor) gradeScript(ctx context.Context, rec *omr.AnswerRecord, out *Outcome) error {
	scheme, err := p.store.GetScheme(ctx, rec.TestID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ctxErr(ctx, fmt.Errorf("failed to load scheme: %w", err))
	}

	res, err := omr.Grade(rec, scheme)
	if err != nil {
		rec.Warnings = append(rec.Warnings, omr.WarningFrom(err))
	}

	if err := ctx.Err(); err != nil {
		return ctxErr(ctx, err)
	}
	if err := p.store.SaveScript(ctx, rec, res); err != nil {
		return ctxErr(ctx, fmt.Errorf("failed to save script: %w", err))
	}
	out.Result = res
	return nil
}

func (p *Processor) checkLabel(ctx context.Context, a *Analysis, rec *omr.AnswerRecord) {
	if p.labels == nil {
		return
	}
	label, err := p.labels.Read(ctx, a.Normalized.Image, a.Normalized.Content)
	if err != nil {
		p.log.Debug("sheet label not read", "test", rec.TestID, "err", err)
		return
	}
	rec.SheetLabel = label.Text
	if label.Text != "" && !ocr.Matches(label.Text, rec.TestID) {
		rec.Warnings = append(rec.Warnings, omr.Warning{
			Kind:    omrerr.KindLabelMismatch,
			Message: fmt.Sprintf("printed label %q does not name test %q", label.Text, rec.TestID),
		})
	}
}

// Scheme returns the committed scheme of a test, or NoSchemeYet.
func (p *Processor) Scheme(ctx context.Context, testID string) (*omr.MarkScheme, error) {
	s, err := p.store.GetScheme(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, omrerr.New(omrerr.KindNoSchemeYet, "test %q has no committed mark scheme", testID)
	}
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return s, nil
}

// Scripts lists the stored scripts of a test in submission order.
func (p *Processor) Scripts(ctx context.Context, testID string) ([]store.Script, error) {
	scripts, err := p.store.ListScripts(ctx, testID)
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("failed to list scripts: %w", err))
	}
	return scripts, nil
}

// Regrade grades every stored script of a test against the current scheme
// and stores the new results. It runs only when a caller asks for it. The
// test's commit lock is held so the scheme cannot change mid-run.
func (p *Processor) Regrade(ctx context.Context, testID string) (*RegradeReport, error) {
	unlock := p.locks.Lock(testID)
	defer unlock()

	scheme, err := p.Scheme(ctx, testID)
	if err != nil {
		return nil, err
	}
	scripts, err := p.store.ListScripts(ctx, testID)
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("failed to list scripts: %w", err))
	}

	report := &RegradeReport{TestID: testID, SchemeVersion: scheme.Version}
	for _, sc := range scripts {
		res, err := omr.Grade(sc.Record, scheme)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, ctxErr(ctx, err)
		}
		if err := p.store.SaveScript(ctx, sc.Record, res); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("failed to save script %s: %w", sc.Record.ID, err))
		}
		report.Results = append(report.Results, res)
	}

	p.log.Info("test regraded", "test", testID, "scheme_version", scheme.Version, "scripts", len(report.Results))
	return report, nil
}

// ctxErr classifies err as Timeout when ctx's deadline has passed.
func ctxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return omrerr.Wrap(omrerr.KindTimeout, err, "processing exceeded its deadline")
	}
	return err
}

func kindOrOK(err error) string {
	if err == nil {
		return "ok"
	}
	return string(omrerr.KindOf(err))
}
