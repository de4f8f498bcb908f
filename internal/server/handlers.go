package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
	"github.com/ironsheep/omr-grader-mcp/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "omr_process_sheet").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
// Classified pipeline errors carry their kind and affected questions in the
// error data. A key sheet refused as incomplete still returns its record.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Debug("tool failed", "tool", params.Name, "err", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", errorData(err, result))
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Tools that touch an image run on the worker pool, so a saturated server
// answers server_busy instead of queueing without bound.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Grading
	case "omr_process_sheet":
		return s.handleProcessSheet(ctx, args)
	case "omr_get_scheme":
		return s.handleGetScheme(ctx, args)
	case "omr_regrade":
		return s.handleRegrade(ctx, args)

	// Inspection
	case "omr_detect_marks":
		return s.handleDetectMarks(ctx, args)
	case "omr_render_overlay":
		return s.handleRenderOverlay(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// toolError is the error data of a classified failure.
type toolError struct {
	Kind      omrerr.Kind `json:"kind"`
	Questions []int       `json:"questions,omitempty"`
	Message   string      `json:"message"`
	Partial   interface{} `json:"partial,omitempty"`
}

func errorData(err error, partial interface{}) interface{} {
	var oe *omrerr.Error
	if !errors.As(err, &oe) {
		return err.Error()
	}
	return toolError{
		Kind:      oe.Kind,
		Questions: oe.Questions,
		Message:   err.Error(),
		Partial:   partial,
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return omrerr.Wrap(omrerr.KindInvalidInput, err, "malformed arguments")
	}
	return nil
}

// === Sheet Arguments ===

// sheetArgs are the arguments every sheet tool accepts. Digits defaults to
// the printed index length when omitted.
type sheetArgs struct {
	Path      string `json:"path"`
	Questions int    `json:"questions"`
	Digits    int    `json:"digits"`
}

func (a sheetArgs) layout() grid.Layout {
	digits := a.Digits
	if digits == 0 {
		digits = grid.DefaultTemplate().IndexDigits
	}
	return grid.NewLayout(a.Questions, digits)
}

// validate rejects a missing path and counts the template cannot hold, both
// as InvalidInput.
func (a sheetArgs) validate() error {
	if a.Path == "" {
		return omrerr.New(omrerr.KindInvalidInput, "path is required")
	}
	return a.layout().Validate()
}

// analyze loads the sheet and runs it up to grid assembly on the pool.
//
// The decoded photo stays in the cache so a following inspection call on
// the same path skips the decode.
//
// # Errors
//
//   - InvalidInput for bad arguments or an unreadable path
//   - ImageUnusable when the photo fails the quality floor
//   - DetectionEmpty with a non-nil analysis holding the raw detections
//   - ServerBusy or Timeout from the pool
func (s *Server) analyze(ctx context.Context, a sheetArgs) (*pipeline.Analysis, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	return pipeline.Run(ctx, s.pool, func(ctx context.Context) (*pipeline.Analysis, error) {
		img, err := s.cache.Load(a.Path)
		if err != nil {
			return nil, err
		}
		return s.proc.Analyze(ctx, img, a.layout())
	})
}

// === Grading Handlers ===

type processSheetArgs struct {
	sheetArgs
	TestID   string `json:"test_id"`
	KeySheet bool   `json:"key_sheet"`
}

// handleProcessSheet implements omr_process_sheet.
//
// A key sheet is committed as the test's scheme; any other sheet is graded
// against the current scheme and stored. The photo is evicted from the cache
// whatever the outcome.
//
// Returns:
//   - *pipeline.Outcome: The record, plus the new scheme for a key sheet or
//     the grading result for a script.
//   - error: Classified failure. An IncompleteScheme error is returned
//     together with the outcome so the refused record reaches the client.
func (s *Server) handleProcessSheet(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a processSheetArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, omrerr.New(omrerr.KindInvalidInput, "path is required")
	}
	defer s.cache.Evict(a.Path)

	out, err := pipeline.Run(ctx, s.pool, func(ctx context.Context) (*pipeline.Outcome, error) {
		img, err := s.cache.Load(a.Path)
		if err != nil {
			return nil, err
		}
		layout := a.layout()
		return s.proc.Process(ctx, pipeline.Request{
			TestID:    a.TestID,
			Questions: layout.Questions,
			Digits:    layout.Digits,
			KeySheet:  a.KeySheet,
			Image:     img,
		})
	})
	if out == nil {
		return nil, err
	}
	return out, err
}

type testArgs struct {
	TestID string `json:"test_id"`
}

func (a testArgs) validate() error {
	if a.TestID == "" {
		return omrerr.New(omrerr.KindInvalidInput, "test_id is required")
	}
	return nil
}

// handleGetScheme implements omr_get_scheme. A test without a committed
// scheme answers no_scheme_yet.
func (s *Server) handleGetScheme(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a testArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	scheme, err := s.proc.Scheme(ctx, a.TestID)
	if err != nil {
		return nil, err
	}
	return scheme, nil
}

// handleRegrade implements omr_regrade. It runs on the pool because a large
// test regrades many scripts.
func (s *Server) handleRegrade(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a testArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	report, err := pipeline.Run(ctx, s.pool, func(ctx context.Context) (*pipeline.RegradeReport, error) {
		return s.proc.Regrade(ctx, a.TestID)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// === Inspection Handlers ===

type detectMarksArgs struct {
	sheetArgs
	IncludeRaw bool `json:"include_raw"`
}

// DetectMarksResult is the inspection view of one analyzed sheet.
type DetectMarksResult struct {
	Quality  imaging.Quality  `json:"quality"`
	Scale    float64          `json:"scale"`
	Accepted int              `json:"accepted"`
	Marks    []detection.Mark `json:"marks"`
	Raw      []detection.Mark `json:"raw,omitempty"`
	Zones    []grid.ZoneStats `json:"zones,omitempty"`
	Index    *grid.Grid       `json:"index,omitempty"`
	Answers  *grid.Grid       `json:"answers,omitempty"`
	Stray    int              `json:"stray"`
	Warnings []*omrerr.Error  `json:"warnings,omitempty"`
}

// handleDetectMarks implements omr_detect_marks.
//
// Nothing is persisted. Grid-level layout problems are reported in Warnings
// rather than as an error so the operator still sees every placement. When
// detection comes back empty the raw detector output is returned alongside
// the DetectionEmpty error.
func (s *Server) handleDetectMarks(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectMarksArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	an, err := s.analyze(ctx, a.sheetArgs)
	if an == nil {
		return nil, err
	}
	res := &DetectMarksResult{
		Quality:  an.Normalized.Quality,
		Scale:    an.Normalized.Scale,
		Accepted: detection.Count(an.Marks, detection.ClassMark),
		Marks:    an.Marks,
	}
	if a.IncludeRaw {
		res.Raw = an.Raw
	}
	if err != nil {
		// Detection came back empty; the raw output is the useful part.
		res.Raw = an.Raw
		return res, err
	}

	res.Zones = an.Sheet.Zones
	res.Index = &an.Sheet.Index
	res.Answers = &an.Sheet.Answers
	res.Stray = an.Sheet.Stray
	for _, g := range []*grid.Grid{&an.Sheet.Index, &an.Sheet.Answers} {
		var oe *omrerr.Error
		if errors.As(g.Err(), &oe) {
			res.Warnings = append(res.Warnings, oe)
		}
	}
	return res, nil
}

type renderOverlayArgs struct {
	sheetArgs
	ShowGrid     *bool   `json:"show_grid"`
	ShowRejected bool    `json:"show_rejected"`
	Scale        float64 `json:"scale"`
}

// RenderOverlayResult is the rendered overlay plus a count summary.
type RenderOverlayResult struct {
	*imaging.EncodedImage
	Marks    int `json:"marks"`
	Rejected int `json:"rejected"`
	Zones    int `json:"zones"`
}

// handleRenderOverlay implements omr_render_overlay.
//
// The grid is drawn unless show_grid is false; scale resizes the PNG and
// defaults to 1.0. Nothing is persisted.
func (s *Server) handleRenderOverlay(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a renderOverlayArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	showGrid := true
	if a.ShowGrid != nil {
		showGrid = *a.ShowGrid
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	if a.Scale < 0.1 || a.Scale > 4 {
		return nil, omrerr.New(omrerr.KindInvalidInput, "scale %.2f out of range 0.1-4", a.Scale)
	}

	an, err := s.analyze(ctx, a.sheetArgs)
	if an == nil {
		return nil, err
	}
	// An empty detection still renders: the raw marks show what was rejected.
	canvas := an.RenderOverlay(pipeline.OverlayOptions{
		ExpectedGrid: showGrid,
		Rejected:     a.ShowRejected,
	})
	img, err := imaging.CropRegion(canvas, canvas.Bounds(), a.Scale)
	if err != nil {
		return nil, err
	}
	enc, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &RenderOverlayResult{
		EncodedImage: enc,
		Marks:        detection.Count(an.Marks, detection.ClassMark),
		Rejected:     len(an.Raw) - len(an.Marks),
		Zones:        len(an.Zones),
	}, nil
}
