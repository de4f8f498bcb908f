package server

// Tool represents an MCP tool definition as returned by tools/list.
//
// InputSchema is a JSON Schema object describing the tool's arguments.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// sheetProperties are the arguments shared by every tool that reads a sheet.
func sheetProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the sheet photo (PNG, JPEG, GIF, BMP, TIFF or WebP)",
		},
		"questions": map[string]interface{}{
			"type":        "integer",
			"description": "Number of questions N on the test (1-200)",
			"minimum":     1,
			"maximum":     200,
		},
		"digits": map[string]interface{}{
			"type":        "integer",
			"description": "Number of index-number digits K (1-7). Default 7",
			"default":     7,
		},
	}
}

// with adds extra properties to base and returns it.
func with(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// GetToolDefinitions returns all available tools.
//
// The grading tools (omr_process_sheet, omr_get_scheme, omr_regrade) change
// or read stored state; the inspection tools (omr_detect_marks,
// omr_render_overlay) only analyze a photo. Every sheet tool shares the
// path, questions and digits arguments from sheetProperties.
func GetToolDefinitions() []Tool {
	return []Tool{
		// Grading
		{
			Name: "omr_process_sheet",
			Description: "Read an answer sheet photo. With key_sheet=true the sheet becomes the test's mark scheme " +
				"(every question must have exactly one shaded option). Otherwise the sheet is graded against the " +
				"committed scheme and stored; without a scheme it is stored unscored.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": with(sheetProperties(), map[string]interface{}{
					"test_id": map[string]interface{}{
						"type":        "string",
						"description": "Identifier of the test the sheet belongs to",
					},
					"key_sheet": map[string]interface{}{
						"type":        "boolean",
						"description": "True when this is the instructor's key sheet. Default false",
						"default":     false,
					},
				}),
				"required": []string{"path", "test_id", "questions"},
			},
		},
		{
			Name:        "omr_get_scheme",
			Description: "Return the committed mark scheme of a test, including its version.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"test_id": map[string]interface{}{
						"type":        "string",
						"description": "Identifier of the test",
					},
				},
				"required": []string{"test_id"},
			},
		},
		{
			Name:        "omr_regrade",
			Description: "Re-grade every stored script of a test against its current mark scheme and store the new results.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"test_id": map[string]interface{}{
						"type":        "string",
						"description": "Identifier of the test",
					},
				},
				"required": []string{"test_id"},
			},
		},

		// Inspection
		{
			Name: "omr_detect_marks",
			Description: "Run detection and grid assembly on a sheet without grading or storing anything. " +
				"Returns the accepted marks, zones, per-row placements and capture quality.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": with(sheetProperties(), map[string]interface{}{
					"include_raw": map[string]interface{}{
						"type":        "boolean",
						"description": "Also return raw detections before thresholding and NMS. Default false",
						"default":     false,
					},
				}),
				"required": []string{"path", "questions"},
			},
		},
		{
			Name: "omr_render_overlay",
			Description: "Draw the analysis over the normalized sheet and return it as base64 PNG: zones red, " +
				"detected zone boxes yellow, expected bubble centres blue, accepted marks green with confidence, " +
				"rejected detections orange.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": with(sheetProperties(), map[string]interface{}{
					"show_grid": map[string]interface{}{
						"type":        "boolean",
						"description": "Draw expected bubble centres. Default true",
						"default":     true,
					},
					"show_rejected": map[string]interface{}{
						"type":        "boolean",
						"description": "Draw detections dropped by thresholding or NMS. Default false",
						"default":     false,
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor for the returned image. Default 1.0",
						"default":     1.0,
					},
				}),
				"required": []string{"path", "questions"},
			},
		},
	}
}

// handleToolsList returns the list of available tools.
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
