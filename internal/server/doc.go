// Package server implements the MCP (Model Context Protocol) server for
// answer sheet grading.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Grading:
//   - omr_process_sheet: Commit a key sheet as the mark scheme, or grade and store a script
//   - omr_get_scheme: Return the committed mark scheme of a test
//   - omr_regrade: Re-grade every stored script of a test
//
// Inspection:
//   - omr_detect_marks: Detections, zones and per-row placements without grading
//   - omr_render_overlay: The analysis drawn over the normalized sheet as PNG
//
// Sheet tools run on a bounded worker pool. A saturated pool answers
// server_busy; a job that exceeds its deadline answers timeout.
//
// # Image Caching
//
// Inspection tools cache decoded photos by path so an operator can detect,
// then render, the same sheet without a second decode. omr_process_sheet
// evicts its path once the sheet is graded.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with
// code -32000. When the failure is classified, data holds its kind
// (image_unusable, incomplete_scheme, ...), the affected question numbers and,
// for a refused key sheet, the partial record under "partial".
package server
