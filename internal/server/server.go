package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
	"github.com/ironsheep/omr-grader-mcp/internal/pipeline"
)

// Version is reported in the initialize handshake.
var Version = "0.1.0"

// Server handles MCP protocol communication for the grading tools.
//
// A Server owns an image cache shared by the inspection tools and hands
// sheet work to a pipeline.Processor through a bounded pipeline.Pool. It
// keeps no per-test state of its own; schemes and scripts live in the
// processor's store.
//
// Requests are handled one at a time in the order they arrive on the input
// stream, so a Server must not be shared between two Serve calls.
type Server struct {
	proc  *pipeline.Processor
	pool  *pipeline.Pool
	cache *imaging.ImageCache
	log   *slog.Logger
}

// MCPRequest represents an incoming JSON-RPC request.
//
// ID is nil for notifications, which never receive a response. Params is
// decoded lazily by the method handler.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response. Exactly one of
// Result and Error is set.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error.
//
// Tool failures use code -32000 with a toolError in Data; protocol failures
// use the standard JSON-RPC codes (-32601 method not found, -32602 invalid
// params).
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a new MCP server instance.
//
// Parameters:
//   - proc: The grading pipeline every sheet tool runs through.
//   - pool: The worker pool bounding concurrent sheet work. A full pool
//     makes sheet tools answer server_busy.
//   - log: Structured logger for protocol and tool errors. Nil uses
//     slog.Default().
//
// The returned server has an empty image cache and is ready for Run or Serve.
func New(proc *pipeline.Processor, pool *pipeline.Pool, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		proc:  proc,
		pool:  pool,
		cache: imaging.NewImageCache(),
		log:   log,
	}
}

// Run serves MCP over stdin/stdout until stdin closes or ctx ends.
//
// Logging must go to stderr while Run is active; stdout carries the protocol.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w. Requests are handled one at a time.
//
// Parameters:
//   - ctx: Cancels the loop between requests and is passed to every tool.
//   - r: Request stream, one JSON object per line. Blank lines are skipped.
//   - w: Response stream, one JSON object per line.
//
// Returns:
//   - error: nil when r reaches EOF, ctx.Err() when ctx ends first.
//
// # Errors
//
//   - Lines that are not valid JSON are logged and skipped without a response
//   - Lines longer than 1 MiB stop the loop with a scanner error
//   - A response that cannot be encoded is logged and dropped
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("failed to parse request", "err", err)
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.log.Error("failed to encode response", "err", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers. It returns nil for
// notifications.
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request with the protocol
// version, the tools capability and the server identity.
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "omr-grader-mcp",
				"version": Version,
			},
		},
	}
}
