// Package httpapi exposes the grading pipeline over HTTP for the web and
// mobile clients that upload sheet photos directly.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
	"github.com/ironsheep/omr-grader-mcp/internal/pipeline"
)

// DefaultMaxUpload caps the multipart body of /process_direct.
const DefaultMaxUpload = 20 << 20

// Options configures the API.
type Options struct {
	MaxUpload int64

	// Health reports whether the detector back end is usable. Nil means
	// always healthy.
	Health func(ctx context.Context) error

	Logger *slog.Logger
}

// API serves the HTTP surface.
type API struct {
	proc *pipeline.Processor
	pool *pipeline.Pool
	opts Options
	log  *slog.Logger
}

// New creates the API around a processor and its worker pool.
func New(proc *pipeline.Processor, pool *pipeline.Pool, opts Options) *API {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &API{proc: proc, pool: pool, opts: opts, log: opts.Logger}
}

// Router returns the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.logRequests)
	r.HandleFunc("/process_direct", a.processDirect).Methods(http.MethodPost)
	r.HandleFunc("/tests/{id}/scheme", a.getScheme).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}/scripts", a.listScripts).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}/regrade", a.regrade).Methods(http.MethodPost)
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down http api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// processDirect reads one uploaded sheet. Form fields: file, test_id,
// end_number (question count), digit_count (default 7) and scheme_or_paper
// (true for the key sheet).
func (a *API) processDirect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxUpload)
	if err := r.ParseMultipartForm(a.opts.MaxUpload); err != nil {
		a.writeError(w, omrerr.Wrap(omrerr.KindInvalidInput, err, "malformed upload"), nil)
		return
	}

	req, err := parseRequest(r)
	if err != nil {
		a.writeError(w, err, nil)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, omrerr.Wrap(omrerr.KindInvalidInput, err, "file is required"), nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.writeError(w, omrerr.Wrap(omrerr.KindInvalidInput, err, "failed to read upload"), nil)
		return
	}

	out, err := pipeline.Run(r.Context(), a.pool, func(ctx context.Context) (*pipeline.Outcome, error) {
		img, _, err := imaging.Decode(data)
		if err != nil {
			return nil, err
		}
		req.Image = img
		return a.proc.Process(ctx, req)
	})
	if err != nil {
		var partial interface{}
		if out != nil {
			partial = out
		}
		a.writeError(w, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func parseRequest(r *http.Request) (pipeline.Request, error) {
	req := pipeline.Request{
		TestID: r.FormValue("test_id"),
		Digits: grid.DefaultTemplate().IndexDigits,
	}
	if req.TestID == "" {
		return req, omrerr.New(omrerr.KindInvalidInput, "test_id is required")
	}

	n, err := strconv.Atoi(r.FormValue("end_number"))
	if err != nil {
		return req, omrerr.Wrap(omrerr.KindInvalidInput, err, "end_number must be an integer")
	}
	req.Questions = n

	if v := r.FormValue("digit_count"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return req, omrerr.Wrap(omrerr.KindInvalidInput, err, "digit_count must be an integer")
		}
		req.Digits = k
	}

	if v := r.FormValue("scheme_or_paper"); v != "" {
		key, err := strconv.ParseBool(v)
		if err != nil {
			return req, omrerr.Wrap(omrerr.KindInvalidInput, err, "scheme_or_paper must be a boolean")
		}
		req.KeySheet = key
	}
	return req, nil
}

func (a *API) getScheme(w http.ResponseWriter, r *http.Request) {
	scheme, err := a.proc.Scheme(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

func (a *API) listScripts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	scripts, err := a.proc.Scripts(r.Context(), id)
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"test_id": id,
		"scripts": scripts,
	})
}

func (a *API) regrade(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := pipeline.Run(r.Context(), a.pool, func(ctx context.Context) (*pipeline.RegradeReport, error) {
		return a.proc.Regrade(ctx, id)
	})
	if err != nil {
		a.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.opts.Health != nil {
		if err := a.opts.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   errorDetail `json:"error"`
	Partial interface{} `json:"partial,omitempty"`
}

type errorDetail struct {
	Kind      omrerr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Questions []int       `json:"questions,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind omrerr.Kind) int {
	switch kind {
	case omrerr.KindInvalidInput:
		return http.StatusBadRequest
	case omrerr.KindImageUnusable, omrerr.KindDetectionEmpty, omrerr.KindIncompleteScheme,
		omrerr.KindLayoutMismatch, omrerr.KindIndexIncomplete:
		return http.StatusUnprocessableEntity
	case omrerr.KindNoSchemeYet:
		return http.StatusConflict
	case omrerr.KindServerBusy:
		return http.StatusServiceUnavailable
	case omrerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error, partial interface{}) {
	kind := omrerr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "err", err)
	}
	body := errorBody{
		Error: errorDetail{
			Kind:      kind,
			Message:   err.Error(),
			Questions: omrerr.QuestionsOf(err),
		},
		Partial: partial,
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
