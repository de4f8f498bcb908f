package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/omr-grader-mcp/internal/config"
	"github.com/ironsheep/omr-grader-mcp/internal/detection"
	"github.com/ironsheep/omr-grader-mcp/internal/httpapi"
	"github.com/ironsheep/omr-grader-mcp/internal/imaging"
	"github.com/ironsheep/omr-grader-mcp/internal/ocr"
	"github.com/ironsheep/omr-grader-mcp/internal/pipeline"
	"github.com/ironsheep/omr-grader-mcp/internal/server"
	"github.com/ironsheep/omr-grader-mcp/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	fmt.Println("omr-grader - answer sheet grading over MCP or HTTP")
	fmt.Println()
	fmt.Println("Usage: omr-grader [mcp|http] [options]")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  mcp              Serve MCP over stdin/stdout (default)")
	fmt.Println("  http             Serve the HTTP API on OMR_HTTP_ADDR")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables (also read from .env):")
	fmt.Println("  OMR_LOG_LEVEL=debug           Enable debug logging")
	fmt.Println("  OMR_DETECTOR=blob|remote|onnx Mark detector back end")
	fmt.Println("  OMR_MODEL_PATH                ONNX model for the onnx back end")
	fmt.Println("  OMR_INFERENCE_URL             Prediction endpoint for the remote back end")
	fmt.Println("  OMR_DATABASE_URL              PostgreSQL DSN (memory store when empty)")
	fmt.Println("  OMR_HTTP_ADDR                 HTTP listen address (default :8080)")
	fmt.Println("  OMR_WORKERS, OMR_QUEUE_DEPTH  Worker pool size and queue depth")
	fmt.Println("  OMR_SHEET_LABEL_OCR=true      Cross-check the printed test label")
}

func main() {
	mode := "mcp"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("omr-grader %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		case "mcp", "http":
			mode = os.Args[1]
		default:
			fmt.Fprintf(os.Stderr, "unknown argument %q\n\n", os.Args[1])
			usage()
			os.Exit(2)
		}
	}

	cfg := config.Load()

	// Configure logging to stderr (stdout is for MCP protocol)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)
	log.Debug("omr grader starting", "version", Version, "built", BuildTime, "commit", GitCommit, "mode", mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, cfg, log); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, cfg *config.Config, log *slog.Logger) error {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	models := detection.NewModelProvider(func(ctx context.Context) (detection.Detector, error) {
		return detection.Open(ctx, detection.Options{
			Backend:      cfg.Detector,
			ModelPath:    cfg.ModelPath,
			InferenceURL: cfg.InferenceURL,
			InputSize:    cfg.InputSize,
		})
	})

	opts := pipeline.Options{
		Normalize: imaging.NormalizeOptions{
			InputSize:      cfg.InputSize,
			MinEdge:        cfg.MinEdge,
			VarianceFloor:  cfg.VarianceFloor,
			SharpnessFloor: cfg.SharpnessFloor,
		},
		Filter: detection.FilterOptions{
			ConfThreshold: cfg.ConfThreshold,
			IoUThreshold:  cfg.IoUThreshold,
		},
		Margin: cfg.AmbiguityMargin,
		Logger: log,
	}
	if cfg.SheetLabelOCR {
		if version, ok := ocr.Available(); ok {
			log.Info("sheet label check enabled", "tesseract", version, "language", cfg.OCRLanguage)
			opts.Labels = ocr.NewReader(cfg.OCRLanguage)
		} else {
			log.Warn("sheet label check requested but Tesseract is unavailable")
		}
	}

	proc := pipeline.NewProcessor(models, st, opts)
	pool := pipeline.NewPool(pipeline.PoolOptions{
		Workers:      cfg.Workers,
		QueueDepth:   cfg.QueueDepth,
		QueueTimeout: cfg.QueueTimeout,
		RunTimeout:   cfg.RunTimeout,
	})

	switch mode {
	case "http":
		api := httpapi.New(proc, pool, httpapi.Options{
			Health: func(ctx context.Context) error { return detectorHealth(ctx, models) },
			Logger: log,
		})
		return api.ListenAndServe(ctx, cfg.HTTPAddr)
	default:
		return server.New(proc, pool, log).Run(ctx)
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory store; results are lost on exit")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("using postgres store")
	return pg, nil
}

// detectorHealth loads the detector and, for a remote back end, pings it.
func detectorHealth(ctx context.Context, models *detection.ModelProvider) error {
	det, err := models.Get(ctx)
	if err != nil {
		return err
	}
	if hc, ok := det.(interface{ CheckHealth(context.Context) error }); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}
