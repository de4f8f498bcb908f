// Package config loads runtime settings from the environment.
//
// A .env file in the working directory (or the file named by OMR_ENV_FILE) is
// read first when present; variables already set in the environment win.
// Every threshold here is calibration and can be tuned per deployment.
package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string

	// Detector selects the mark detector back end: "blob", "remote" or "onnx".
	Detector     string
	ModelPath    string
	InferenceURL string

	InputSize       int
	ConfThreshold   float64
	IoUThreshold    float64
	AmbiguityMargin float64

	MinEdge        int
	VarianceFloor  float64
	SharpnessFloor float64

	Workers      int
	QueueDepth   int
	QueueTimeout time.Duration
	RunTimeout   time.Duration

	DatabaseURL string
	HTTPAddr    string

	SheetLabelOCR bool
	OCRLanguage   string
}

// Load reads .env (if any) and the environment.
func Load() *Config {
	envFile := getEnv("OMR_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read env file", "file", envFile, "err", err)
	}

	return &Config{
		LogLevel: getEnv("OMR_LOG_LEVEL", "info"),

		Detector:     strings.ToLower(getEnv("OMR_DETECTOR", "blob")),
		ModelPath:    getEnv("OMR_MODEL_PATH", "./models/best_omr_model.onnx"),
		InferenceURL: getEnv("OMR_INFERENCE_URL", "http://localhost:5000/predict"),

		InputSize:       getInt("OMR_INPUT_SIZE", 1280),
		ConfThreshold:   getFloat("OMR_CONF_THRESHOLD", 0.25),
		IoUThreshold:    getFloat("OMR_IOU_THRESHOLD", 0.7),
		AmbiguityMargin: getFloat("OMR_AMBIGUITY_MARGIN", 0.15),

		MinEdge:        getInt("OMR_MIN_EDGE", 480),
		VarianceFloor:  getFloat("OMR_VARIANCE_FLOOR", 25),
		SharpnessFloor: getFloat("OMR_SHARPNESS_FLOOR", 2),

		Workers:      getInt("OMR_WORKERS", runtime.NumCPU()),
		QueueDepth:   getInt("OMR_QUEUE_DEPTH", 16),
		QueueTimeout: getDuration("OMR_QUEUE_TIMEOUT", 10*time.Second),
		RunTimeout:   getDuration("OMR_RUN_TIMEOUT", 30*time.Second),

		DatabaseURL: getEnv("OMR_DATABASE_URL", ""),
		HTTPAddr:    getEnv("OMR_HTTP_ADDR", ":8080"),

		SheetLabelOCR: getBool("OMR_SHEET_LABEL_OCR", false),
		OCRLanguage:   getEnv("OMR_OCR_LANGUAGE", "eng"),
	}
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer setting", "key", k, "value", v)
		return def
	}
	return n
}

func getFloat(k string, def float64) float64 {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed number setting", "key", k, "value", v)
		return def
	}
	return f
}

func getBool(k string, def bool) bool {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed boolean setting", "key", k, "value", v)
		return def
	}
	return b
}

func getDuration(k string, def time.Duration) time.Duration {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed duration setting", "key", k, "value", v)
		return def
	}
	return d
}
