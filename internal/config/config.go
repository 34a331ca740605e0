package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	StorageDisk  = "disk"
	StorageMinIO = "minio"
)

// Config holds application configuration.
type Config struct {
	// UploadDir is the folder videos are stored in for the disk backend.
	// Empty means <base>/uploads.
	UploadDir string `json:"upload_dir,omitempty" env:"ROBOLABEL_UPLOAD_DIR"`

	// GroupSize is the number of sampled frames submitted per inference call.
	GroupSize int `json:"group_size,omitempty" env:"ROBOLABEL_GROUP_SIZE"`

	// NumCams is the number of camera views composited side by side in each frame.
	NumCams int `json:"num_cams,omitempty" env:"ROBOLABEL_NUM_CAMS"`

	// SampleSeconds is the sampling cadence in source-video seconds.
	SampleSeconds float64 `json:"sample_seconds,omitempty" env:"ROBOLABEL_SAMPLE_SECONDS"`

	// FallbackFPS is used when the container does not report a usable frame rate.
	FallbackFPS float64 `json:"fallback_fps,omitempty" env:"ROBOLABEL_FALLBACK_FPS"`

	// JPEGQuality is the encoder quality (1-100) for views sent to the model.
	JPEGQuality int `json:"jpeg_quality,omitempty" env:"ROBOLABEL_JPEG_QUALITY"`

	// FFmpegPath and FFprobePath locate the decoder binaries.
	FFmpegPath  string `json:"ffmpeg_path,omitempty" env:"ROBOLABEL_FFMPEG_PATH"`
	FFprobePath string `json:"ffprobe_path,omitempty" env:"ROBOLABEL_FFPROBE_PATH"`

	// PromptPath overrides the embedded instruction template.
	PromptPath string `json:"prompt_path,omitempty" env:"ROBOLABEL_PROMPT_PATH"`

	// Model is the generative model name.
	Model string `json:"model,omitempty" env:"ROBOLABEL_MODEL"`

	// APIKey is read from the environment only; never persisted in config.json.
	APIKey string `json:"-" env:"GEMINI_API_KEY"`

	// InferenceTimeoutSeconds bounds a single model call (per attempt).
	InferenceTimeoutSeconds int `json:"inference_timeout_seconds,omitempty" env:"ROBOLABEL_INFERENCE_TIMEOUT_SECONDS"`

	// InferenceMaxRetries is the number of extra attempts for transient failures.
	// Negative disables retries.
	InferenceMaxRetries int `json:"inference_max_retries,omitempty" env:"ROBOLABEL_INFERENCE_MAX_RETRIES"`

	// InferenceRetryBaseDelayMs is the first backoff delay; it doubles per attempt.
	InferenceRetryBaseDelayMs int `json:"inference_retry_base_delay_ms,omitempty" env:"ROBOLABEL_INFERENCE_RETRY_BASE_DELAY_MS"`

	// InferenceRPM paces model calls. 0 means unlimited.
	InferenceRPM int `json:"inference_rpm,omitempty" env:"ROBOLABEL_INFERENCE_RPM"`

	// AllowedOrigins lists CORS origins for the HTTP API.
	AllowedOrigins []string `json:"allowed_origins,omitempty" env:"ROBOLABEL_ALLOWED_ORIGINS"`

	// MaxUploadMB caps multipart uploads.
	MaxUploadMB int `json:"max_upload_mb,omitempty" env:"ROBOLABEL_MAX_UPLOAD_MB"`

	// DownloadTimeoutSeconds bounds fetch-by-URL.
	DownloadTimeoutSeconds int `json:"download_timeout_seconds,omitempty" env:"ROBOLABEL_DOWNLOAD_TIMEOUT_SECONDS"`

	// Storage selects the video store backend: "disk" or "minio".
	Storage string `json:"storage,omitempty" env:"ROBOLABEL_STORAGE"`

	MinIOEndpoint  string `json:"minio_endpoint,omitempty" env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `json:"-" env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `json:"-" env:"MINIO_SECRET_KEY"`
	MinIOUseSSL    bool   `json:"minio_use_ssl,omitempty" env:"MINIO_USE_SSL"`
	MinIOBucket    string `json:"minio_bucket,omitempty" env:"MINIO_BUCKET"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"ROBOLABEL_LOG_LEVEL"`

	// TracingEndpoint is an OTLP/HTTP traces URL. Empty disables tracing.
	TracingEndpoint string `json:"tracing_endpoint,omitempty" env:"ROBOLABEL_TRACING_ENDPOINT"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"ROBOLABEL_DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"ROBOLABEL_DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"ROBOLABEL_DISABLED_TOOLS"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		GroupSize:                 10,
		NumCams:                   4,
		SampleSeconds:             0.5,
		FallbackFPS:               30,
		JPEGQuality:               90,
		FFmpegPath:                "ffmpeg",
		FFprobePath:               "ffprobe",
		Model:                     "gemini-1.5-flash",
		InferenceTimeoutSeconds:   120,
		InferenceMaxRetries:       2,
		InferenceRetryBaseDelayMs: 1000,
		AllowedOrigins:            []string{"http://localhost:5173"},
		MaxUploadMB:               1024,
		DownloadTimeoutSeconds:    300,
		Storage:                   StorageDisk,
		MinIOBucket:               "robolabel-videos",
		LogLevel:                  "info",
	}
}

// BaseDir returns $ROBOLABEL_HOME, or ~/.robolabel.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("ROBOLABEL_HOME")); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".robolabel"), nil
}

// Load loads configuration from baseDir/config.json, then applies environment
// overrides. Returns default config (plus env) if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.robolabel.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(baseDir, "uploads")
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except AllowedOrigins where a non-empty overlay replaces the base list.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.UploadDir = pick(overlay.UploadDir, base.UploadDir)
	result.GroupSize = pick(overlay.GroupSize, base.GroupSize)
	result.NumCams = pick(overlay.NumCams, base.NumCams)
	result.SampleSeconds = pick(overlay.SampleSeconds, base.SampleSeconds)
	result.FallbackFPS = pick(overlay.FallbackFPS, base.FallbackFPS)
	result.JPEGQuality = pick(overlay.JPEGQuality, base.JPEGQuality)
	result.FFmpegPath = pick(overlay.FFmpegPath, base.FFmpegPath)
	result.FFprobePath = pick(overlay.FFprobePath, base.FFprobePath)
	result.PromptPath = pick(overlay.PromptPath, base.PromptPath)
	result.Model = pick(overlay.Model, base.Model)
	result.APIKey = pick(overlay.APIKey, base.APIKey)
	result.InferenceTimeoutSeconds = pick(overlay.InferenceTimeoutSeconds, base.InferenceTimeoutSeconds)
	result.InferenceMaxRetries = pick(overlay.InferenceMaxRetries, base.InferenceMaxRetries)
	result.InferenceRetryBaseDelayMs = pick(overlay.InferenceRetryBaseDelayMs, base.InferenceRetryBaseDelayMs)
	result.InferenceRPM = pick(overlay.InferenceRPM, base.InferenceRPM)
	result.MaxUploadMB = pick(overlay.MaxUploadMB, base.MaxUploadMB)
	result.DownloadTimeoutSeconds = pick(overlay.DownloadTimeoutSeconds, base.DownloadTimeoutSeconds)
	result.Storage = pick(overlay.Storage, base.Storage)
	result.MinIOEndpoint = pick(overlay.MinIOEndpoint, base.MinIOEndpoint)
	result.MinIOAccessKey = pick(overlay.MinIOAccessKey, base.MinIOAccessKey)
	result.MinIOSecretKey = pick(overlay.MinIOSecretKey, base.MinIOSecretKey)
	result.MinIOBucket = pick(overlay.MinIOBucket, base.MinIOBucket)
	result.LogLevel = pick(overlay.LogLevel, base.LogLevel)
	result.TracingEndpoint = pick(overlay.TracingEndpoint, base.TracingEndpoint)
	result.DBMaxOpenConns = pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.MinIOUseSSL = base.MinIOUseSSL || overlay.MinIOUseSSL

	// A configured origin list is a complete policy, not an addition to the default.
	result.AllowedOrigins = mergeStringSlice(nil, base.AllowedOrigins)
	if len(overlay.AllowedOrigins) > 0 {
		result.AllowedOrigins = mergeStringSlice(nil, overlay.AllowedOrigins)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// pick returns overlay if it is non-zero, else base.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
