// Package ops holds the operations shared by the CLI, the HTTP API and the
// MCP server. Each takes an *Env plus an Input struct and returns an Output
// struct ready to be serialized.
package ops

import (
	"crypto/rand"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/analysis"
	"github.com/hpungsan/robolabel/internal/config"
	"github.com/hpungsan/robolabel/internal/inference"
	"github.com/hpungsan/robolabel/internal/prompt"
	"github.com/hpungsan/robolabel/internal/store"
	"github.com/hpungsan/robolabel/internal/video"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Env carries the collaborators every operation needs. Fields are wired once
// at startup and never mutated, so an Env may serve concurrent requests.
type Env struct {
	DB       *sql.DB
	Config   *config.Config
	Store    store.VideoStore
	Opener   video.Opener
	Labeler  inference.Labeler
	Template *prompt.Template
	// Model is recorded on each analysis row.
	Model      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) config() *config.Config {
	if e.Config == nil {
		return config.DefaultConfig()
	}
	return e.Config
}

func (e *Env) httpClient() *http.Client {
	if e.HTTPClient == nil {
		return http.DefaultClient
	}
	return e.HTTPClient
}

func (e *Env) template() *prompt.Template {
	if e.Template == nil {
		return prompt.Default()
	}
	return e.Template
}

// driverOptions maps the pipeline knobs from config, defaults filled in.
func (e *Env) driverOptions() analysis.Options {
	cfg := e.config()
	return analysis.Options{
		GroupSize:     cfg.GroupSize,
		NumCams:       cfg.NumCams,
		SampleSeconds: cfg.SampleSeconds,
		JPEGQuality:   cfg.JPEGQuality,
	}.WithDefaults()
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a fresh ULID string. IDs from one process sort in creation
// order, which ListAnalyses relies on to break created_at ties.
func newID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// clampPage applies list defaults and bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

func stringPtr(s string) *string {
	return &s
}
