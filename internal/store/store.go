// Package store keeps uploaded videos, on local disk or in an S3-compatible
// bucket.
package store

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/robolabel/internal/errors"
)

// VideoExt is the only extension listed by List.
const VideoExt = ".mp4"

// Info describes a stored video.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified_at"`
}

// VideoStore is where uploads land and where analyses read from.
type VideoStore interface {
	// Save writes r under name, replacing any previous content.
	Save(ctx context.Context, name string, r io.Reader) (Info, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Open returns the stored bytes. Missing names are NOT_FOUND.
	Open(ctx context.Context, name string) (io.ReadSeekCloser, Info, error)
	// Localize returns a local file path for name that stays valid until
	// release is called.
	Localize(ctx context.Context, name string) (path string, release func(), err error)
	// List returns the stored .mp4 videos sorted by name.
	List(ctx context.Context) ([]Info, error)
	// Location is the human-readable place name is stored at.
	Location(name string) string
}

// ValidateName accepts bare file names only, so names taken from uploads or
// URLs cannot escape the store.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewInvalidRequest("file name is required")
	}
	if name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		strings.ContainsRune(name, 0) ||
		filepath.Base(name) != name {
		return errors.NewInvalidRequest("invalid file name: " + name)
	}
	return nil
}

// IsVideo reports whether name would be listed.
func IsVideo(name string) bool {
	return strings.HasSuffix(name, VideoExt)
}
