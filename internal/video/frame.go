// Package video decodes composite camera videos into a forward-only stream of raw frames.
package video

import (
	"context"
	"errors"
)

// ErrClosed is returned by Next after the source has been closed.
var ErrClosed = errors.New("video: source closed")

// Frame is one decoded raster image.
// Pix holds packed BGR24 pixels, row-major, with a stride of 3*Width bytes.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// Stride returns the number of bytes per row.
func (f Frame) Stride() int {
	return 3 * f.Width
}

// Clone returns a copy of f that does not share its pixel buffer.
// Sources reuse their buffer between Next calls, so anything kept past the
// next call must be cloned.
func (f Frame) Clone() Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	f.Pix = pix
	return f
}

// Source is a single-pass stream of frames.
//
// Next returns io.EOF once the stream is exhausted and keeps returning it;
// a source cannot be rewound. The Frame returned by Next is only valid until
// the following call. Close releases the decoder and is safe to call more
// than once; callers should defer it right after a successful Open.
type Source interface {
	FPS() float64
	Size() (width, height int)
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens a Source for a video file on the local filesystem.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}
