// Package inference is the boundary to the multimodal model that labels
// frame groups.
package inference

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("inference: empty response")

// Image is one encoded view.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is a single labeling call: the rendered instruction, the ordered
// views of every sampled frame in the group, and the context carried from
// the previous group. Group, StartTime and EndTime are informational and are
// not sent to the model on their own.
type Request struct {
	Instruction string
	Images      []Image
	Context     string

	Group     int
	StartTime string
	EndTime   string
}

// Labeler turns one group into the model's updated action list.
// Implementations return the raw response text unmodified.
type Labeler interface {
	Label(ctx context.Context, req Request) (string, error)
}

// LabelerFunc adapts a function to Labeler.
type LabelerFunc func(ctx context.Context, req Request) (string, error)

func (f LabelerFunc) Label(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
