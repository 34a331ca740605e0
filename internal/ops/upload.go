package ops

import (
	"context"
	stderrors "errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/store"
)

// UploadMessage is returned by both upload paths.
const UploadMessage = "Video uploaded successfully"

// UploadInput contains parameters for the Upload operation.
type UploadInput struct {
	Filename string    // required, bare file name
	Reader   io.Reader // required, the video bytes
}

// UploadOutput contains the result of Upload and FetchURL.
type UploadOutput struct {
	Message   string `json:"message"`
	VideoPath string `json:"video_path"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// Upload stores a video under its file name, replacing any previous video
// of the same name, and records it in the registry.
func Upload(ctx context.Context, env *Env, input UploadInput) (*UploadOutput, error) {
	name := strings.TrimSpace(input.Filename)
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if input.Reader == nil {
		return nil, errors.NewInvalidRequest("video content is required")
	}
	return save(ctx, env, name, input.Reader, db.SourceUpload, nil)
}

// save writes r to the store and upserts the registry row.
func save(ctx context.Context, env *Env, name string, r io.Reader, source string, sourceURL *string) (*UploadOutput, error) {
	info, err := env.Store.Save(ctx, name, r)
	if err != nil {
		return nil, internal(err)
	}

	location := env.Store.Location(name)
	video := &db.Video{
		Name:      name,
		SizeBytes: info.Size,
		Source:    source,
		SourceURL: sourceURL,
		Location:  location,
	}
	if err := db.UpsertVideo(env.DB, video); err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("name", name), zap.Int64("size_bytes", info.Size), zap.String("source", source)}
	if sourceURL != nil {
		fields = append(fields, zap.String("url", *sourceURL))
	}
	env.logger().Info("video stored", fields...)

	return &UploadOutput{
		Message:   UploadMessage,
		VideoPath: location,
		Filename:  name,
		SizeBytes: info.Size,
	}, nil
}

// internal passes AppErrors through and wraps everything else as INTERNAL.
func internal(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewInternal(err)
}
