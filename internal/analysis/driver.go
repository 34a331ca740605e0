// Package analysis runs the labeling pipeline for one video: decode, sample,
// group, and label each group with the context carried from the previous one.
package analysis

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/inference"
	"github.com/hpungsan/robolabel/internal/metrics"
	"github.com/hpungsan/robolabel/internal/prompt"
	"github.com/hpungsan/robolabel/internal/sampler"
	"github.com/hpungsan/robolabel/internal/video"
	"github.com/hpungsan/robolabel/internal/views"
)

const tracerName = "github.com/hpungsan/robolabel/internal/analysis"

// Options are the pipeline knobs taken from configuration.
type Options struct {
	GroupSize     int
	NumCams       int
	SampleSeconds float64
	JPEGQuality   int
}

// DefaultOptions returns the standard layout: four cameras, a sample every
// half second, ten samples per group.
func DefaultOptions() Options {
	return Options{
		GroupSize:     sampler.DefaultGroupSize,
		NumCams:       len(views.Cameras),
		SampleSeconds: sampler.DefaultSampleSeconds,
		JPEGQuality:   90,
	}
}

// Checkpoint is the carried context after a successfully labeled group.
type Checkpoint struct {
	GroupIndex int
	StartTime  string
	EndTime    string
	Context    string
}

// Checkpointer persists checkpoints. Save errors are logged and do not stop
// the run.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, cp Checkpoint) error

func (f CheckpointFunc) Save(ctx context.Context, cp Checkpoint) error { return f(ctx, cp) }

// RunOptions alter a single run.
type RunOptions struct {
	// Resume skips every group up to and including Resume.GroupIndex and
	// starts from its context. Skipped groups are still decoded so later
	// timestamps stay exact.
	Resume *Checkpoint
	// Checkpointer receives the context after each labeled group.
	Checkpointer Checkpointer
}

// Result is the outcome of a completed run. Description is the final carried
// context, returned as the model wrote it.
type Result struct {
	Description string
	Groups      int
	Skipped     int
	Samples     int
	Frames      int
	FirstTime   string
	LastTime    string
	FPS         float64
}

// Driver runs pipelines. It holds no per-run state and may be shared.
type Driver struct {
	opener   video.Opener
	labeler  inference.Labeler
	template *prompt.Template
	opts     Options
	logger   *zap.Logger
}

// WithDefaults returns o with every non-positive field replaced by its
// DefaultOptions value.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.GroupSize <= 0 {
		o.GroupSize = def.GroupSize
	}
	if o.NumCams <= 0 {
		o.NumCams = def.NumCams
	}
	if o.SampleSeconds <= 0 {
		o.SampleSeconds = def.SampleSeconds
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = def.JPEGQuality
	}
	return o
}

// NewDriver wires a Driver. Zero option fields fall back to DefaultOptions.
func NewDriver(opener video.Opener, labeler inference.Labeler, tpl *prompt.Template, opts Options, logger *zap.Logger) *Driver {
	opts = opts.WithDefaults()
	if tpl == nil {
		tpl = prompt.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{opener: opener, labeler: labeler, template: tpl, opts: opts, logger: logger}
}

// Run labels the video at path. Groups are labeled strictly in order, one
// call at a time, since each call takes the previous response as input.
//
// On any failure Run returns the error and no Result: context accumulated by
// earlier groups is only kept through the Checkpointer.
func (d *Driver) Run(ctx context.Context, path string, ro RunOptions) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analysis.Run",
		trace.WithAttributes(attribute.String("video.path", path)))
	defer span.End()

	res, err := d.run(ctx, path, ro)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("groups", res.Groups),
		attribute.Int("samples", res.Samples),
		attribute.Int("frames", res.Frames),
	)
	return res, nil
}

func (d *Driver) run(ctx context.Context, path string, ro RunOptions) (*Result, error) {
	src, err := d.opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	fps := src.FPS()
	grouper := sampler.NewGrouper(fps, d.opts.SampleSeconds, d.opts.GroupSize)
	log := d.logger.With(zap.String("path", path))
	log.Info("analysis started",
		zap.Float64("fps", fps),
		zap.Int("interval", grouper.Interval()),
		zap.Int("group_size", d.opts.GroupSize),
		zap.Bool("resume", ro.Resume != nil),
	)

	carried := ""
	skipThrough := -1
	if ro.Resume != nil {
		carried = ro.Resume.Context
		skipThrough = ro.Resume.GroupIndex
	}
	res := &Result{FPS: fps}

	handle := func(g sampler.Group) error {
		if res.Groups == 0 {
			res.FirstTime = g.StartTime
		}
		res.LastTime = g.EndTime
		res.Groups++
		res.Samples += len(g.Samples)
		if g.Index <= skipThrough {
			res.Skipped++
			return nil
		}

		next, err := d.labelGroup(ctx, path, g, carried, log)
		if err != nil {
			return err
		}
		carried = next

		if ro.Checkpointer != nil {
			cp := Checkpoint{GroupIndex: g.Index, StartTime: g.StartTime, EndTime: g.EndTime, Context: carried}
			if err := ro.Checkpointer.Save(ctx, cp); err != nil {
				log.Warn("checkpoint save failed", zap.Int("group", g.Index), zap.Error(err))
			}
		}
		return nil
	}

	defer func() {
		metrics.FramesDecodedTotal.Add(float64(grouper.Seen()))
	}()

	for {
		f, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, decodeError(ctx, path, err)
		}
		if g, ok := grouper.Push(f); ok {
			if err := handle(g); err != nil {
				return nil, err
			}
		}
	}
	if g, ok := grouper.Flush(); ok {
		if err := handle(g); err != nil {
			return nil, err
		}
	}

	res.Frames = grouper.Seen()
	res.Description = carried
	log.Info("analysis finished",
		zap.Int("frames", res.Frames),
		zap.Int("samples", res.Samples),
		zap.Int("groups", res.Groups),
		zap.Int("skipped", res.Skipped),
		zap.String("last_time", res.LastTime),
	)
	return res, nil
}

// labelGroup makes the single labeling call for g and returns the new
// carried context.
func (d *Driver) labelGroup(ctx context.Context, path string, g sampler.Group, carried string, log *zap.Logger) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analysis.group",
		trace.WithAttributes(
			attribute.Int("group.index", g.Index),
			attribute.String("group.start_time", g.StartTime),
			attribute.String("group.end_time", g.EndTime),
			attribute.Int("group.samples", len(g.Samples)),
		))
	defer span.End()

	images, err := d.encodeGroup(g)
	if err != nil {
		span.RecordError(err)
		return "", errors.NewDecodeFailed(path, err)
	}

	req := inference.Request{
		Instruction: d.template.Render(prompt.Vars{
			StartTime:    g.StartTime,
			EndTime:      g.EndTime,
			LastAnalysis: carried,
		}),
		Images:    images,
		Context:   carried,
		Group:     g.Index,
		StartTime: g.StartTime,
		EndTime:   g.EndTime,
	}

	start := time.Now()
	text, err := d.labeler.Label(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = inference.ErrEmptyResponse
	}
	if err != nil {
		metrics.GroupsProcessedTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Error("group labeling failed",
			zap.Int("group", g.Index),
			zap.String("start_time", g.StartTime),
			zap.String("end_time", g.EndTime),
			zap.Error(err),
		)
		return "", errors.NewInferenceFailed(g.Index, g.StartTime, g.EndTime, err)
	}

	metrics.GroupsProcessedTotal.WithLabelValues("completed").Inc()
	log.Info("group labeled",
		zap.Int("group", g.Index),
		zap.String("start_time", g.StartTime),
		zap.String("end_time", g.EndTime),
		zap.Int("images", len(images)),
		zap.Int("response_bytes", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

// encodeGroup expands every sample into its views, in frame order and then
// camera order.
func (d *Driver) encodeGroup(g sampler.Group) ([]inference.Image, error) {
	images := make([]inference.Image, 0, len(g.Samples)*d.opts.NumCams)
	for _, s := range g.Samples {
		vs, err := views.Split(s.Frame, d.opts.NumCams)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			data, err := views.EncodeJPEG(v.Image, d.opts.JPEGQuality)
			if err != nil {
				return nil, err
			}
			images = append(images, inference.Image{MIMEType: "image/jpeg", Data: data})
		}
	}
	return images, nil
}

func decodeError(ctx context.Context, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.NewDecodeFailed(path, err)
}
