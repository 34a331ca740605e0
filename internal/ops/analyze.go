package ops

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/analysis"
	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/metrics"
	"github.com/hpungsan/robolabel/internal/store"
)

// codeCanceled is recorded when the caller went away mid-run.
const codeCanceled = "CANCELED"

// AnalyzeInput contains parameters for the Analyze operation.
type AnalyzeInput struct {
	Filename string // required
	// Resume continues the latest failed analysis of the same video from
	// its last checkpoint instead of starting over.
	Resume bool
}

// AnalyzeResult is one entry of AnalyzeOutput.Results.
type AnalyzeResult struct {
	Description string `json:"description"`
}

// AnalyzeOutput contains the result of the Analyze operation.
type AnalyzeOutput struct {
	AnalysisID  string          `json:"analysis_id"`
	ResumedFrom string          `json:"resumed_from,omitempty"`
	Results     []AnalyzeResult `json:"results"`
	Groups      int             `json:"groups"`
	LastTime    string          `json:"last_time,omitempty"`
}

// Analyze labels a stored video. The video must exist before any decoding
// starts; every run gets an analyses row that ends completed or failed.
func Analyze(ctx context.Context, env *Env, input AnalyzeInput) (*AnalyzeOutput, error) {
	name := input.Filename
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	ok, err := env.Store.Exists(ctx, name)
	if err != nil {
		return nil, internal(err)
	}
	if !ok {
		return nil, errors.NewNotFound("video", name)
	}

	tpl := env.template()
	opts := env.driverOptions()
	revision, err := videoRevision(env, name)
	if err != nil {
		return nil, err
	}
	row := &db.Analysis{
		ID:            newID(),
		VideoName:     name,
		Status:        db.StatusRunning,
		PromptVersion: stringPtr(tpl.Version),
		GroupSize:     opts.GroupSize,
		NumCams:       opts.NumCams,
		SampleSeconds: opts.SampleSeconds,
		VideoRevision: revision,
	}

	var resume *analysis.Checkpoint
	if input.Resume {
		prev, err := db.LatestFailed(env.DB, name)
		if err != nil {
			return nil, err
		}
		row.ResumedFrom = stringPtr(prev.ID)
		cp, err := db.LatestCheckpoint(env.DB, prev.ID)
		switch {
		case err == nil:
			if err := checkResumable(prev, row); err != nil {
				return nil, err
			}
			resume = &analysis.Checkpoint{
				GroupIndex: cp.GroupIndex,
				StartTime:  cp.StartTime,
				EndTime:    cp.EndTime,
				Context:    cp.ContextText,
			}
		case errors.Is(err, errors.ErrNotFound):
			// Failed before the first group finished; start over.
		default:
			return nil, err
		}
	}

	if env.Model != "" {
		row.Model = stringPtr(env.Model)
	}
	if err := db.InsertAnalysis(env.DB, row); err != nil {
		return nil, err
	}
	log := env.logger().With(zap.String("analysis_id", row.ID), zap.String("video", name))

	// Carry the resume point over so a second failure can resume again.
	if resume != nil {
		if err := db.SaveCheckpoint(env.DB, toDBCheckpoint(row.ID, *resume)); err != nil {
			return nil, fail(env, log, row.ID, err)
		}
	}

	metrics.ActiveAnalyses.Inc()
	defer metrics.ActiveAnalyses.Dec()

	path, release, err := env.Store.Localize(ctx, name)
	if err != nil {
		return nil, fail(env, log, row.ID, internal(err))
	}
	defer release()

	driver := analysis.NewDriver(env.Opener, env.Labeler, tpl, opts, log)
	res, err := driver.Run(ctx, path, analysis.RunOptions{
		Resume: resume,
		Checkpointer: analysis.CheckpointFunc(func(ctx context.Context, cp analysis.Checkpoint) error {
			return db.SaveCheckpoint(env.DB, toDBCheckpoint(row.ID, cp))
		}),
	})
	if err != nil {
		return nil, fail(env, log, row.ID, err)
	}

	if err := db.CompleteAnalysis(env.DB, row.ID, res.Description, res.Groups, res.LastTime, res.FPS); err != nil {
		if !stderrors.Is(err, db.ErrNotRunning) {
			return nil, err
		}
		// Another process reclaimed the row as interrupted; keep its verdict.
		log.Warn("analysis finished after being marked interrupted", zap.Error(err))
	}
	metrics.AnalysesTotal.WithLabelValues(db.StatusCompleted).Inc()

	out := &AnalyzeOutput{
		AnalysisID: row.ID,
		Results:    []AnalyzeResult{{Description: res.Description}},
		Groups:     res.Groups,
		LastTime:   res.LastTime,
	}
	if row.ResumedFrom != nil {
		out.ResumedFrom = *row.ResumedFrom
	}
	return out, nil
}

// videoRevision returns the registry revision of a stored video, or 0 when
// the store holds it without a registry row.
func videoRevision(env *Env, name string) (int64, error) {
	v, err := db.GetVideo(env.DB, name)
	if errors.Is(err, errors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.Revision, nil
}

// checkResumable rejects a resume whose checkpoint was produced under
// different grouping, prompt or video content, since group indexes and
// timestamps would no longer line up. Settings a row did not record (zero)
// are not compared.
func checkResumable(prev, next *db.Analysis) error {
	mismatch := map[string]any{}
	if prev.GroupSize != 0 && prev.GroupSize != next.GroupSize {
		mismatch["group_size"] = []int{prev.GroupSize, next.GroupSize}
	}
	if prev.NumCams != 0 && prev.NumCams != next.NumCams {
		mismatch["num_cams"] = []int{prev.NumCams, next.NumCams}
	}
	if prev.SampleSeconds != 0 && prev.SampleSeconds != next.SampleSeconds {
		mismatch["sample_seconds"] = []float64{prev.SampleSeconds, next.SampleSeconds}
	}
	if prev.VideoRevision != 0 && next.VideoRevision != 0 && prev.VideoRevision != next.VideoRevision {
		mismatch["video_revision"] = []int64{prev.VideoRevision, next.VideoRevision}
	}
	if prev.PromptVersion != nil && next.PromptVersion != nil && *prev.PromptVersion != *next.PromptVersion {
		mismatch["prompt_version"] = []string{*prev.PromptVersion, *next.PromptVersion}
	}
	if len(mismatch) == 0 {
		return nil
	}

	names := make([]string, 0, len(mismatch))
	for k := range mismatch {
		names = append(names, k)
	}
	sort.Strings(names)
	appErr := errors.NewInvalidRequest(fmt.Sprintf(
		"cannot resume analysis %s: %s changed since it ran; start a new analysis instead",
		prev.ID, strings.Join(names, ", ")))
	appErr.Details = map[string]any{"resumed_from": prev.ID, "changed": mismatch}
	return appErr
}

// fail records err on the analysis row and returns it unchanged.
func fail(env *Env, log *zap.Logger, id string, err error) error {
	metrics.AnalysesTotal.WithLabelValues(db.StatusFailed).Inc()

	code, message := string(errors.ErrInternal), err.Error()
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		code = codeCanceled
	} else if appErr := errors.As(err); appErr != nil {
		code, message = string(appErr.Code), appErr.Message
	}
	if dbErr := db.FailAnalysis(env.DB, id, code, message); stderrors.Is(dbErr, db.ErrNotRunning) {
		log.Warn("analysis already marked interrupted", zap.Error(dbErr))
	} else if dbErr != nil {
		log.Error("failed to record analysis failure", zap.Error(dbErr))
	}
	log.Warn("analysis failed", zap.String("code", code), zap.Error(err))
	return err
}

func toDBCheckpoint(id string, cp analysis.Checkpoint) *db.Checkpoint {
	return &db.Checkpoint{
		AnalysisID:  id,
		GroupIndex:  cp.GroupIndex,
		StartTime:   cp.StartTime,
		EndTime:     cp.EndTime,
		ContextText: cp.Context,
	}
}
