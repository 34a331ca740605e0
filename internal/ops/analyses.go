package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
)

// AnalysisSummary is an analysis without its result text.
type AnalysisSummary struct {
	ID            string   `json:"id"`
	VideoName     string   `json:"video_name"`
	Status        string   `json:"status"`
	Model         *string  `json:"model,omitempty"`
	PromptVersion *string  `json:"prompt_version,omitempty"`
	ResumedFrom   *string  `json:"resumed_from,omitempty"`
	GroupsDone    int      `json:"groups_done"`
	LastEndTime   *string  `json:"last_end_time,omitempty"`
	FPS           *float64 `json:"fps,omitempty"`
	ErrorCode     *string  `json:"error_code,omitempty"`
	ErrorMessage  *string  `json:"error_message,omitempty"`
	GroupSize     int      `json:"group_size,omitempty"`
	NumCams       int      `json:"num_cams,omitempty"`
	SampleSeconds float64  `json:"sample_seconds,omitempty"`
	VideoRevision int64    `json:"video_revision,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

// CheckpointView is one stored per-group context.
type CheckpointView struct {
	GroupIndex int    `json:"group_index"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Context    string `json:"context"`
	CreatedAt  int64  `json:"created_at"`
}

// GetAnalysisInput contains parameters for the GetAnalysis operation.
type GetAnalysisInput struct {
	ID                 string // required
	IncludeCheckpoints bool
}

// GetAnalysisOutput contains the result of the GetAnalysis operation.
type GetAnalysisOutput struct {
	AnalysisSummary
	ResultText  *string          `json:"result_text,omitempty"`
	Checkpoints []CheckpointView `json:"checkpoints,omitempty"`
}

// GetAnalysis returns one analysis with its result text.
func GetAnalysis(ctx context.Context, env *Env, input GetAnalysisInput) (*GetAnalysisOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	a, err := db.GetAnalysis(env.DB, id)
	if err != nil {
		return nil, err
	}

	out := &GetAnalysisOutput{AnalysisSummary: summarize(a), ResultText: a.ResultText}
	if input.IncludeCheckpoints {
		cps, err := db.ListCheckpoints(env.DB, id)
		if err != nil {
			return nil, err
		}
		out.Checkpoints = make([]CheckpointView, 0, len(cps))
		for _, cp := range cps {
			out.Checkpoints = append(out.Checkpoints, CheckpointView{
				GroupIndex: cp.GroupIndex,
				StartTime:  cp.StartTime,
				EndTime:    cp.EndTime,
				Context:    cp.ContextText,
				CreatedAt:  cp.CreatedAt,
			})
		}
	}
	return out, nil
}

// ReportText returns the text to render for an analysis: the final result,
// or for an unfinished run the context of its last checkpoint, in which case
// partial is true. Checkpoints must have been requested for the latter.
func ReportText(a *GetAnalysisOutput) (text string, partial bool) {
	if a.ResultText != nil {
		return *a.ResultText, false
	}
	if a.Status != db.StatusCompleted && len(a.Checkpoints) > 0 {
		return a.Checkpoints[len(a.Checkpoints)-1].Context, true
	}
	return "", false
}

// ListAnalysesInput contains parameters for the ListAnalyses operation.
type ListAnalysesInput struct {
	VideoName string // optional filter
	Status    string // optional filter: running, completed, failed
	Limit     int    // default: 20, max: 100
	Offset    int    // default: 0
}

// ListAnalysesOutput contains the result of the ListAnalyses operation.
type ListAnalysesOutput struct {
	Items      []AnalysisSummary `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// ListAnalyses returns analyses newest first.
func ListAnalyses(ctx context.Context, env *Env, input ListAnalysesInput) (*ListAnalysesOutput, error) {
	status := strings.TrimSpace(input.Status)
	switch status {
	case "", db.StatusRunning, db.StatusCompleted, db.StatusFailed:
	default:
		return nil, errors.NewInvalidRequest("status must be one of: running, completed, failed")
	}

	limit, offset := clampPage(input.Limit, input.Offset)
	rows, total, err := db.ListAnalyses(env.DB, db.AnalysisFilter{
		VideoName: strings.TrimSpace(input.VideoName),
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}

	items := make([]AnalysisSummary, 0, len(rows))
	for i := range rows {
		items = append(items, summarize(&rows[i]))
	}
	return &ListAnalysesOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

func summarize(a *db.Analysis) AnalysisSummary {
	return AnalysisSummary{
		ID:            a.ID,
		VideoName:     a.VideoName,
		Status:        a.Status,
		Model:         a.Model,
		PromptVersion: a.PromptVersion,
		ResumedFrom:   a.ResumedFrom,
		GroupsDone:    a.GroupsDone,
		LastEndTime:   a.LastEndTime,
		FPS:           a.FPS,
		ErrorCode:     a.ErrorCode,
		ErrorMessage:  a.ErrorMessage,
		GroupSize:     a.GroupSize,
		NumCams:       a.NumCams,
		SampleSeconds: a.SampleSeconds,
		VideoRevision: a.VideoRevision,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
