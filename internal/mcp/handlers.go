package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/ops"
	"github.com/hpungsan/robolabel/internal/report"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// FetchURLRequest represents the arguments for video_fetch_url.
type FetchURLRequest struct {
	URL string `json:"url"`
}

// AnalyzeRequest represents the arguments for video_analyze.
type AnalyzeRequest struct {
	Filename string `json:"filename"`
	Resume   bool   `json:"resume,omitempty"`
}

// AnalysisFetchRequest represents the arguments for analysis_fetch.
type AnalysisFetchRequest struct {
	ID                 string `json:"id"`
	IncludeCheckpoints bool   `json:"include_checkpoints,omitempty"`
	Format             string `json:"format,omitempty"`
}

// AnalysisListRequest represents the arguments for analysis_list.
type AnalysisListRequest struct {
	Video  string `json:"video,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// HandleVideoList handles the video_list tool call.
func (h *Handlers) HandleVideoList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListFiles(ctx, h.env)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleVideoFetchURL handles the video_fetch_url tool call.
func (h *Handlers) HandleVideoFetchURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchURLRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.FetchURL(ctx, h.env, ops.FetchURLInput{URL: input.URL})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleVideoAnalyze handles the video_analyze tool call.
func (h *Handlers) HandleVideoAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalyzeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Analyze(ctx, h.env, ops.AnalyzeInput{
		Filename: input.Filename,
		Resume:   input.Resume,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAnalysisFetch handles the analysis_fetch tool call.
func (h *Handlers) HandleAnalysisFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalysisFetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Format != "" && input.Format != "json" && input.Format != "markdown" {
		return errorResult(errors.NewInvalidRequest("format must be one of: json, markdown")), nil
	}

	markdown := input.Format == "markdown"
	result, err := ops.GetAnalysis(ctx, h.env, ops.GetAnalysisInput{
		ID: input.ID,
		// A failed run renders from its last checkpoint.
		IncludeCheckpoints: input.IncludeCheckpoints || markdown,
	})
	if err != nil {
		return errorResult(err), nil
	}

	if markdown {
		text, partial := ops.ReportText(result)
		md := report.Markdown(result.VideoName, text)
		if partial {
			md += fmt.Sprintf("\n_Partial result: analysis %s after %d groups._\n", result.Status, result.GroupsDone)
		}
		return mcp.NewToolResultText(md), nil
	}
	return successResult(result)
}

// HandleAnalysisList handles the analysis_list tool call.
func (h *Handlers) HandleAnalysisList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalysisListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ListAnalyses(ctx, h.env, ops.ListAnalysesInput{
		VideoName: input.Video,
		Status:    input.Status,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// decode unmarshals tool arguments into a typed struct. Missing arguments
// decode to the zero value.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	if len(args) == 0 {
		return result, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("invalid arguments: %w", err)
	}
	return result, nil
}

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
			"status":  appErr.Status,
		}
		if appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "CANCELED",
				"message": err.Error(),
				"status":  499,
			},
		}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
