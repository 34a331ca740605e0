package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
)

func TestListFiles_OnlyVideosSorted(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "b.mp4")
	env.upload(t, "a.mp4")
	env.upload(t, "notes.txt")

	out, err := ListFiles(context.Background(), env.Env)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(out.Files) != 2 || out.Files[0] != "a.mp4" || out.Files[1] != "b.mp4" {
		t.Errorf("Files = %v, want [a.mp4 b.mp4]", out.Files)
	}
	if len(out.Items) != 2 || out.Items[0].Size != int64(len("fake video")) {
		t.Errorf("Items = %+v", out.Items)
	}
}

func TestListFiles_Empty(t *testing.T) {
	env := newTestEnv(t)
	out, err := ListFiles(context.Background(), env.Env)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if out.Files == nil || len(out.Files) != 0 {
		t.Errorf("Files = %#v, want empty non-nil", out.Files)
	}
}

func TestGetAnalysis_WithCheckpoints(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "arm.mp4")
	run, err := Analyze(context.Background(), env.Env, AnalyzeInput{Filename: "arm.mp4"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	out, err := GetAnalysis(context.Background(), env.Env, GetAnalysisInput{ID: run.AnalysisID, IncludeCheckpoints: true})
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if out.ID != run.AnalysisID || out.Status != db.StatusCompleted {
		t.Errorf("unexpected summary: %+v", out.AnalysisSummary)
	}
	if out.ResultText == nil || *out.ResultText != "r2" {
		t.Errorf("ResultText = %v", out.ResultText)
	}
	if len(out.Checkpoints) != 2 {
		t.Fatalf("Checkpoints = %d, want 2", len(out.Checkpoints))
	}
	if out.Checkpoints[1].StartTime != "00:10" || out.Checkpoints[1].EndTime != "00:11" {
		t.Errorf("second checkpoint = %+v", out.Checkpoints[1])
	}

	plain, err := GetAnalysis(context.Background(), env.Env, GetAnalysisInput{ID: run.AnalysisID})
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if plain.Checkpoints != nil {
		t.Error("checkpoints should be omitted unless requested")
	}
}

func TestGetAnalysis_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := GetAnalysis(context.Background(), env.Env, GetAnalysisInput{ID: " "})
	assertCode(t, err, errors.ErrInvalidRequest)

	_, err = GetAnalysis(context.Background(), env.Env, GetAnalysisInput{ID: "01NOPE"})
	assertCode(t, err, errors.ErrNotFound)
}

func TestListAnalyses_FilterAndPaginate(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a.mp4")
	env.upload(t, "b.mp4")
	ctx := context.Background()

	for range 3 {
		if _, err := Analyze(ctx, env.Env, AnalyzeInput{Filename: "a.mp4"}); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}
	env.labeler.failOn[len(env.labeler.reqs)+1] = true
	if _, err := Analyze(ctx, env.Env, AnalyzeInput{Filename: "b.mp4"}); err == nil {
		t.Fatal("expected failure for b.mp4")
	}

	all, err := ListAnalyses(ctx, env.Env, ListAnalysesInput{})
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if all.Pagination.Total != 4 || len(all.Items) != 4 || all.Pagination.HasMore {
		t.Errorf("all = %+v", all.Pagination)
	}
	if all.Items[0].VideoName != "b.mp4" {
		t.Errorf("newest first expected, got %s", all.Items[0].VideoName)
	}

	page, err := ListAnalyses(ctx, env.Env, ListAnalysesInput{VideoName: "a.mp4", Limit: 2})
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if page.Pagination.Total != 3 || len(page.Items) != 2 || !page.Pagination.HasMore {
		t.Errorf("page = %+v", page.Pagination)
	}

	failed, err := ListAnalyses(ctx, env.Env, ListAnalysesInput{Status: db.StatusFailed})
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if failed.Pagination.Total != 1 || failed.Items[0].ErrorCode == nil {
		t.Errorf("failed = %+v", failed.Items)
	}

	_, err = ListAnalyses(ctx, env.Env, ListAnalysesInput{Status: "paused"})
	assertCode(t, err, errors.ErrInvalidRequest)
}

func TestReportText(t *testing.T) {
	failed := &GetAnalysisOutput{
		AnalysisSummary: AnalysisSummary{Status: db.StatusFailed},
		Checkpoints:     []CheckpointView{{Context: "first"}, {Context: "second"}},
	}
	if text, partial := ReportText(failed); text != "second" || !partial {
		t.Errorf("failed run = %q, %v; want last checkpoint, partial", text, partial)
	}

	result := "done"
	completed := &GetAnalysisOutput{AnalysisSummary: AnalysisSummary{Status: db.StatusCompleted}, ResultText: &result}
	if text, partial := ReportText(completed); text != "done" || partial {
		t.Errorf("completed run = %q, %v; want result, not partial", text, partial)
	}

	bare := &GetAnalysisOutput{AnalysisSummary: AnalysisSummary{Status: db.StatusFailed}}
	if text, partial := ReportText(bare); text != "" || partial {
		t.Errorf("no checkpoints = %q, %v; want empty", text, partial)
	}
}
