package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/config"
	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/inference"
	"github.com/hpungsan/robolabel/internal/ops"
	"github.com/hpungsan/robolabel/internal/prompt"
	"github.com/hpungsan/robolabel/internal/store"
	"github.com/hpungsan/robolabel/internal/video"
)

type stubSource struct {
	frames int
	next   int
}

func (s *stubSource) FPS() float64     { return 1 }
func (s *stubSource) Size() (int, int) { return 8, 2 }
func (s *stubSource) Close() error     { return nil }

func (s *stubSource) Next(ctx context.Context) (video.Frame, error) {
	if s.next >= s.frames {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{Index: s.next, Width: 8, Height: 2, Pix: make([]byte, 8*2*3)}
	s.next++
	return f, nil
}

type stubOpener struct {
	mu     sync.Mutex
	opened int
}

func (o *stubOpener) Open(ctx context.Context, path string) (video.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	return &stubSource{frames: 12}, nil
}

// jsonLabeler answers with a growing JSON action list.
func jsonLabeler() inference.Labeler {
	var (
		mu sync.Mutex
		n  int
	)
	return inference.LabelerFunc(func(ctx context.Context, req inference.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 1 {
			return `[{"start_time":"00:00","end_time":"00:09","description":"Reach for the cube"}]`, nil
		}
		return "```json\n" + `[{"start_time":"00:00","end_time":"00:09","description":"Reach for the cube"},` +
			`{"start_time":"00:09","end_time":"00:11","description":"CLOSE the gripper"}]` + "\n```", nil
	})
}

type fixture struct {
	env     *ops.Env
	handler http.Handler
	opener  *stubOpener
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	disk, err := store.NewDisk(t.TempDir())
	require.NoError(t, err)
	tpl, err := prompt.Parse("test", "{start_time}-{end_time}")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.MaxUploadMB = 1

	opener := &stubOpener{}
	env := &ops.Env{
		DB:       database,
		Config:   cfg,
		Store:    disk,
		Opener:   opener,
		Labeler:  jsonLabeler(),
		Template: tpl,
		Model:    "test-model",
	}
	srv, err := NewServer(env, "test", "127.0.0.1", 0)
	require.NoError(t, err)
	return &fixture{env: env, handler: srv.Handler, opener: opener}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "video", name, content)
	req := httptest.NewRequest(http.MethodPost, "/video/upload", body)
	req.Header.Set("Content-Type", ct)
	return f.do(t, req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, int) {
	t.Helper()
	var body struct {
		Error struct {
			Code   string `json:"code"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code, body.Error.Status
}

// --- upload ---

func TestUpload_Multipart(t *testing.T) {
	f := setupTest(t)

	rec := f.upload(t, "arm.mp4", []byte("video bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ops.UploadOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Video uploaded successfully", out.Message)
	assert.True(t, strings.HasSuffix(out.VideoPath, "arm.mp4"))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/video/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var files struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Equal(t, []string{"arm.mp4"}, files.Files)
}

func TestUpload_MissingField(t *testing.T) {
	f := setupTest(t)
	body, ct := multipartBody(t, "file", "arm.mp4", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/video/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "INVALID_REQUEST", code)
}

func TestUpload_NotMultipart(t *testing.T) {
	f := setupTest(t)
	req := httptest.NewRequest(http.MethodPost, "/video/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	f := setupTest(t)
	rec := f.upload(t, "big.mp4", bytes.Repeat([]byte{1}, 2<<20))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "maximum upload size")
}

func TestUploadURL(t *testing.T) {
	f := setupTest(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		io.WriteString(w, "remote")
	}))
	defer upstream.Close()

	body := fmt.Sprintf(`{"url": %q}`, upstream.URL+"/clips/remote.mp4")
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/video/upload-url", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"filename":"remote.mp4"`)

	body = fmt.Sprintf(`{"url": %q}`, upstream.URL+"/missing.mp4")
	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/video/upload-url", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	code, status := decodeError(t, rec)
	assert.Equal(t, "DOWNLOAD_FAILED", code)
	assert.Equal(t, http.StatusBadGateway, status)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/video/upload-url", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- analyze ---

func TestAnalyze_NotFound(t *testing.T) {
	f := setupTest(t)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/video/analyze/never.mp4", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", code)
	assert.Equal(t, 0, f.opener.opened)
}

func analyze(t *testing.T, f *fixture) ops.AnalyzeOutput {
	t.Helper()
	require.Equal(t, http.StatusOK, f.upload(t, "arm.mp4", []byte("v")).Code)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/video/analyze/arm.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ops.AnalyzeOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAnalyze_ReturnsFinalDescription(t *testing.T) {
	f := setupTest(t)
	out := analyze(t, f)

	require.Len(t, out.Results, 1)
	assert.Contains(t, out.Results[0].Description, "CLOSE the gripper")
	assert.NotEmpty(t, out.AnalysisID)
	assert.Equal(t, 2, out.Groups)
}

func TestAnalysisJSON(t *testing.T) {
	f := setupTest(t)
	out := analyze(t, f)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses/"+out.AnalysisID+"?checkpoints=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got ops.GetAnalysisOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, db.StatusCompleted, got.Status)
	assert.Len(t, got.Checkpoints, 2)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses?video=arm.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list ops.ListAnalysesOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Pagination.Total)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReport_HTMLAndMarkdown(t *testing.T) {
	f := setupTest(t)
	out := analyze(t, f)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses/"+out.AnalysisID+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "<td>CLOSE the gripper</td>")
	assert.Contains(t, body, out.AnalysisID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses/"+out.AnalysisID+"/report?format=markdown", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "| 2 | 00:09 | 00:11 | CLOSE the gripper |")
}

func TestReport_NotFound(t *testing.T) {
	f := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/video/analyses/NOPE/report", nil)
	req.Header.Set("Accept", "application/json")
	rec := f.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/video/analyses/NOPE/report", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error 404")
}

// --- media, pages, middleware ---

func TestMedia_ServesRanges(t *testing.T) {
	f := setupTest(t)
	require.Equal(t, http.StatusOK, f.upload(t, "arm.mp4", []byte("0123456789")).Code)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/uploads/arm.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/uploads/arm.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/uploads/missing.mp4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages(t *testing.T) {
	f := setupTest(t)
	out := analyze(t, f)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/videos", rec.Header().Get("Location"))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/videos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arm.mp4")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), out.AnalysisID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	f := setupTest(t)

	req := httptest.NewRequest(http.MethodOptions, "/video/upload", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := f.do(t, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/video/files", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := cors([]string{"*"}, next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anything.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeadersAndHealth(t *testing.T) {
	f := setupTest(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in), "formatBytes(%d)", in)
	}
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, zap.NewNop(), time.Second) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the context was canceled")
	}
}
