package ops

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
)

func TestUpload_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	out, err := Upload(context.Background(), env.Env, UploadInput{
		Filename: "arm.mp4",
		Reader:   strings.NewReader("0123456789"),
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if out.Message != "Video uploaded successfully" {
		t.Errorf("Message = %q", out.Message)
	}
	if out.VideoPath != filepath.Join(env.disk.Dir(), "arm.mp4") {
		t.Errorf("VideoPath = %q", out.VideoPath)
	}
	if out.SizeBytes != 10 {
		t.Errorf("SizeBytes = %d, want 10", out.SizeBytes)
	}

	data, err := os.ReadFile(out.VideoPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "0123456789" {
		t.Errorf("stored content = %q", data)
	}

	v, err := db.GetVideo(env.DB, "arm.mp4")
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if v.Source != db.SourceUpload || v.SizeBytes != 10 || v.SourceURL != nil {
		t.Errorf("unexpected registry row: %+v", v)
	}
}

func TestUpload_ReplacesExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := Upload(ctx, env.Env, UploadInput{Filename: "a.mp4", Reader: strings.NewReader("old")}); err != nil {
		t.Fatalf("first Upload failed: %v", err)
	}
	out, err := Upload(ctx, env.Env, UploadInput{Filename: "a.mp4", Reader: strings.NewReader("newer")})
	if err != nil {
		t.Fatalf("second Upload failed: %v", err)
	}
	data, _ := os.ReadFile(out.VideoPath)
	if string(data) != "newer" {
		t.Errorf("content = %q, want newer", data)
	}
}

func TestUpload_InvalidName(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"", "  ", "../x.mp4", "dir/x.mp4", ".."} {
		_, err := Upload(context.Background(), env.Env, UploadInput{Filename: name, Reader: strings.NewReader("x")})
		assertCode(t, err, errors.ErrInvalidRequest)
	}
}

func TestUpload_MissingReader(t *testing.T) {
	env := newTestEnv(t)
	_, err := Upload(context.Background(), env.Env, UploadInput{Filename: "a.mp4"})
	assertCode(t, err, errors.ErrInvalidRequest)
}

func TestFetchURL_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/demo.mp4" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "remote bytes")
	}))
	defer srv.Close()

	url := srv.URL + "/media/demo.mp4?token=abc"
	out, err := FetchURL(context.Background(), env.Env, FetchURLInput{URL: url})
	if err != nil {
		t.Fatalf("FetchURL failed: %v", err)
	}
	if out.Filename != "demo.mp4" {
		t.Errorf("Filename = %q, want demo.mp4", out.Filename)
	}
	if out.Message != UploadMessage {
		t.Errorf("Message = %q", out.Message)
	}
	data, _ := os.ReadFile(filepath.Join(env.disk.Dir(), "demo.mp4"))
	if string(data) != "remote bytes" {
		t.Errorf("content = %q", data)
	}

	v, err := db.GetVideo(env.DB, "demo.mp4")
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if v.Source != db.SourceURL || v.SourceURL == nil || *v.SourceURL != url {
		t.Errorf("unexpected registry row: %+v", v)
	}
}

func TestFetchURL_Non2xx(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FetchURL(context.Background(), env.Env, FetchURLInput{URL: srv.URL + "/missing.mp4"})
	assertCode(t, err, errors.ErrDownloadFailed)
	if appErr := errors.As(err); appErr.Details["upstream_status"] != http.StatusNotFound {
		t.Errorf("upstream_status = %v, want 404", appErr.Details["upstream_status"])
	}
	if _, err := os.Stat(filepath.Join(env.disk.Dir(), "missing.mp4")); !os.IsNotExist(err) {
		t.Error("nothing should be stored on a failed download")
	}
}

func TestFetchURL_TransportError(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/x.mp4"
	srv.Close()

	_, err := FetchURL(context.Background(), env.Env, FetchURLInput{URL: url})
	assertCode(t, err, errors.ErrDownloadFailed)
}

func TestFetchURL_InvalidURL(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{"", "ftp://host/a.mp4", "http:///a.mp4", "http://host/", "http://host"} {
		_, err := FetchURL(context.Background(), env.Env, FetchURLInput{URL: raw})
		assertCode(t, err, errors.ErrInvalidRequest)
	}
}

func TestNameFromURL(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/a/b/run.mp4":         "run.mp4",
		"https://cdn.example.com/run.mp4?sig=1#frag":  "run.mp4",
		"http://example.com/videos/clip%20one.mp4":    "clip one.mp4",
		"https://example.com/path/to/recording.webm/": "recording.webm",
	}
	for raw, want := range tests {
		got, err := nameFromURL(raw)
		if err != nil {
			t.Errorf("nameFromURL(%q) error: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("nameFromURL(%q) = %q, want %q", raw, got, want)
		}
	}
}
