package ops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/metrics"
	"github.com/hpungsan/robolabel/internal/store"
)

// FetchURLInput contains parameters for the FetchURL operation.
type FetchURLInput struct {
	URL string // required, http or https
}

// FetchURL downloads a video and stores it under the last segment of the
// URL path. Any transport error or non-2xx response is DOWNLOAD_FAILED and
// leaves the store untouched.
func FetchURL(ctx context.Context, env *Env, input FetchURLInput) (out *UploadOutput, err error) {
	raw := strings.TrimSpace(input.URL)
	name, err := nameFromURL(raw)
	if err != nil {
		return nil, err
	}

	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		metrics.DownloadsTotal.WithLabelValues(status).Inc()
	}()

	if secs := env.config().DownloadTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid url: %v", err))
	}
	resp, err := env.httpClient().Do(req)
	if err != nil {
		env.logger().Warn("download failed", zap.String("url", raw), zap.Error(err))
		return nil, errors.NewDownloadFailed(raw, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		env.logger().Warn("download rejected", zap.String("url", raw), zap.Int("status", resp.StatusCode))
		return nil, errors.NewDownloadFailed(raw, resp.StatusCode, nil)
	}

	body := &trackingReader{r: resp.Body}
	out, err = save(ctx, env, name, body, db.SourceURL, stringPtr(raw))
	if err != nil && body.err != nil {
		return nil, errors.NewDownloadFailed(raw, 0, body.err)
	}
	return out, err
}

// nameFromURL validates the URL and returns its last path segment.
func nameFromURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.NewInvalidRequest("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.NewInvalidRequest("url must use http or https")
	}
	if u.Host == "" {
		return "", errors.NewInvalidRequest("url must include a host")
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", errors.NewInvalidRequest("url path must end in a file name")
	}
	if err := store.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// trackingReader remembers the first read error from the response body so a
// broken download is reported as such rather than as a storage failure.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
