package web

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/ops"
	"github.com/hpungsan/robolabel/internal/report"
	"github.com/hpungsan/robolabel/internal/store"
)

// maxJSONBody caps small JSON request bodies.
const maxJSONBody = 64 << 10

// Handlers contains HTTP route handlers.
type Handlers struct {
	env      *ops.Env
	renderer *Renderer
	logger   *zap.Logger
}

// HandleUpload handles POST /video/upload: a multipart form whose "video"
// file part is streamed into the store.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if limit := h.maxUploadBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		renderJSONError(w, errors.NewInvalidRequest("expected multipart/form-data with a video field"))
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			renderJSONError(w, errors.NewInvalidRequest("video field is required"))
			return
		}
		if err != nil {
			renderJSONError(w, uploadError(err))
			return
		}
		if part.FormName() != "video" {
			part.Close()
			continue
		}

		out, err := ops.Upload(r.Context(), h.env, ops.UploadInput{
			Filename: part.FileName(),
			Reader:   part,
		})
		part.Close()
		if err != nil {
			renderJSONError(w, uploadError(err))
			return
		}
		renderJSON(w, http.StatusOK, out)
		return
	}
}

// HandleUploadURL handles POST /video/upload-url with body {"url": "..."}.
func (h *Handlers) HandleUploadURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&body); err != nil {
		renderJSONError(w, errors.NewInvalidRequest("body must be a JSON object with a url field"))
		return
	}

	out, err := ops.FetchURL(r.Context(), h.env, ops.FetchURLInput{URL: body.URL})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAnalyze handles POST /video/analyze/{filename}. The request blocks
// until every group is labeled; ?resume=true continues the last failed run.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Analyze(r.Context(), h.env, ops.AnalyzeInput{
		Filename: r.PathValue("filename"),
		Resume:   parseBoolParam(r, "resume"),
	})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFiles handles GET /video/files.
func (h *Handlers) HandleFiles(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListFiles(r.Context(), h.env)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAnalysesJSON handles GET /video/analyses.
func (h *Handlers) HandleAnalysesJSON(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListAnalyses(r.Context(), h.env, listInput(r))
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAnalysisJSON handles GET /video/analyses/{id}.
func (h *Handlers) HandleAnalysisJSON(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetAnalysis(r.Context(), h.env, ops.GetAnalysisInput{
		ID:                 r.PathValue("id"),
		IncludeCheckpoints: parseBoolParam(r, "checkpoints"),
	})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleReport handles GET /video/analyses/{id}/report: the result as an
// HTML page, or as Markdown with ?format=markdown.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	a, err := ops.GetAnalysis(r.Context(), h.env, ops.GetAnalysisInput{
		ID:                 r.PathValue("id"),
		IncludeCheckpoints: true,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	text, partial := ops.ReportText(a)
	md := report.Markdown(a.VideoName, text)

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, md)
		return
	}

	h.renderer.renderPage(w, "report", ReportPageData{
		PageData:     h.renderer.page(a.VideoName, "analyses"),
		Analysis:     a,
		RenderedHTML: renderMarkdown(md),
		Partial:      partial,
	})
}

// HandleVideosPage handles GET /videos.
func (h *Handlers) HandleVideosPage(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListFiles(r.Context(), h.env)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, "videos", VideosPageData{
		PageData: h.renderer.page("Videos", "videos"),
		Items:    out.Items,
	})
}

// HandleAnalysesPage handles GET /analyses.
func (h *Handlers) HandleAnalysesPage(w http.ResponseWriter, r *http.Request) {
	input := listInput(r)
	out, err := ops.ListAnalyses(r.Context(), h.env, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, "analyses", AnalysesPageData{
		PageData:   h.renderer.page("Analyses", "analyses"),
		Items:      out.Items,
		Pagination: out.Pagination,
		Video:      input.VideoName,
		Status:     input.Status,
	})
}

// HandleMedia handles GET /uploads/{name}, serving stored videos with
// range support so browsers can seek.
func (h *Handlers) HandleMedia(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rc, info, err := h.env.Store.Open(r.Context(), name)
	if err != nil {
		h.renderer.renderError(w, r, storeError(err))
		return
	}
	defer rc.Close()

	ext := strings.ToLower(filepath.Ext(name))
	if ct := mime.TypeByExtension(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else if ext == store.VideoExt {
		w.Header().Set("Content-Type", "video/mp4")
	}
	http.ServeContent(w, r, name, info.ModTime, rc)
}

func (h *Handlers) maxUploadBytes() int64 {
	if h.env.Config == nil || h.env.Config.MaxUploadMB <= 0 {
		return 0
	}
	return int64(h.env.Config.MaxUploadMB) << 20
}

func listInput(r *http.Request) ops.ListAnalysesInput {
	return ops.ListAnalysesInput{
		VideoName: r.URL.Query().Get("video"),
		Status:    r.URL.Query().Get("status"),
		Limit:     parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:    parseIntParam(r, "offset", 0),
	}
}

// uploadError reports an oversized body as a client error.
func uploadError(err error) error {
	var tooBig *http.MaxBytesError
	if stderrors.As(err, &tooBig) {
		return errors.NewInvalidRequest("video exceeds the maximum upload size of " + strconv.FormatInt(tooBig.Limit>>20, 10) + " MB")
	}
	return err
}

func storeError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.NewInternal(err)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
