package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "video not found: a.mp4",
	}

	expected := "NOT_FOUND: video not found: a.mp4"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("filename is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "filename is required" {
		t.Errorf("Message = %q, want %q", err.Message, "filename is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("video", "arm.mp4")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "arm.mp4" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "arm.mp4")
	}
}

func TestNewDownloadFailed(t *testing.T) {
	err := NewDownloadFailed("http://x/a.mp4", 404, nil)

	if err.Code != ErrDownloadFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrDownloadFailed)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Details["upstream_status"] != 404 {
		t.Errorf("Details[upstream_status] = %v, want 404", err.Details["upstream_status"])
	}

	noResp := NewDownloadFailed("http://x/a.mp4", 0, fmt.Errorf("dial tcp: refused"))
	if _, ok := noResp.Details["upstream_status"]; ok {
		t.Errorf("upstream_status should be absent when no response was received")
	}
}

func TestNewInferenceFailed_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("upstream 503")
	err := NewInferenceFailed(1, "00:10", "00:11", cause)

	if err.Code != ErrInferenceFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrInferenceFailed)
	}
	if !stderrors.Is(err, cause) {
		t.Errorf("errors.Is should see the cause through AppError")
	}
	if err.Details["group"] != 1 {
		t.Errorf("Details[group] = %v, want 1", err.Details["group"])
	}
}

func TestNewDecodeFailed(t *testing.T) {
	err := NewDecodeFailed("/tmp/x.mp4", fmt.Errorf("moov atom not found"))
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
}

func TestIs(t *testing.T) {
	err := NewNotFound("video", "a.mp4")

	if !Is(err, ErrNotFound) {
		t.Error("Is(err, ErrNotFound) = false, want true")
	}
	if Is(err, ErrInternal) {
		t.Error("Is(err, ErrInternal) = true, want false")
	}

	wrapped := fmt.Errorf("analyze: %w", err)
	if !Is(wrapped, ErrNotFound) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}

	if Is(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("Is(plain error) = true, want false")
	}
}

func TestAs(t *testing.T) {
	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}

	plain := As(fmt.Errorf("boom"))
	if plain.Code != ErrInternal || plain.Status != 500 {
		t.Errorf("As(plain) = %+v, want INTERNAL/500", plain)
	}

	nf := NewNotFound("analysis", "01X")
	if As(fmt.Errorf("wrap: %w", nf)) != nf {
		t.Error("As should return the wrapped AppError")
	}
}
