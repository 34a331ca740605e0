package inference

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/hpungsan/robolabel/internal/metrics"
)

// RetryOptions bounds a Retrying labeler.
type RetryOptions struct {
	// Timeout caps each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles each time.
	BaseDelay time.Duration
	// RPM paces calls to at most this many per minute. Zero disables pacing.
	RPM int
}

// Retrying wraps a Labeler with a per-attempt timeout, bounded retries with
// exponential backoff for transient failures, and optional pacing.
type Retrying struct {
	next    Labeler
	opts    RetryOptions
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying decorates next. A nil logger discards retry logs.
func NewRetrying(next Labeler, opts RetryOptions, logger *zap.Logger) *Retrying {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrying{next: next, opts: opts, logger: logger, sleep: sleepWithCtx}
	if opts.RPM > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RPM)), 1)
	}
	return r
}

// Label implements Labeler. Cancellation of ctx is returned immediately and
// never retried.
func (r *Retrying) Label(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			r.logger.Warn("retrying labeling call",
				zap.Int("group", req.Group),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			metrics.InferenceRetriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
			if err := r.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := r.attempt(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !Transient(err) {
			break
		}
	}
	return "", lastErr
}

func (r *Retrying) attempt(ctx context.Context, req Request) (string, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := r.next.Label(ctx, req)
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	return text, err
}

func (r *Retrying) backoff(attempt int) time.Duration {
	d := r.opts.BaseDelay
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Transient reports whether a labeling error is worth retrying: per-attempt
// timeouts, network errors and API statuses 408, 429 and 5xx. Cancellation
// and empty responses are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, ErrEmptyResponse) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if stderrors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return retryableStatus(apiErrPtr.Code)
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
