package ops

import (
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/config"
	"github.com/hpungsan/robolabel/internal/db"
)

const (
	// untimedAttempt stands in for a labeling attempt with no configured timeout.
	untimedAttempt = 10 * time.Minute
	// reclaimMargin covers decoding and store downloads between checkpoints.
	reclaimMargin = 5 * time.Minute
)

// StaleAfter is how long a running analysis may go without progress before
// it is treated as abandoned: the worst case for one group, every attempt
// timing out with full backoff in between, plus a margin.
func StaleAfter(cfg *config.Config) time.Duration {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	attempt := time.Duration(cfg.InferenceTimeoutSeconds) * time.Second
	if attempt <= 0 {
		attempt = untimedAttempt
	}
	retries := max(cfg.InferenceMaxRetries, 0)

	total := attempt * time.Duration(retries+1)
	delay := time.Duration(cfg.InferenceRetryBaseDelayMs) * time.Millisecond
	for range retries {
		total += delay
		delay *= 2
	}
	return total + reclaimMargin
}

// ReclaimInterrupted fails running analyses that have made no progress for
// StaleAfter, so they can be resumed. Live runs of other processes sharing
// the database keep checkpointing and are not touched.
func ReclaimInterrupted(env *Env) (int64, error) {
	staleBefore := time.Now().Add(-StaleAfter(env.config())).Unix()
	n, err := db.MarkInterrupted(env.DB, staleBefore)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		env.logger().Info("marked interrupted analyses as failed", zap.Int64("count", n))
	}
	return n, nil
}
