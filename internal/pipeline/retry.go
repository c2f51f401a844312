package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/papergest/internal/scrape"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *scrape.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// FetchWithRetry downloads pmcid, retrying retryable errors up to MaxRetries
// attempts with a backoff(attempt) pause between them. No pause follows the
// last attempt. A nil backoff uses Backoff.
func FetchWithRetry(ctx context.Context, f Fetcher, pmcid string, backoff func(attempt int) time.Duration, log *slog.Logger) ([]byte, error) {
	if backoff == nil {
		backoff = Backoff
	}
	var data []byte
	var err error
	for attempt := range MaxRetries {
		data, err = f.FetchXML(ctx, pmcid)
		if err == nil || !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		wait := backoff(attempt)
		log.Warn("retryable fetch error", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
