package warehouse

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

const (
	maxLoadAttempts  = 3
	initialBackoff   = 2 * time.Second
	backoffMultipler = 2
)

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// markTransient tags an error as worth retrying inside the executor. Only
// remote I/O paths (object fetch, byte streaming) produce these; schema and
// constraint failures are terminal no matter how often they run.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// withRetry runs op with bounded attempts and exponential backoff, retrying
// only transient failures. Upstream redelivery remains the outer retry loop;
// this just absorbs short-lived network blips without burning a redelivery.
func withRetry(ctx context.Context, jobId string, op func() error) error {
	backoff := initialBackoff

	var err error
	for attempt := 1; attempt <= maxLoadAttempts; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}

		if attempt == maxLoadAttempts {
			break
		}

		slog.Warn("transient load failure, backing off", "job_id", jobId, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= backoffMultipler
	}

	return err
}
