package httpkit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry policy constants. These are shared by every provider client so
// that transient upstream failures are handled uniformly.
const (
	// MaxRetryAttempts is the total number of attempts, including the first.
	MaxRetryAttempts = 3

	// BackoffBase is the unjittered delay before the first retry.
	BackoffBase = 1000 * time.Millisecond

	// BackoffCap is the ceiling on the unjittered delay.
	BackoffCap = 10000 * time.Millisecond
)

// retryableStatus is the set of HTTP status codes worth retrying.
// Everything else — including 4xx client errors — is returned to the
// caller untouched.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// RetryableStatus reports whether code is in the transient-failure set.
func RetryableStatus(code int) bool {
	return retryableStatus[code]
}

// Backoff returns the unjittered exponential delay for a 0-indexed
// attempt: BackoffBase * 2^attempt, capped at BackoffCap.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := BackoffBase << attempt
	if d > BackoffCap || d <= 0 {
		d = BackoffCap
	}
	return d
}

// JitteredBackoff applies ±25% uniform jitter to Backoff(attempt),
// rounded to the nearest millisecond. Jitter spreads out retries from
// many clients that failed at the same instant.
func JitteredBackoff(attempt int) time.Duration {
	base := float64(Backoff(attempt) / time.Millisecond)
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(math.Round(base*factor)) * time.Millisecond
}

// IsCancellation reports whether err was caused by context cancellation
// or deadline expiry, including when wrapped by net/http's *url.Error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Retrier executes a single logical HTTP request with retries on
// transient failures. Attempts are strictly sequential; a request is
// never in flight concurrently with its own retry.
type Retrier struct {
	maxAttempts int
	logger      *slog.Logger

	// wait is overridable in tests to avoid real sleeps.
	wait func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier with the package retry policy.
func NewRetrier(logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		maxAttempts: MaxRetryAttempts,
		logger:      logger,
		wait:        waitCtx,
	}
}

func waitCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes attempt up to MaxRetryAttempts times, backing off between
// tries. Two exhaustion outcomes are deliberately asymmetric:
//
//   - If the final attempt returns a response with a retryable status,
//     that response is returned with a nil error. A retryable status is
//     still a valid HTTP response; the caller inspects StatusCode.
//   - If the final attempt returns a transport-level error, that error
//     is returned. The request never completed, so there is no response
//     to hand back.
//
// Cancellation errors propagate immediately and are never retried, and
// a pending backoff wait is abandoned the moment ctx is cancelled.
// Responses abandoned for retry have their bodies drained and closed so
// connections return to the pool.
func (r *Retrier) Do(ctx context.Context, attempt func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	for i := 0; i < r.maxAttempts; i++ {
		resp, err := attempt()

		if err != nil {
			if IsCancellation(err) {
				return nil, err
			}
			lastErr = err
			if i == r.maxAttempts-1 {
				return nil, lastErr
			}
			delay := JitteredBackoff(i)
			r.logger.Debug("retrying after transport error",
				"attempt", i+1,
				"max_attempts", r.maxAttempts,
				"delay", delay,
				"error", err,
			)
			if werr := r.wait(ctx, delay); werr != nil {
				return nil, werr
			}
			continue
		}

		if !retryableStatus[resp.StatusCode] || i == r.maxAttempts-1 {
			return resp, nil
		}

		delay := retryAfterDelay(resp)
		if delay <= 0 {
			delay = JitteredBackoff(i)
		}
		r.logger.Debug("retrying after retryable status",
			"attempt", i+1,
			"max_attempts", r.maxAttempts,
			"status", resp.StatusCode,
			"delay", delay,
		)
		DrainAndClose(resp.Body, 4096)
		if werr := r.wait(ctx, delay); werr != nil {
			return nil, werr
		}
	}

	// Unreachable: the loop always returns on its final iteration.
	return nil, lastErr
}

// retryAfterDelay reads a Retry-After header as a delay in seconds.
// Returns 0 when absent or unparsable so the caller falls back to
// computed backoff.
func retryAfterDelay(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
