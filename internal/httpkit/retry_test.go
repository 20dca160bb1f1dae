package httpkit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestBackoffMonotonicAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := Backoff(attempt)
		if d < prev {
			t.Errorf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > BackoffCap {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, BackoffCap)
		}
		prev = d
	}

	if Backoff(0) != 1000*time.Millisecond {
		t.Errorf("attempt 0: expected 1s, got %v", Backoff(0))
	}
	if Backoff(1) != 2000*time.Millisecond {
		t.Errorf("attempt 1: expected 2s, got %v", Backoff(1))
	}
	if Backoff(2) != 4000*time.Millisecond {
		t.Errorf("attempt 2: expected 4s, got %v", Backoff(2))
	}
	if Backoff(10) != BackoffCap {
		t.Errorf("attempt 10: expected cap %v, got %v", BackoffCap, Backoff(10))
	}
}

func TestJitteredBackoffWithinBounds(t *testing.T) {
	for attempt := 0; attempt < 4; attempt++ {
		base := Backoff(attempt)
		lo := time.Duration(float64(base) * 0.75)
		hi := time.Duration(float64(base) * 1.25)
		for i := 0; i < 100; i++ {
			d := JitteredBackoff(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

// newTestRetrier returns a Retrier whose waits are recorded instead of slept.
func newTestRetrier(t *testing.T, waits *[]time.Duration) *Retrier {
	t.Helper()
	r := NewRetrier(nil)
	r.wait = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		*waits = append(*waits, d)
		return nil
	}
	return r
}

func stubResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestRetryExhaustionReturnsFinalResponse(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	attempts := 0
	resp, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		return stubResponse(http.StatusServiceUnavailable, nil, "overloaded"), nil
	})
	if err != nil {
		t.Fatalf("expected final response, got error: %v", err)
	}
	if attempts != MaxRetryAttempts {
		t.Errorf("expected %d attempts, got %d", MaxRetryAttempts, attempts)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 passed through, got %d", resp.StatusCode)
	}
	if len(waits) != MaxRetryAttempts-1 {
		t.Errorf("expected %d backoff waits, got %d", MaxRetryAttempts-1, len(waits))
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	attempts := 0
	resp, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return stubResponse(http.StatusBadGateway, nil, ""), nil
		}
		return stubResponse(http.StatusOK, nil, "ok"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRetryableStatusReturnsImmediately(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	attempts := 0
	resp, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		return stubResponse(http.StatusUnauthorized, nil, "bad key"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("401 should not be retried, got %d attempts", attempts)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRetryAfterHeaderHonored(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	attempts := 0
	_, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		if attempts == 1 {
			h := http.Header{}
			h.Set("Retry-After", "2")
			return stubResponse(http.StatusTooManyRequests, h, ""), nil
		}
		return stubResponse(http.StatusOK, nil, ""), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waits) != 1 {
		t.Fatalf("expected 1 wait, got %d", len(waits))
	}
	if waits[0] != 2*time.Second {
		t.Errorf("expected Retry-After wait of 2s, got %v", waits[0])
	}
}

func TestRetryTransportErrorPropagatesAfterExhaustion(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	boom := errors.New("connection reset")
	attempts := 0
	resp, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		return nil, boom
	})
	if resp != nil {
		t.Error("expected nil response on transport failure")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected final error propagated, got %v", err)
	}
	if attempts != MaxRetryAttempts {
		t.Errorf("expected %d attempts, got %d", MaxRetryAttempts, attempts)
	}
}

func TestRetryCancellationNotRetried(t *testing.T) {
	var waits []time.Duration
	r := newTestRetrier(t, &waits)

	attempts := 0
	_, err := r.Do(context.Background(), func() (*http.Response, error) {
		attempts++
		return nil, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("cancellation must not be retried, got %d attempts", attempts)
	}
	if len(waits) != 0 {
		t.Errorf("cancellation must not wait, got %d waits", len(waits))
	}
}

func TestRetryCancelledContextShortCircuitsWait(t *testing.T) {
	// Real waits this time: a cancelled context must abort the backoff
	// immediately rather than sleeping it out.
	r := NewRetrier(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := r.Do(ctx, func() (*http.Response, error) {
		return stubResponse(http.StatusServiceUnavailable, nil, ""), nil
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("cancelled wait took %v, expected immediate return", elapsed)
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(context.Canceled) {
		t.Error("context.Canceled should classify as cancellation")
	}
	if !IsCancellation(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should classify as cancellation")
	}
	if IsCancellation(errors.New("no route to host")) {
		t.Error("arbitrary errors are not cancellation")
	}
	// As wrapped by net/http.
	wrapped := &testWrapErr{inner: context.Canceled}
	if !IsCancellation(wrapped) {
		t.Error("wrapped context.Canceled should classify as cancellation")
	}
}

type testWrapErr struct{ inner error }

func (e *testWrapErr) Error() string { return "request failed: " + e.inner.Error() }
func (e *testWrapErr) Unwrap() error { return e.inner }
