package fetchkit

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default backoff window for retried attempts.
const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
)

// retrier runs the attempt loop for one logical request against one
// endpoint. Attempts are strictly sequential: attempt n+1 never starts
// before attempt n settles.
type retrier struct {
	retries int // additional attempts after the first
	base    time.Duration
	max     time.Duration
	logger  *slog.Logger
	onRetry func() // invoked once per scheduled retry, may be nil
}

// do executes fn up to retries+1 times. On exhaustion the last error is
// returned in normalized form.
func (r retrier) do(ctx context.Context, url string, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.retries; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRetry(err, attempt, r.retries) {
			break
		}

		delay := r.backoff(err, attempt)
		if r.onRetry != nil {
			r.onRetry()
		}
		r.logger.Info("scheduling retry",
			"url", url,
			"attempt", attempt+1,
			"maxRetries", r.retries,
			"backoff", delay,
			"error", err,
		)

		if serr := sleepContext(ctx, delay); serr != nil {
			return nil, normalize(serr, url)
		}
	}

	return nil, normalize(lastErr, url)
}

// shouldRetry decides whether a failed attempt is worth repeating.
// Aborts are a user- or timeout-triggered stop, client errors and
// validation failures won't improve on retry, and pin mismatches must
// never be silently retried. Transport failures, 5xx, and anything
// unclassified are retried.
func shouldRetry(err error, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}

	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindAbort, KindValidation, KindPinning, KindStreamParse:
			return false
		case KindHTTPStatus:
			return fe.Status < 400 || fe.Status >= 500
		}
	}

	return true
}

// backoff computes the wait before the next attempt. A parseable
// server-supplied Retry-After hint takes precedence; otherwise an
// exponential delay with uniform jitter in [0.75, 1.25] applies.
func (r retrier) backoff(err error, attempt int) time.Duration {
	var fe *Error
	if errors.As(err, &fe) && fe.RetryAfter != "" {
		if d, ok := parseRetryAfter(fe.RetryAfter); ok {
			return d
		}
	}

	d := r.max
	if attempt < 30 {
		d = r.base << attempt
		if d > r.max || d < r.base {
			d = r.max
		}
	}

	jitter := 0.75 + 0.5*randomFloat()

	return time.Duration(float64(d) * jitter)
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) (time.Duration, bool) {
	v := strings.TrimSpace(value)

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// randomFloat returns a uniform value in [0, 1), cryptographically
// sourced with a time-derived fallback.
func randomFloat() float64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return float64(time.Now().UnixNano()%1000) / 1000
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// sleepContext waits for d, returning early with the context error if
// the caller cancels.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
