package fetchkit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

var errThrottleConfig = errors.New("rps and burst must be greater than zero")

// throttleTripper limits outbound request rate with a token bucket.
// This is request-per-second throttling at the transport layer,
// distinct from the per-transfer byte rate limiting in ratelimit.
type throttleTripper struct {
	limiter *rate.Limiter
	next    http.RoundTripper
	logFn   func() *slog.Logger
}

func newThrottleTripper(rps, burst int, logFn func() *slog.Logger, next http.RoundTripper) (*throttleTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] burst[%d]: %w", rps, burst, errThrottleConfig)
	}

	return &throttleTripper{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		next:    next,
		logFn:   logFn,
	}, nil
}

func (t *throttleTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.limiter.Tokens() < 1 {
		t.logFn().Debug("throttling outbound request", "url", r.URL.String())
	}
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	return t.next.RoundTrip(r)
}

// userAgentTripper sets a persistent User-Agent header on every
// outgoing request.
type userAgentTripper struct {
	value string
	next  http.RoundTripper
}

func (t userAgentTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", t.value)
	return t.next.RoundTrip(cpy)
}
