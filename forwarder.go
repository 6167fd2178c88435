package fetchkit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Forwarder defaults, deliberately tighter than the primary request's:
// replication is best-effort and should not linger.
const (
	defaultForwardTimeout = 2 * time.Second
	defaultForwardRetries = 1
)

// Forwarder describes one replication endpoint for a completed
// response. Endpoints are independent: a failure is isolated and
// logged, never surfaced to the primary caller.
type Forwarder struct {
	// Method defaults to POST.
	Method string `validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URL    string `validate:"required"`

	Headers map[string]string

	// Body is a static replication payload, JSON-serialized. When nil
	// and BodyFunc is nil, the primary response body is forwarded
	// verbatim; for a parallel-balancer response the collected values
	// are forwarded as a JSON array.
	Body any
	// BodyFunc computes the payload from the primary response; return
	// ok=false to suppress forwarding to this endpoint.
	BodyFunc func(primary *Response) (body Body, ok bool)

	// Timeout and Retries override the forwarder defaults.
	Timeout time.Duration
	Retries *int

	Pins []string
}

// ForwardResult reports one endpoint's replication outcome to the
// optional completion callback.
type ForwardResult struct {
	Endpoint string
	Success  bool
	Err      error
}

// validateForwarders runs config checks for the whole group. This
// happens before the primary request executes: configuration errors are
// fatal and synchronous even though forwarding itself is
// fire-and-forget.
func validateForwarders(fws []Forwarder, v validatorFunc) error {
	if len(fws) == 0 {
		return validationError("forwarder list must not be empty")
	}
	for i := range fws {
		if err := v(&fws[i]); err != nil {
			return validationError("invalid forwarder config: %v", err)
		}
		if err := validateEndpointURL(fws[i].URL); err != nil {
			return err
		}
		if fws[i].Retries != nil && *fws[i].Retries < 0 {
			return validationError("forwarder %s: retries must be >= 0", fws[i].URL)
		}
		if len(fws[i].Pins) > maxPins {
			return validationError("forwarder %s: at most %d pins allowed", fws[i].URL, maxPins)
		}
	}
	return nil
}

// forward replicates the primary response to every configured endpoint
// concurrently. It returns immediately; completion is observed only via
// logging and the optional done callback.
func (c *Client) forward(ctx context.Context, primary *Response, fws []Forwarder, done func([]ForwardResult)) {
	// The primary caller's cancellation must not tear down in-flight
	// replication; trace values are kept.
	base := context.WithoutCancel(ctx)

	go func() {
		results := make([]ForwardResult, len(fws))

		var wg sync.WaitGroup
		for i := range fws {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := c.forwardOne(base, primary, &fws[i])
				results[i] = ForwardResult{
					Endpoint: fws[i].URL,
					Success:  err == nil,
					Err:      err,
				}
			}(i)
		}
		wg.Wait()

		var failed int
		for _, r := range results {
			if !r.Success {
				failed++
				c.logger.Warn("forwarder endpoint failed", "endpoint", r.Endpoint, "error", r.Err)
			}
		}
		c.logger.Info("forwarding complete",
			"endpoints", len(results),
			"succeeded", len(results)-failed,
			"failed", failed,
		)
		if c.metrics != nil {
			c.metrics.observeForwards(len(results)-failed, failed)
		}

		if done != nil {
			done(results)
		}
	}()
}

// forwardOne replicates to a single endpoint through its own retry
// loop.
func (c *Client) forwardOne(ctx context.Context, primary *Response, fw *Forwarder) error {
	body, ok := c.forwardBody(primary, fw)
	if !ok {
		c.logger.Debug("forwarding suppressed by body function", "endpoint", fw.URL)
		return nil
	}

	method := fw.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := fw.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}

	retries := defaultForwardRetries
	if fw.Retries != nil {
		retries = *fw.Retries
	}

	cfg := &requestConfig{
		method:       method,
		url:          fw.URL,
		headers:      fw.Headers,
		body:         body,
		timeout:      timeout,
		retries:      retries,
		responseType: TypeAuto,
		pins:         fw.Pins,
	}

	r := retrier{retries: retries, base: c.baseDelay, max: c.maxDelay, logger: c.logger}
	_, err := r.do(ctx, fw.URL, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, cfg, fw.URL)
	})
	if err != nil {
		return fmt.Errorf("forwarding to %s: %w", fw.URL, err)
	}

	return nil
}

// forwardBody resolves the replication payload: BodyFunc wins, then a
// static value, then the primary response verbatim.
func (c *Client) forwardBody(primary *Response, fw *Forwarder) (Body, bool) {
	if fw.BodyFunc != nil {
		return fw.BodyFunc(primary)
	}
	if fw.Body != nil {
		return JSONBody(fw.Body), true
	}
	if primary != nil && primary.Raw != nil {
		return RawBody(primary.Raw), true
	}
	if primary != nil && primary.Value != nil {
		return JSONBody(primary.Value), true
	}
	if primary != nil && len(primary.Parallel) > 0 {
		vals := make([]any, 0, len(primary.Parallel))
		for _, r := range primary.Parallel {
			vals = append(vals, r.Value)
		}
		return JSONBody(vals), true
	}
	return Body{}, true
}
