package fetchkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fetchkit/fetchkit/download"
	"github.com/fetchkit/fetchkit/ratelimit"
)

// Client defaults, overridable per client via [Build] options and per
// request via [RequestOption] values.
const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 1
)

// maxErrBody caps how much of a failed response's body is captured onto
// the returned error.
const maxErrBody = 4 << 10

// validatorFunc runs struct-tag validation on a config value.
type validatorFunc func(s any) error

// knownMethods is the closed set of HTTP methods the client accepts.
var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Client executes HTTP requests with retries, backoff, response
// decoding, streaming, downloads, endpoint balancing, and response
// forwarding. Build one with [Build]; the zero value is not usable.
// A Client is safe for concurrent use.
type Client struct {
	c *http.Client

	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	validate *validator.Validate

	jar  *CookieJar
	pins PinValidator

	baseURL string
	timeout time.Duration
	retries int

	baseDelay time.Duration
	maxDelay  time.Duration
}

// Build constructs a Client from the given options.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	c := &Client{
		logger:    slog.Default(),
		baseURL:   opts.baseURL,
		timeout:   defaultTimeout,
		retries:   defaultRetries,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.timeout != nil {
		c.timeout = *opts.timeout
	}
	if opts.retries != nil {
		c.retries = *opts.retries
	}
	if opts.baseDelay > 0 {
		c.baseDelay = opts.baseDelay
		c.maxDelay = opts.maxDelay
	}

	hc := opts.client
	if hc == nil {
		hc = &http.Client{}
	}
	c.c = hc

	rt := opts.rt
	if rt == nil {
		rt = hc.Transport
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	if opts.userAgent != "" {
		rt = userAgentTripper{value: opts.userAgent, next: rt}
	}
	if opts.throttleRPS > 0 {
		tt, err := newThrottleTripper(opts.throttleRPS, opts.throttleBurst, func() *slog.Logger { return c.logger }, rt)
		if err != nil {
			return nil, err
		}
		rt = tt
	}
	hc.Transport = rt

	if opts.noFollowRedirects {
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if !opts.noCookieJar {
		c.jar = NewCookieJar()
	}

	c.pins = opts.pinValidator
	if c.pins == nil {
		c.pins = newSPKIValidator()
	}

	if opts.metricsReg != nil {
		c.metrics = NewMetrics(opts.metricsReg)
	}

	tp := opts.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	c.tracer = tp.Tracer("github.com/fetchkit/fetchkit")

	return c, nil
}

// Do executes one logical request. The body is ignored for methods that
// don't carry one. On success any configured forwarders fire in the
// background before Do returns.
func (c *Client) Do(ctx context.Context, method, url string, body Body, optFns ...RequestOption) (*Response, error) {
	start := time.Now()

	method = strings.ToUpper(strings.TrimSpace(method))
	if !knownMethods[method] {
		return nil, validationError("unsupported method %q", method)
	}
	if strings.TrimSpace(url) == "" && c.baseURL == "" {
		return nil, validationError("url must not be empty")
	}

	cfg := &requestConfig{
		method:       method,
		url:          url,
		body:         body,
		timeout:      c.timeout,
		retries:      c.retries,
		responseType: TypeAuto,
	}
	for _, opt := range optFns {
		if err := opt(cfg); err != nil {
			var fe *Error
			if errors.As(err, &fe) {
				return nil, fe
			}
			return nil, validationError("invalid request option: %v", err)
		}
	}

	if err := c.validateConfig(cfg); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logger := c.logger.With("requestID", requestID, "method", method, "url", url)
	logger.Debug("request start")

	ctx, span := c.tracer.Start(ctx, "fetchkit.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.String("fetchkit.request_id", requestID),
		),
	)
	defer span.End()

	var (
		resp *Response
		err  error
	)
	if cfg.balancer != nil {
		resp, err = c.runBalancer(ctx, cfg)
	} else {
		target := ResolveURL(cfg.url, c.baseURL)
		resp, err = c.executeWithRetry(ctx, cfg, target)
	}

	duration := time.Since(start)

	var status int
	if resp != nil {
		status = resp.Status
	}
	c.metrics.observeRequest(method, status, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if err != nil {
		span.RecordError(err)
		logger.Debug("request failed", "duration", duration, "error", err)
		return nil, err
	}

	logger.Debug("request complete", "status", status, "duration", duration)

	if len(cfg.forwarders) > 0 {
		c.forward(ctx, resp, cfg.forwarders, cfg.forwardDone)
	}

	return resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, Body{}, opts...)
}

// Head issues a HEAD request. The response carries status and headers
// only.
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodHead, url, Body{}, opts...)
}

// Options issues an OPTIONS request. The response carries status and
// headers only.
func (c *Client) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodOptions, url, Body{}, opts...)
}

// Trace issues a TRACE request. The response carries status and headers
// only.
func (c *Client) Trace(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodTrace, url, Body{}, opts...)
}

// Post issues a POST request with the given body.
func (c *Client) Post(ctx context.Context, url string, body Body, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, opts...)
}

// Put issues a PUT request with the given body.
func (c *Client) Put(ctx context.Context, url string, body Body, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, body, opts...)
}

// Patch issues a PATCH request with the given body.
func (c *Client) Patch(ctx context.Context, url string, body Body, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, url, body, opts...)
}

// Delete issues a DELETE request with an optional body.
func (c *Client) Delete(ctx context.Context, url string, body Body, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, body, opts...)
}

// validateConfig runs every pre-flight invariant check. A violation is
// fatal: nothing reaches the network.
func (c *Client) validateConfig(cfg *requestConfig) error {
	if cfg.retries < 0 {
		return validationError("retries must be >= 0, got %d", cfg.retries)
	}
	if cfg.timeout < 0 {
		return validationError("timeout must be >= 0, got %s", cfg.timeout)
	}
	if cfg.stream && cfg.download {
		return validationError("streaming and download are mutually exclusive")
	}
	if cfg.download && strings.TrimSpace(cfg.filename) == "" {
		return validationError("download requires a destination filename")
	}
	if cfg.rate < 0 {
		return validationError("transfer rate must be >= 0, got %d", cfg.rate)
	}
	if len(cfg.pins) > maxPins {
		return validationError("at most %d pins allowed, got %d", maxPins, len(cfg.pins))
	}

	if cfg.balancer != nil {
		if err := cfg.balancer.validate(c.validate.Struct); err != nil {
			return err
		}
	}
	if len(cfg.forwarders) > 0 {
		if err := validateForwarders(cfg.forwarders, c.validate.Struct); err != nil {
			return err
		}
	}
	if cfg.auth != nil {
		if err := c.validate.Struct(cfg.auth); err != nil {
			return validationError("invalid auth config: %v", err)
		}
		if _, err := cfg.auth.headers(); err != nil {
			return err
		}
	}

	return nil
}

// executeWithRetry runs the retried attempt loop against one resolved
// endpoint.
func (c *Client) executeWithRetry(ctx context.Context, cfg *requestConfig, target string) (*Response, error) {
	r := retrier{
		retries: cfg.retries,
		base:    c.baseDelay,
		max:     c.maxDelay,
		logger:  c.logger,
		onRetry: func() { c.metrics.observeRetry(cfg.method) },
	}

	return r.do(ctx, target, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, cfg, target)
	})
}

// attempt performs one physical request. Each attempt gets its own
// timeout derived from the caller's context, so caller cancellation
// always wins over the per-attempt deadline. For streaming requests the
// deadline bounds only the round trip: iteration over the returned
// stream is bounded by the caller's context alone.
func (c *Client) attempt(ctx context.Context, cfg *requestConfig, target string) (*Response, error) {
	if len(cfg.pins) > 0 {
		if err := c.pins.Validate(ctx, target, cfg.pins); err != nil {
			return nil, normalize(err, target)
		}
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	switch {
	case cfg.timeout > 0 && cfg.stream:
		// A deadline context would keep ticking under the returned
		// stream and kill iteration at the attempt timeout. Use a
		// watchdog that only covers the round trip; it is disarmed when
		// the attempt settles, and cancel transfers to the stream.
		attemptCtx, cancel = context.WithCancel(ctx)
		watchdog := time.AfterFunc(cfg.timeout, cancel)
		defer watchdog.Stop()
	case cfg.timeout > 0:
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
	}

	req, err := c.buildRequest(attemptCtx, cfg, target)
	if err != nil {
		cancel()
		return nil, normalize(err, target)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		cancel()
		return nil, normalize(err, target)
	}

	if c.jar != nil {
		c.jar.absorb(resp.Header)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ferr := c.httpError(resp, target)
		cancel()
		return nil, ferr
	}

	if cfg.stream {
		// The stream takes ownership of both the body and the attempt's
		// cancel; Stream.Close releases them.
		return &Response{
			Status: resp.StatusCode,
			Header: resp.Header,
			URL:    target,
			Stream: newStream(resp, target, cancel),
		}, nil
	}
	defer cancel()

	if cfg.download {
		return c.saveDownload(attemptCtx, resp, cfg, target)
	}

	return c.parseResponse(attemptCtx, resp, cfg, target)
}

// httpError converts a non-2xx response into a normalized error with a
// best-effort decoded body capped at maxErrBody.
func (c *Client) httpError(resp *http.Response, target string) *Error {
	defer drainBody(resp.Body, c.logger)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	if err != nil {
		c.logger.Debug("reading error response body", "error", err)
	}

	var body any
	if len(raw) > 0 {
		body = string(raw)
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			var v any
			if jerr := json.Unmarshal(raw, &v); jerr == nil {
				body = v
			}
		}
	}

	return &Error{
		Kind:       KindHTTPStatus,
		Message:    fmt.Sprintf("unexpected status: %s", resp.Status),
		Status:     resp.StatusCode,
		Body:       body,
		URL:        target,
		RetryAfter: resp.Header.Get("Retry-After"),
	}
}

// saveDownload streams the body to disk and returns metadata instead of
// a decoded value.
func (c *Client) saveDownload(ctx context.Context, resp *http.Response, cfg *requestConfig, target string) (*Response, error) {
	defer drainBody(resp.Body, c.logger)

	var src io.Reader = resp.Body
	if cfg.rate > 0 {
		limiter, err := c.transferLimiter(cfg)
		if err != nil {
			return nil, err
		}
		src = ratelimit.NewReader(ctx, src, limiter)
	}

	var opts []download.Option
	if cfg.progress != nil {
		opts = append(opts, download.WithProgress(cfg.progress))
	}

	n, err := download.Save(ctx, src, resp.ContentLength, cfg.filename, c.logger, opts...)
	if err != nil {
		return nil, normalize(err, target)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		URL:    target,
		Download: &DownloadInfo{
			Filename:    cfg.filename,
			Size:        n,
			ContentType: resp.Header.Get("Content-Type"),
			Status:      resp.StatusCode,
		},
	}, nil
}
