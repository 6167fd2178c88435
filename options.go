package fetchkit

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	client            *http.Client
	rt                http.RoundTripper
	baseURL           string
	timeout           *time.Duration
	retries           *int
	baseDelay         time.Duration
	maxDelay          time.Duration
	userAgent         string
	throttleRPS       int
	throttleBurst     int
	noFollowRedirects bool
	logger            *slog.Logger
	metricsReg        prometheus.Registerer
	tracerProvider    trace.TracerProvider
	pinValidator      PinValidator
	noCookieJar       bool
}

// WithClient replaces the default [http.Client] used by the [Client].
func WithClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithBaseURL sets the base URL relative request paths resolve against.
func WithBaseURL(base string) Option {
	return func(o *options) error {
		o.baseURL = base
		return nil
	}
}

// WithTimeout sets the default per-attempt timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		o.timeout = &d
		return nil
	}
}

// WithRetries sets the default retry count: n additional attempts after
// the first, so n=1 means up to 2 total attempts.
func WithRetries(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("retries must not be negative")
		}
		o.retries = &n
		return nil
	}
}

// WithBackoff sets the exponential backoff window for retried attempts.
func WithBackoff(base, max time.Duration) Option {
	return func(o *options) error {
		if base <= 0 || max < base {
			return errors.New("backoff requires 0 < base <= max")
		}
		o.baseDelay = base
		o.maxDelay = max
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing
// requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithThrottle enables request-per-second throttling with the given
// rate and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return errThrottleConfig
		}
		o.throttleRPS = rps
		o.throttleBurst = burst
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP
// redirects.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithMetrics registers Prometheus collectors for the request pipeline
// on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("registerer must not be nil")
		}
		o.metricsReg = reg
		return nil
	}
}

// WithTracerProvider enables per-request tracing spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) error {
		if tp == nil {
			return errors.New("tracer provider must not be nil")
		}
		o.tracerProvider = tp
		return nil
	}
}

// WithPinValidator replaces the default SPKI SHA-256 pin validator.
func WithPinValidator(v PinValidator) Option {
	return func(o *options) error {
		if v == nil {
			return errors.New("pin validator must not be nil")
		}
		o.pinValidator = v
		return nil
	}
}

// WithoutCookieJar disables the client-owned cookie store.
func WithoutCookieJar() Option {
	return func(o *options) error {
		o.noCookieJar = true
		return nil
	}
}

// RequestOption is a functional option for a single request.
type RequestOption func(*requestConfig) error

// requestConfig is the merged configuration for one logical request.
// It is built once per call from client defaults plus request options
// and treated as read-only by the attempt pipeline.
type requestConfig struct {
	method       string
	url          string
	headers      map[string]string
	query        map[string]string
	body         Body
	timeout      time.Duration
	retries      int
	responseType ResponseType
	stream       bool
	download     bool
	filename     string
	rate         int
	progress     func(pct int)
	balancer     *Balancer
	forwarders   []Forwarder
	forwardDone  func([]ForwardResult)
	auth         *Auth
	pins         []string
}

// WithHeader adds one request header.
func WithHeader(name, value string) RequestOption {
	return func(cfg *requestConfig) error {
		if name == "" {
			return errors.New("header name must not be empty")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string)
		}
		cfg.headers[name] = value
		return nil
	}
}

// WithHeaders adds request headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(cfg *requestConfig) error {
		if cfg.headers == nil {
			cfg.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.headers[k] = v
		}
		return nil
	}
}

// WithQuery appends query parameters to the request URL.
func WithQuery(params map[string]string) RequestOption {
	return func(cfg *requestConfig) error {
		if cfg.query == nil {
			cfg.query = make(map[string]string, len(params))
		}
		for k, v := range params {
			cfg.query[k] = v
		}
		return nil
	}
}

// WithRequestTimeout overrides the per-attempt timeout for this
// request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.timeout = d
		return nil
	}
}

// WithRequestRetries overrides the retry count for this request.
func WithRequestRetries(n int) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.retries = n
		return nil
	}
}

// WithResponseType forces the body decoder instead of Content-Type
// inspection.
func WithResponseType(rt ResponseType) RequestOption {
	return func(cfg *requestConfig) error {
		switch rt {
		case TypeAuto, TypeJSON, TypeText, TypeBuffer, TypeBlob:
			cfg.responseType = rt
			return nil
		default:
			return validationError("unknown response type %q", rt)
		}
	}
}

// WithStreaming returns the response as a lazy [Stream] instead of a
// buffered value. The caller owns Close.
func WithStreaming() RequestOption {
	return func(cfg *requestConfig) error {
		cfg.stream = true
		return nil
	}
}

// WithDownload streams the response body to filename on disk and
// returns [DownloadInfo] metadata instead of a decoded value.
func WithDownload(filename string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.download = true
		cfg.filename = filename
		return nil
	}
}

// WithRate caps body transfer at bytesPerSec for this request.
func WithRate(bytesPerSec int) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.rate = bytesPerSec
		return nil
	}
}

// WithProgress reports whole-percent transfer progress after each
// chunk, when the total size is known.
func WithProgress(fn func(pct int)) RequestOption {
	return func(cfg *requestConfig) error {
		if fn == nil {
			return errors.New("progress callback must not be nil")
		}
		cfg.progress = fn
		return nil
	}
}

// WithBalancer distributes the request across multiple endpoints.
func WithBalancer(b Balancer) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.balancer = &b
		return nil
	}
}

// WithForwarders replicates the completed response to each endpoint,
// fire-and-forget.
func WithForwarders(fws ...Forwarder) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.forwarders = append(cfg.forwarders, fws...)
		return nil
	}
}

// WithForwardDone registers a completion callback receiving one
// [ForwardResult] per forwarder endpoint.
func WithForwardDone(fn func([]ForwardResult)) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.forwardDone = fn
		return nil
	}
}

// WithAuth attaches authentication headers synthesized from a.
func WithAuth(a Auth) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.auth = &a
		return nil
	}
}

// WithPins enables certificate pinning for every attempt of this
// request.
func WithPins(pins ...string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.pins = pins
		return nil
	}
}
