package fetchkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fetchkit/fetchkit/ratelimit"
)

// ResolveURL builds the absolute request URL. A path that already
// carries a scheme passes through unchanged; otherwise it is appended
// to base with exactly one slash between them. An empty base returns
// the path as-is.
func ResolveURL(path, base string) string {
	p := strings.TrimSpace(path)
	if hasScheme(p) || base == "" {
		return p
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	return i > 0
}

// bodyMethods are the methods that carry a request payload.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// buildRequest assembles the transport request for one attempt: merged
// headers, auth, cookies, encoded body, and — when an upload is
// progress-tracked or rate-limited — a chunked streaming body so the
// transport doesn't buffer the whole payload.
func (c *Client) buildRequest(ctx context.Context, cfg *requestConfig, target string) (*http.Request, error) {
	var (
		reader io.Reader
		ctype  string
		length int64
	)

	if bodyMethods[cfg.method] && !cfg.body.isZero() {
		requested := headerValue(cfg.headers, "Content-Type")

		var err error
		reader, ctype, length, err = cfg.body.resolve(requested)
		if err != nil {
			return nil, err
		}

		if cfg.rate > 0 || cfg.progress != nil {
			limiter, err := c.transferLimiter(cfg)
			if err != nil {
				return nil, err
			}
			if limiter != nil {
				reader = ratelimit.NewReader(ctx, reader, limiter)
			}
			if cfg.progress != nil {
				reader = &progressReader{r: reader, total: length, report: cfg.progress}
			}
			// Unknown length forces a streaming (chunked) upload.
			length = -1
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	if reader != nil {
		req.ContentLength = length
	}

	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}

	switch {
	case cfg.body.kind == bodyForm:
		// The multipart writer owns the boundary; an explicit
		// Content-Type would break it.
		req.Header.Del("Content-Type")
		req.Header.Set("Content-Type", ctype)
	case ctype != "":
		req.Header.Set("Content-Type", ctype)
	}

	if len(cfg.query) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	if cfg.auth != nil {
		hdrs, err := cfg.auth.headers()
		if err != nil {
			return nil, err
		}
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
	}

	if c.jar != nil {
		if h := c.jar.Header(); h != "" {
			req.Header.Set("Cookie", h)
		}
	}

	return req, nil
}

// transferLimiter builds a fresh per-transfer limiter, never shared
// across concurrent transfers.
func (c *Client) transferLimiter(cfg *requestConfig) (*ratelimit.Limiter, error) {
	if cfg.rate <= 0 {
		return nil, nil
	}

	l, err := ratelimit.New(cfg.rate)
	if err != nil {
		return nil, validationError("invalid transfer rate %d: %v", cfg.rate, err)
	}

	return l, nil
}

// headerValue does a case-insensitive lookup in a plain header map.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// validateEndpointURL checks that raw is an absolute http(s) URL with a
// hostname and an in-range port.
func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return validationError("invalid endpoint URL %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationError("endpoint %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return validationError("endpoint %q: missing hostname", raw)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return validationError("endpoint %q: port out of range", raw)
		}
	}
	return nil
}
