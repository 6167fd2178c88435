package fetchkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/fetchkit/fetchkit/ratelimit"
)

// ResponseType selects how a response body is decoded.
type ResponseType string

const (
	// TypeAuto inspects the Content-Type header: application/json* is
	// decoded as JSON with a text fallback, text/* as text, anything
	// else as a raw byte buffer.
	TypeAuto   ResponseType = "auto"
	TypeJSON   ResponseType = "json"
	TypeText   ResponseType = "text"
	TypeBuffer ResponseType = "buffer"
	TypeBlob   ResponseType = "blob"
)

// maxBufferedBody caps how much of a response the client will hold in
// memory during buffered decoding, protecting against malicious or
// misconfigured endpoints.
const maxBufferedBody = 10 << 20 // 10 MiB

// Blob pairs raw bytes with the Content-Type they arrived under.
type Blob struct {
	Data        []byte
	ContentType string
}

// Response is the resolved value of one logical request.
type Response struct {
	Status int
	Header http.Header
	URL    string

	// Value is the decoded body: parsed JSON (any), a string, []byte,
	// or Blob depending on the response type. Nil for HEAD, OPTIONS,
	// and TRACE, and when decoding degraded.
	Value any
	// Raw holds the buffered body bytes for non-streaming reads.
	Raw []byte

	// Stream is set instead of Value when the request asked for a lazy
	// body; the caller owns iteration and Close.
	Stream *Stream

	// Download is set when the request streamed its body to disk.
	Download *DownloadInfo

	// Parallel holds the per-endpoint successes of a parallel balancer
	// call, in settlement order. Callers needing a deterministic order
	// must sort by URL.
	Parallel []*Response
}

// JSON re-decodes the buffered body into v for typed access.
func (r *Response) JSON(v any) error {
	if r.Raw == nil {
		return fmt.Errorf("no buffered body to decode")
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// DownloadInfo is the metadata returned for a download request.
type DownloadInfo struct {
	Filename    string
	Size        int64
	ContentType string
	Status      int
}

// noBodyMethods get status and header metadata only; their body
// semantics are server-dependent, so the baseline contract is no body.
var noBodyMethods = map[string]bool{
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// parseResponse buffers and decodes the body per the configured
// response type, optionally reporting progress per chunk. The body is
// closed before returning.
func (c *Client) parseResponse(ctx context.Context, resp *http.Response, cfg *requestConfig, target string) (*Response, error) {
	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		URL:    target,
	}

	if noBodyMethods[cfg.method] {
		drainBody(resp.Body, c.logger)
		return out, nil
	}

	raw, err := c.readBody(ctx, resp, cfg, target)
	if err != nil {
		return nil, err
	}
	out.Raw = raw

	out.Value = c.decodeBody(raw, resp.Header.Get("Content-Type"), cfg.responseType)

	return out, nil
}

// readBody accumulates the body, enforcing the buffered-size ceiling
// and reporting whole-percent progress after each chunk when the total
// size is known.
func (c *Client) readBody(ctx context.Context, resp *http.Response, cfg *requestConfig, target string) ([]byte, error) {
	defer func() {
		drainBody(resp.Body, c.logger)
	}()

	var src io.Reader = resp.Body
	if cfg.rate > 0 {
		limiter, err := c.transferLimiter(cfg)
		if err != nil {
			return nil, err
		}
		src = ratelimit.NewReader(ctx, src, limiter)
	}

	var (
		buf      bytes.Buffer
		chunk    = make([]byte, 32<<10)
		received int64
		total    = resp.ContentLength
	)

	for {
		n, err := src.Read(chunk)
		if n > 0 {
			received += int64(n)
			if received > maxBufferedBody {
				return nil, &Error{
					Kind:    KindStreamParse,
					Message: fmt.Sprintf("response too large: exceeded %d byte buffer limit", maxBufferedBody),
					URL:     target,
				}
			}
			buf.Write(chunk[:n])

			if cfg.progress != nil && total > 0 {
				cfg.progress(int(math.Round(float64(received) / float64(total) * 100)))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, normalize(err, target)
		}
	}

	return buf.Bytes(), nil
}

// decodeBody is the type-directed decoder. A JSON parse failure falls
// back to text; if that is also unusable the value degrades to nil
// rather than failing the request.
func (c *Client) decodeBody(raw []byte, contentType string, rt ResponseType) any {
	switch rt {
	case TypeJSON:
		return c.decodeJSON(raw)
	case TypeText:
		return string(raw)
	case TypeBuffer:
		return raw
	case TypeBlob:
		return Blob{Data: raw, ContentType: contentType}
	}

	// Auto mode inspects the Content-Type.
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return c.decodeJSON(raw)
	case strings.HasPrefix(contentType, "text/"):
		return string(raw)
	default:
		return raw
	}
}

func (c *Client) decodeJSON(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Debug("json decode failed, degrading to text", "error", err)
		if len(raw) == 0 {
			return nil
		}
		return string(raw)
	}
	return v
}

// progressReader reports whole-percent upload progress per chunk when
// the total size is known.
type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(pct int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.sent += int64(n)
		if pr.total > 0 {
			pr.report(int(math.Round(float64(pr.sent) / float64(pr.total) * 100)))
		}
	}
	return n, err
}

// drainBody exhausts and closes a response body so the connection can
// be reused.
func drainBody(body io.ReadCloser, logger *slog.Logger) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		logger.Error("failed to discard unused body", "error", err)
	}
	if err := body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}
