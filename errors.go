package fetchkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. Every error surfaced by the client is an
// *Error carrying exactly one Kind; downstream logic (the retry policy
// in particular) switches on Kind rather than probing wrapped values.
type Kind uint8

const (
	// KindTransport covers DNS, connection, and read failures. Retried.
	KindTransport Kind = iota
	// KindValidation covers bad configuration caught before any network
	// activity. Never retried.
	KindValidation
	// KindAbort covers timeout or caller cancellation. Never retried.
	KindAbort
	// KindHTTPStatus covers non-2xx responses. 5xx retried, 4xx not.
	KindHTTPStatus
	// KindPinning covers certificate pin mismatches. Never retried: a
	// mismatch signals a potential active attack, not a transient fault.
	KindPinning
	// KindStreamParse covers malformed framing mid-stream and oversized
	// buffered responses. Fatal for the operation, never retried.
	KindStreamParse
	// KindAggregate wraps per-endpoint failures when every endpoint of a
	// balancer or forwarder group failed.
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindAbort:
		return "abort"
	case KindHTTPStatus:
		return "http_status"
	case KindPinning:
		return "pinning"
	case KindStreamParse:
		return "stream_parse"
	case KindAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// Error is the single normalized error shape all failure paths converge
// to before reaching the caller.
type Error struct {
	Kind    Kind
	Message string

	// Status is the HTTP status code, 0 for non-HTTP failures.
	Status int
	// Body is a best-effort decode of the error response body: parsed
	// JSON when the Content-Type says so, a string otherwise, nil when
	// nothing could be read.
	Body any
	// URL is the request URL of the failing attempt.
	URL string
	// RetryAfter holds the raw Retry-After header value, if the server
	// sent one, for the retry policy to consult.
	RetryAfter string

	// Errs holds per-endpoint failures for KindAggregate.
	Errs []error

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " [%s]", e.URL)
	}
	if len(e.Errs) > 0 {
		b.WriteString(":")
		for _, err := range e.Errs {
			b.WriteString("\n\t")
			b.WriteString(err.Error())
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two *Error values by Kind, so callers can test
// errors.Is(err, &fetchkit.Error{Kind: fetchkit.KindAbort}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// validationError builds a KindValidation error. These are always fatal
// and thrown before any network activity.
func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// normalize is the single point where raw transport failures become
// *Error values. Context cancellation and deadline expiry become
// KindAbort retaining the original as cause; *Error values pass through
// unchanged; everything else is a transport failure for the retry
// policy to classify.
func normalize(err error, url string) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{
			Kind:    KindAbort,
			Message: "request aborted",
			URL:     url,
			Cause:   err,
		}
	}

	return &Error{
		Kind:    KindTransport,
		Message: "request failed",
		URL:     url,
		Cause:   err,
	}
}
