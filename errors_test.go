package fetchkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantKind Kind
	}{
		"deadline becomes abort": {
			err:      context.DeadlineExceeded,
			wantKind: KindAbort,
		},
		"cancellation becomes abort": {
			err:      context.Canceled,
			wantKind: KindAbort,
		},
		"wrapped cancellation becomes abort": {
			err:      fmt.Errorf("round trip: %w", context.Canceled),
			wantKind: KindAbort,
		},
		"existing error passes through": {
			err:      &Error{Kind: KindHTTPStatus, Status: 503},
			wantKind: KindHTTPStatus,
		},
		"wrapped existing error passes through": {
			err:      fmt.Errorf("endpoint: %w", &Error{Kind: KindPinning}),
			wantKind: KindPinning,
		},
		"anything else is transport": {
			err:      errors.New("connection refused"),
			wantKind: KindTransport,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := normalize(tc.err, "http://api.example.com")
			if got.Kind != tc.wantKind {
				t.Errorf("normalize(%v) kind = %v, want %v", tc.err, got.Kind, tc.wantKind)
			}
		})
	}

	if normalize(nil, "x") != nil {
		t.Error("normalize(nil) must return nil")
	}
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindAbort, Message: "request aborted"})

	if !errors.Is(err, &Error{Kind: KindAbort}) {
		t.Error("expected kind match through wrapping")
	}
	if errors.Is(err, &Error{Kind: KindTransport}) {
		t.Error("expected no match for a different kind")
	}
	if errors.Is(err, errors.New("other")) {
		t.Error("expected no match for a foreign error type")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{Kind: KindTransport, Message: "request failed", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable through Unwrap")
	}
}

func TestError_String(t *testing.T) {
	err := &Error{
		Kind:    KindHTTPStatus,
		Message: "unexpected status: 503 Service Unavailable",
		Status:  503,
		URL:     "http://api.example.com/v1",
	}

	s := err.Error()
	for _, want := range []string{"http_status", "503", "http://api.example.com/v1"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
}

func TestError_AggregateListsCauses(t *testing.T) {
	err := &Error{
		Kind:    KindAggregate,
		Message: "all 2 endpoints failed",
		Errs: []error{
			errors.New("endpoint a: refused"),
			errors.New("endpoint b: timeout"),
		},
	}

	s := err.Error()
	if !strings.Contains(s, "endpoint a: refused") || !strings.Contains(s, "endpoint b: timeout") {
		t.Errorf("expected per-endpoint failures in %q", s)
	}
}

func TestKind_String(t *testing.T) {
	kinds := map[Kind]string{
		KindTransport:   "transport",
		KindValidation:  "validation",
		KindAbort:       "abort",
		KindHTTPStatus:  "http_status",
		KindPinning:     "pinning",
		KindStreamParse: "stream_parse",
		KindAggregate:   "aggregate",
		Kind(99):        "unknown",
	}

	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
