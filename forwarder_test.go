package fetchkit_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fetchkit/fetchkit"
)

func TestForwarder_ReplicatesPrimaryBody(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event":"created"}`))
	}))
	defer primary.Close()

	forwarded := make(chan []byte, 1)
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected default POST, got %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		forwarded <- b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer mirror.Close()

	done := make(chan []fetchkit.ForwardResult, 1)

	c := newTestClient(t)

	resp, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(fetchkit.Forwarder{URL: mirror.URL}),
		fetchkit.WithForwardDone(func(results []fetchkit.ForwardResult) {
			done <- results
		}),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.Status)
	}

	select {
	case body := <-forwarded:
		if string(body) != `{"event":"created"}` {
			t.Errorf("expected primary body forwarded verbatim, got %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded request")
	}

	select {
	case results := <-done:
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if !results[0].Success || results[0].Err != nil {
			t.Errorf("expected success, got %+v", results[0])
		}
		if results[0].Endpoint != mirror.URL {
			t.Errorf("expected endpoint %q, got %q", mirror.URL, results[0].Endpoint)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}
}

func TestForwarder_FailureDoesNotAffectPrimary(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer primary.Close()

	var mirrorCalls atomic.Int32
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer mirror.Close()

	done := make(chan []fetchkit.ForwardResult, 1)

	c := newTestClient(t, fetchkit.WithBackoff(time.Millisecond, 5*time.Millisecond))

	resp, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(fetchkit.Forwarder{URL: mirror.URL}),
		fetchkit.WithForwardDone(func(results []fetchkit.ForwardResult) {
			done <- results
		}),
	)
	if err != nil {
		t.Fatalf("primary must succeed regardless of forwarding, got: %v", err)
	}
	if resp.Value != "ok" {
		t.Errorf("expected primary response intact, got %#v", resp.Value)
	}

	select {
	case results := <-done:
		if results[0].Success {
			t.Error("expected forwarding failure to be reported")
		}
		if results[0].Err == nil {
			t.Error("expected failure to carry an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}

	// Default forwarder budget: 1 initial attempt + 1 retry.
	if got := mirrorCalls.Load(); got != 2 {
		t.Errorf("expected 2 forwarding attempts, got %d", got)
	}
}

func TestForwarder_StaticAndComputedBodies(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer primary.Close()

	type received struct {
		endpoint string
		body     []byte
	}
	got := make(chan received, 2)

	newMirror := func(tag string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			got <- received{endpoint: tag, body: b}
			w.WriteHeader(http.StatusOK)
		}))
	}
	static := newMirror("static")
	defer static.Close()
	computed := newMirror("computed")
	defer computed.Close()

	done := make(chan []fetchkit.ForwardResult, 1)

	c := newTestClient(t)

	_, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(
			fetchkit.Forwarder{
				URL:  static.URL,
				Body: map[string]string{"source": "static"},
			},
			fetchkit.Forwarder{
				URL: computed.URL,
				BodyFunc: func(primary *fetchkit.Response) (fetchkit.Body, bool) {
					return fetchkit.TextBody("id seen"), true
				},
			},
		),
		fetchkit.WithForwardDone(func(results []fetchkit.ForwardResult) {
			done <- results
		}),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarding to finish")
	}

	for range 2 {
		r := <-got
		switch r.endpoint {
		case "static":
			var m map[string]string
			if err := json.Unmarshal(r.body, &m); err != nil || m["source"] != "static" {
				t.Errorf("unexpected static body %q (err %v)", r.body, err)
			}
		case "computed":
			if string(r.body) != "id seen" {
				t.Errorf("unexpected computed body %q", r.body)
			}
		}
	}
}

func TestForwarder_BodyFuncSuppression(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer primary.Close()

	var mirrorCalls atomic.Int32
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer mirror.Close()

	done := make(chan []fetchkit.ForwardResult, 1)

	c := newTestClient(t)

	_, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(fetchkit.Forwarder{
			URL: mirror.URL,
			BodyFunc: func(primary *fetchkit.Response) (fetchkit.Body, bool) {
				return fetchkit.Body{}, false
			},
		}),
		fetchkit.WithForwardDone(func(results []fetchkit.ForwardResult) {
			done <- results
		}),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	select {
	case results := <-done:
		// Suppression is a successful no-op, not a failure.
		if !results[0].Success {
			t.Errorf("expected suppressed forward to report success, got %+v", results[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}

	if got := mirrorCalls.Load(); got != 0 {
		t.Errorf("expected no request to reach the endpoint, got %d", got)
	}
}

func TestForwarder_ParallelPrimaryForwardsCollectedValues(t *testing.T) {
	a := okServer(t, "alpha")
	defer a.Close()

	forwarded := make(chan []byte, 1)
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		forwarded <- b
		w.WriteHeader(http.StatusOK)
	}))
	defer mirror.Close()

	done := make(chan []fetchkit.ForwardResult, 1)

	c := newTestClient(t)

	resp, err := c.Get(t.Context(), "/ping",
		fetchkit.WithRequestRetries(0),
		fetchkit.WithBalancer(fetchkit.Balancer{
			Endpoints: []string{a.URL},
			Strategy:  fetchkit.StrategyParallel,
		}),
		fetchkit.WithForwarders(fetchkit.Forwarder{URL: mirror.URL}),
		fetchkit.WithForwardDone(func(results []fetchkit.ForwardResult) {
			done <- results
		}),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(resp.Parallel) != 1 {
		t.Fatalf("expected 1 parallel success, got %d", len(resp.Parallel))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarding to finish")
	}

	select {
	case body := <-forwarded:
		// A parallel primary has no single buffered body; the collected
		// values go out as a JSON array.
		if string(body) != `["alpha"]` {
			t.Errorf("expected collected values as JSON array, got %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded request")
	}
}

func TestForwarder_NegativeRetriesRejectedSynchronously(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	c := newTestClient(t)

	neg := -1
	_, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(fetchkit.Forwarder{URL: "http://localhost:9", Retries: &neg}),
	)
	if err == nil {
		t.Fatal("expected validation error for negative retries")
	}
	if !errors.Is(err, &fetchkit.Error{Kind: fetchkit.KindValidation}) {
		t.Errorf("expected validation error, got: %v", err)
	}
	// The violation must surface before the primary request executes,
	// not as a logged background failure.
	if got := primaryCalls.Load(); got != 0 {
		t.Errorf("expected primary request to be skipped, got %d calls", got)
	}
}

func TestForwarder_ValidationIsSynchronous(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	c := newTestClient(t)

	_, err := c.Get(t.Context(), primary.URL,
		fetchkit.WithForwarders(fetchkit.Forwarder{Method: "CONNECT", URL: "http://localhost"}),
	)
	if err == nil {
		t.Fatal("expected validation error for bad forwarder method")
	}
	if !errors.Is(err, &fetchkit.Error{Kind: fetchkit.KindValidation}) {
		t.Errorf("expected validation error, got: %v", err)
	}
	// Config errors must fail before the primary request executes.
	if got := primaryCalls.Load(); got != 0 {
		t.Errorf("expected primary request to be skipped, got %d calls", got)
	}
}
