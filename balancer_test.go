package fetchkit_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fetchkit/fetchkit"
)

func okServer(t *testing.T, tag string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(tag))
	}))
}

func failServer(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.WriteHeader(status)
	}))
}

func TestBalancer_FastestSkipsFailingEndpoint(t *testing.T) {
	var badCalls atomic.Int32
	bad := failServer(t, http.StatusInternalServerError, &badCalls)
	defer bad.Close()
	good := okServer(t, "good")
	defer good.Close()

	c := newTestClient(t, fetchkit.WithBackoff(time.Millisecond, 5*time.Millisecond))

	resp, err := c.Get(t.Context(), "/ping",
		fetchkit.WithRequestRetries(1),
		fetchkit.WithBalancer(fetchkit.Balancer{
			Endpoints: []string{bad.URL, good.URL},
			Strategy:  fetchkit.StrategyFastest,
		}),
	)
	if err != nil {
		t.Fatalf("expected fallback to healthy endpoint, got: %v", err)
	}
	if resp.Value != "good" {
		t.Errorf("expected response from healthy endpoint, got %#v", resp.Value)
	}
	// The failing endpoint gets its full retry budget before fallback.
	if got := badCalls.Load(); got != 2 {
		t.Errorf("expected 2 attempts on failing endpoint, got %d", got)
	}
}

func TestBalancer_FastestSurfacesLastHTTPError(t *testing.T) {
	first := failServer(t, http.StatusBadGateway, nil)
	defer first.Close()
	last := failServer(t, http.StatusNotFound, nil)
	defer last.Close()

	c := newTestClient(t, fetchkit.WithBackoff(time.Millisecond, 5*time.Millisecond))

	_, err := c.Get(t.Context(), "/ping",
		fetchkit.WithRequestRetries(0),
		fetchkit.WithBalancer(fetchkit.Balancer{
			Endpoints: []string{first.URL, last.URL},
			Strategy:  fetchkit.StrategyFastest,
		}),
	)
	if err == nil {
		t.Fatal("expected error when all endpoints fail")
	}

	var fe *fetchkit.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *fetchkit.Error, got %T", err)
	}
	if fe.Kind != fetchkit.KindHTTPStatus {
		t.Errorf("expected last HTTP error to surface, got kind %v", fe.Kind)
	}
	if fe.Status != http.StatusNotFound {
		t.Errorf("expected status 404 from last endpoint, got %d", fe.Status)
	}
}

func TestBalancer_ParallelCollectsSuccesses(t *testing.T) {
	a := okServer(t, "a")
	defer a.Close()
	b := okServer(t, "b")
	defer b.Close()
	bad := failServer(t, http.StatusInternalServerError, nil)
	defer bad.Close()

	c := newTestClient(t, fetchkit.WithBackoff(time.Millisecond, 5*time.Millisecond))

	resp, err := c.Get(t.Context(), "/ping",
		fetchkit.WithRequestRetries(0),
		fetchkit.WithBalancer(fetchkit.Balancer{
			Endpoints: []string{a.URL, bad.URL, b.URL},
			Strategy:  fetchkit.StrategyParallel,
		}),
	)
	if err != nil {
		t.Fatalf("expected partial success, got: %v", err)
	}
	if len(resp.Parallel) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(resp.Parallel))
	}

	// Settlement order is nondeterministic; compare as a set.
	var got []string
	for _, r := range resp.Parallel {
		got = append(got, r.Value.(string))
	}
	sort.Strings(got)
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("expected responses from both healthy endpoints, got %v", got)
	}
}

func TestBalancer_ParallelAllFailAggregates(t *testing.T) {
	x := failServer(t, http.StatusInternalServerError, nil)
	defer x.Close()
	y := failServer(t, http.StatusBadGateway, nil)
	defer y.Close()

	c := newTestClient(t, fetchkit.WithBackoff(time.Millisecond, 5*time.Millisecond))

	_, err := c.Get(t.Context(), "/ping",
		fetchkit.WithRequestRetries(0),
		fetchkit.WithBalancer(fetchkit.Balancer{
			Endpoints: []string{x.URL, y.URL},
			Strategy:  fetchkit.StrategyParallel,
		}),
	)
	if err == nil {
		t.Fatal("expected aggregate error")
	}

	var fe *fetchkit.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *fetchkit.Error, got %T", err)
	}
	if fe.Kind != fetchkit.KindAggregate {
		t.Errorf("expected aggregate error, got kind %v", fe.Kind)
	}
	if len(fe.Errs) != 2 {
		t.Errorf("expected 2 per-endpoint failures, got %d", len(fe.Errs))
	}
}

func TestBalancer_Validation(t *testing.T) {
	c := newTestClient(t)

	tests := map[string]fetchkit.Balancer{
		"no endpoints":     {Strategy: fetchkit.StrategyFastest},
		"unknown strategy": {Endpoints: []string{"http://localhost"}, Strategy: "round-robin"},
		"bad endpoint url": {Endpoints: []string{"ftp://localhost"}, Strategy: fetchkit.StrategyFastest},
		"missing hostname": {Endpoints: []string{"http://"}, Strategy: fetchkit.StrategyParallel},
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(t.Context(), "/ping", fetchkit.WithBalancer(b))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, &fetchkit.Error{Kind: fetchkit.KindValidation}) {
				t.Errorf("expected validation error, got: %v", err)
			}
		})
	}
}
