package fetchkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Strategy selects how a balancer distributes one logical request
// across its endpoints.
type Strategy string

const (
	// StrategyFastest tries endpoints strictly in order and returns the
	// first success.
	StrategyFastest Strategy = "fastest"
	// StrategyParallel launches every endpoint concurrently and
	// collects all successes.
	StrategyParallel Strategy = "parallel"
)

// Balancer fans a single logical request out across multiple endpoint
// candidates. It is validated once per call and never mutated.
type Balancer struct {
	Endpoints []string `validate:"required,min=1,dive,required"`
	Strategy  Strategy `validate:"required,oneof=fastest parallel"`
}

// validate runs struct-level checks plus per-endpoint URL syntax
// checks. Violations are fatal and never retried.
func (b *Balancer) validate(v validatorFunc) error {
	if err := v(b); err != nil {
		return validationError("invalid balancer config: %v", err)
	}
	for _, ep := range b.Endpoints {
		if err := validateEndpointURL(ep); err != nil {
			return err
		}
	}
	return nil
}

type balancerResult struct {
	endpoint string
	resp     *Response
	err      error
}

// runBalancer distributes the request per the configured strategy. Each
// endpoint gets a full retried execution.
func (c *Client) runBalancer(ctx context.Context, cfg *requestConfig) (*Response, error) {
	b := cfg.balancer
	if b.Strategy == StrategyParallel {
		return c.balanceParallel(ctx, cfg)
	}
	return c.balanceFastest(ctx, cfg)
}

// balanceFastest walks the endpoints in order, returning on the first
// success. When every endpoint fails, the last failure is surfaced
// directly if it carried an HTTP status (preserving status fidelity for
// the caller); otherwise an aggregate error lists them all.
func (c *Client) balanceFastest(ctx context.Context, cfg *requestConfig) (*Response, error) {
	var failures []error
	var lastErr error

	for _, ep := range cfg.balancer.Endpoints {
		target := ResolveURL(cfg.url, ep)

		resp, err := c.executeWithRetry(ctx, cfg, target)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		failures = append(failures, fmt.Errorf("endpoint %s: %w", ep, err))
		c.logger.Warn("balancer endpoint failed", "endpoint", ep, "error", err)
	}

	var fe *Error
	if errors.As(lastErr, &fe) && fe.Kind == KindHTTPStatus {
		return nil, fe
	}

	return nil, &Error{
		Kind:    KindAggregate,
		Message: fmt.Sprintf("all %d endpoints failed", len(failures)),
		Errs:    failures,
	}
}

// balanceParallel launches every endpoint concurrently, each with its
// own retry loop, and waits for all to settle. Successes are collected
// in settlement order; result order is not endpoint order.
func (c *Client) balanceParallel(ctx context.Context, cfg *requestConfig) (*Response, error) {
	endpoints := cfg.balancer.Endpoints
	results := make(chan balancerResult, len(endpoints))

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep string) {
			defer wg.Done()
			target := ResolveURL(cfg.url, ep)
			resp, err := c.executeWithRetry(ctx, cfg, target)
			results <- balancerResult{endpoint: ep, resp: resp, err: err}
		}(ep)
	}

	wg.Wait()
	close(results)

	var (
		successes []*Response
		failures  []error
	)
	for r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Errorf("endpoint %s: %w", r.endpoint, r.err))
			c.logger.Warn("balancer endpoint failed", "endpoint", r.endpoint, "error", r.err)
			continue
		}
		successes = append(successes, r.resp)
	}

	if len(successes) == 0 {
		return nil, &Error{
			Kind:    KindAggregate,
			Message: fmt.Sprintf("all %d endpoints failed", len(failures)),
			Errs:    failures,
		}
	}

	return &Response{Parallel: successes}, nil
}
