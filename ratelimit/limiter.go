package ratelimit

import (
	"context"
	"errors"
	"io"
	"time"
)

const (
	// maxBucket caps burst capacity so a long idle period cannot bank an
	// arbitrarily large burst.
	maxBucket = 256

	// maxDelay bounds a single wait so one oversized chunk cannot stall
	// a transfer indefinitely.
	maxDelay = 2 * time.Second

	// ChunkSize is the transfer granularity for throttled readers. Small
	// enough that throttling stays accurate at low rates, large enough
	// to avoid excessive scheduling overhead.
	ChunkSize = 512
)

var ErrInvalidRate = errors.New("ratelimit: rate must be greater than zero")

// Limiter is a token bucket denominated in bytes. Tokens refill
// continuously at the configured rate; transfers spend tokens and wait
// out the computed deficit when the bucket runs dry. Bursts up to the
// bucket capacity pass without delay so small chunks don't each pay a
// fixed penalty.
//
// A Limiter is not safe for concurrent use: it is owned by a single
// transfer operation.
type Limiter struct {
	tokens      float64
	maxTokens   float64
	refillPerMS float64 // tokens per millisecond
	last        time.Time
	now         func() time.Time
}

// New creates a Limiter targeting bytesPerSec average throughput.
func New(bytesPerSec int) (*Limiter, error) {
	if bytesPerSec <= 0 {
		return nil, ErrInvalidRate
	}

	max := float64(bytesPerSec) / 4
	if max > maxBucket {
		max = maxBucket
	}
	if max < 1 {
		max = 1
	}

	l := &Limiter{
		tokens:      max,
		maxTokens:   max,
		refillPerMS: float64(bytesPerSec) / 1000,
		now:         time.Now,
	}
	l.last = l.now()

	return l, nil
}

// Delay returns how long the caller must wait before transferring n
// bytes. A zero return means the tokens were consumed and the transfer
// may proceed immediately. A non-zero return empties the bucket; the
// caller is expected to wait and then transfer.
func (l *Limiter) Delay(n int) time.Duration {
	now := l.now()
	elapsedMS := float64(now.Sub(l.last)) / float64(time.Millisecond)
	l.last = now

	l.tokens += elapsedMS * l.refillPerMS
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}

	need := float64(n)
	if l.tokens >= need {
		l.tokens -= need
		return 0
	}

	deficit := need - l.tokens
	l.tokens = 0

	delay := time.Duration(deficit / l.refillPerMS * float64(time.Millisecond))
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// Throttle waits out the delay for transferring n bytes, honoring
// context cancellation.
func (l *Limiter) Throttle(ctx context.Context, n int) error {
	delay := l.Delay(n)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reader wraps r, capping reads at ChunkSize and paying for each chunk
// through the limiter. It converts an unbounded byte stream into a
// rate-limited one.
type Reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// NewReader returns a rate-limited reader over r. The context bounds
// waiting: when it ends, Read returns the context's error.
func NewReader(ctx context.Context, r io.Reader, l *Limiter) *Reader {
	return &Reader{ctx: ctx, r: r, l: l}
}

func (tr *Reader) Read(p []byte) (int, error) {
	if len(p) > ChunkSize {
		p = p[:ChunkSize]
	}

	n, err := tr.r.Read(p)
	if n > 0 {
		if terr := tr.l.Throttle(tr.ctx, n); terr != nil {
			return n, terr
		}
	}

	return n, err
}
