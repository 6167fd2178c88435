package download

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"
	"strings"
)

// ErrChecksumMismatch reports a completed transfer whose digest did not
// match the expected value. The destination file is not created.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Option is a functional option for [Save].
type Option func(*options) error

type options struct {
	skipExisting bool
	progress     func(pct int)
	checksum     *checksum
}

// WithSkipExisting makes Save a no-op when the destination file already
// exists.
func WithSkipExisting() Option {
	return func(o *options) error {
		o.skipExisting = true
		return nil
	}
}

// WithProgress reports whole-percent progress after each written chunk,
// when the total size is known.
func WithProgress(fn func(pct int)) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("progress callback must not be nil")
		}
		o.progress = fn
		return nil
	}
}

// WithChecksum verifies the transferred bytes against a hex digest
// before the file is moved into place. Supported algorithms are sha256
// and md5.
func WithChecksum(algorithm, expected string) Option {
	return func(o *options) error {
		var h hash.Hash
		switch strings.ToLower(algorithm) {
		case "sha256":
			h = sha256.New()
		case "md5":
			h = md5.New()
		default:
			return fmt.Errorf("unsupported checksum algorithm %q", algorithm)
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}
		o.checksum = &checksum{
			Hash:      h,
			algorithm: algorithm,
			expected:  expected,
		}
		return nil
	}
}

type checksum struct {
	hash.Hash
	algorithm string
	expected  string
}

// Verify is nil-safe so the happy path needs no checksum branch.
func (c *checksum) Verify() error {
	if c == nil {
		return nil
	}
	got := hex.EncodeToString(c.Sum(nil))
	if !strings.EqualFold(got, c.expected) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrChecksumMismatch, c.algorithm, c.expected, got)
	}
	return nil
}

// progressWriter reports whole-percent progress per write when the
// total size is known.
type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  func(pct int)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.written += int64(n)
		if pw.total > 0 {
			pw.report(int(math.Round(float64(pw.written) / float64(pw.total) * 100)))
		}
	}
	return n, err
}
