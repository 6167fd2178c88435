package fetchkit

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type streamMode uint8

const (
	streamRaw streamMode = iota
	streamText
	streamNDJSON
)

// Stream is a lazy, single-pass, forward-only view of a response body.
// The Content-Type drives framing: application/json* bodies are read as
// newline-delimited JSON with one decoded value per line, text/* bodies
// yield string chunks, and anything else yields raw []byte chunks.
//
// Next returns io.EOF when the stream is exhausted. A malformed NDJSON
// line is fatal for the whole iteration: it signals stream corruption,
// not a skippable record. Close releases the underlying body and must
// be called regardless of how iteration ends; every error path closes
// the body as well.
type Stream struct {
	body   io.ReadCloser
	br     *bufio.Reader
	mode   streamMode
	url    string
	cancel context.CancelFunc

	chunk  []byte
	err    error
	closed bool
}

func newStream(resp *http.Response, url string, cancel context.CancelFunc) *Stream {
	mode := streamRaw
	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		mode = streamNDJSON
	case strings.HasPrefix(ct, "text/"):
		mode = streamText
	}

	return &Stream{
		body:   resp.Body,
		br:     bufio.NewReader(resp.Body),
		mode:   mode,
		url:    url,
		cancel: cancel,
		chunk:  make([]byte, 4<<10),
	}
}

// Next produces the next element: a decoded JSON value, a text chunk,
// or a raw byte chunk depending on the framing mode. It returns io.EOF
// at the natural end of the stream.
func (s *Stream) Next() (any, error) {
	if s.err != nil {
		return nil, s.err
	}

	var (
		v   any
		err error
	)
	switch s.mode {
	case streamNDJSON:
		v, err = s.nextLine()
	case streamText:
		v, err = s.nextText()
	default:
		v, err = s.nextRaw()
	}

	if err != nil {
		s.err = err
		s.Close()
	}

	return v, err
}

// nextLine reads NDJSON: blank lines are skipped, each complete line
// decodes to one value, and a trailing unterminated line still yields a
// final element at stream end.
func (s *Stream) nextLine() (any, error) {
	for {
		line, err := s.br.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		if err != nil && err != io.EOF {
			return nil, normalize(err, s.url)
		}

		if trimmed == "" {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}

		var v any
		if jsonErr := json.Unmarshal([]byte(trimmed), &v); jsonErr != nil {
			return nil, &Error{
				Kind:    KindStreamParse,
				Message: "malformed NDJSON line",
				URL:     s.url,
				Cause:   jsonErr,
			}
		}

		return v, nil
	}
}

func (s *Stream) nextText() (any, error) {
	n, err := s.br.Read(s.chunk)
	if n > 0 {
		return string(s.chunk[:n]), nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}
	return nil, normalize(err, s.url)
}

func (s *Stream) nextRaw() (any, error) {
	n, err := s.br.Read(s.chunk)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.chunk[:n])
		return out, nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}
	return nil, normalize(err, s.url)
}

// Close releases the underlying body. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}

	return err
}
