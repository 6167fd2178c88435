package fetchkit

import (
	"net/http"
	"strings"
	"sync"
)

// CookieJar is a minimal, client-owned cookie store. Each Client
// composes its own jar rather than sharing process-wide state, so
// independently configured clients stay isolated. The jar only
// accumulates: cookies are overwritten by name, never expired.
//
// Unlike a cooperative single-threaded runtime, Go clients mutate the
// jar from concurrent requests, so access is mutex-guarded.
type CookieJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
	order   []string
}

// NewCookieJar creates an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{cookies: make(map[string]*http.Cookie)}
}

// SetCookie stores c, replacing any cookie with the same name.
func (j *CookieJar) SetCookie(c *http.Cookie) {
	if c == nil || c.Name == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.cookies[c.Name]; !ok {
		j.order = append(j.order, c.Name)
	}
	j.cookies[c.Name] = c
}

// ParseSetCookie parses a Set-Cookie header value and stores the
// result. Malformed values are ignored.
func (j *CookieJar) ParseSetCookie(value string) {
	c, err := http.ParseSetCookie(value)
	if err != nil {
		return
	}
	j.SetCookie(c)
}

// Header renders the stored cookies as a Cookie request header value,
// in insertion order. Empty when the jar holds nothing.
func (j *CookieJar) Header() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.order) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(j.order))
	for _, name := range j.order {
		c := j.cookies[name]
		pairs = append(pairs, c.Name+"="+c.Value)
	}

	return strings.Join(pairs, "; ")
}

// absorb stores every Set-Cookie header from a response.
func (j *CookieJar) absorb(h http.Header) {
	for _, v := range h.Values("Set-Cookie") {
		j.ParseSetCookie(v)
	}
}
