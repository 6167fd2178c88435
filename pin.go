package fetchkit

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// maxPins bounds the pin list a single request may carry.
const maxPins = 20

// PinValidator checks a server's certificate chain against a pin set
// before any request body is sent. A mismatch is fatal and never
// retried.
type PinValidator interface {
	Validate(ctx context.Context, rawURL string, pins []string) error
}

// spkiValidator is the default PinValidator. It dials the endpoint,
// hashes each presented certificate's SubjectPublicKeyInfo with
// SHA-256, and requires at least one base64 digest to match a pin.
type spkiValidator struct {
	dialer *tls.Dialer
}

func newSPKIValidator() *spkiValidator {
	return &spkiValidator{
		dialer: &tls.Dialer{NetDialer: &net.Dialer{}},
	}
}

func (v *spkiValidator) Validate(ctx context.Context, rawURL string, pins []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &Error{Kind: KindPinning, Message: "unparseable URL for pin validation", URL: rawURL, Cause: err}
	}
	if u.Scheme != "https" {
		return &Error{Kind: KindPinning, Message: "certificate pinning requires https", URL: rawURL}
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}

	conn, err := v.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return &Error{Kind: KindPinning, Message: "pin validation handshake failed", URL: rawURL, Cause: err}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	for _, cert := range state.PeerCertificates {
		sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
		digest := base64.StdEncoding.EncodeToString(sum[:])
		for _, pin := range pins {
			if digest == normalizePin(pin) {
				return nil
			}
		}
	}

	return &Error{
		Kind:    KindPinning,
		Message: fmt.Sprintf("no certificate matched any of %d pins", len(pins)),
		URL:     rawURL,
	}
}

// normalizePin accepts both bare base64 digests and the HPKP-style
// "sha256/<digest>" form.
func normalizePin(pin string) string {
	return strings.TrimPrefix(strings.TrimSpace(pin), "sha256/")
}
