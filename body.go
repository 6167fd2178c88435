package fetchkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"
)

type bodyKind uint8

const (
	bodyNone bodyKind = iota
	bodyRaw
	bodyText
	bodyForm
	bodyURLEncoded
	bodyJSON
)

// Body is a closed variant over the request payload shapes the client
// accepts. The zero value means no body. Construct values with RawBody,
// TextBody, FormBody, URLEncodedBody, or JSONBody; a single resolver
// maps each variant to a reader and default Content-Type.
type Body struct {
	kind   bodyKind
	raw    []byte
	text   string
	fields url.Values
	value  any
}

// RawBody sends b unmodified with Content-Type
// application/octet-stream unless overridden.
func RawBody(b []byte) Body {
	return Body{kind: bodyRaw, raw: b}
}

// TextBody sends s with Content-Type text/plain unless overridden.
func TextBody(s string) Body {
	return Body{kind: bodyText, text: s}
}

// FormBody sends fields as multipart/form-data. The multipart writer
// owns the Content-Type so it can set the boundary; an explicit
// Content-Type header is dropped for this variant.
func FormBody(fields url.Values) Body {
	return Body{kind: bodyForm, fields: fields}
}

// URLEncodedBody sends fields as application/x-www-form-urlencoded.
func URLEncodedBody(fields url.Values) Body {
	return Body{kind: bodyURLEncoded, fields: fields}
}

// JSONBody serializes v as JSON with Content-Type application/json.
// When the request's explicit Content-Type asks for url-encoding
// instead, v must be a map and its values are stringified: structured
// values as JSON, everything else via plain string conversion.
func JSONBody(v any) Body {
	return Body{kind: bodyJSON, value: v}
}

func (b Body) isZero() bool {
	return b.kind == bodyNone
}

const urlEncodedType = "application/x-www-form-urlencoded"

// resolve maps the variant to a reader, the Content-Type to use, and
// the body length. requestedType is the caller's explicit Content-Type
// header, empty when absent. A returned Content-Type of "" means the
// caller's explicit header (or none) stands.
func (b Body) resolve(requestedType string) (io.Reader, string, int64, error) {
	switch b.kind {
	case bodyNone:
		return nil, "", 0, nil

	case bodyRaw:
		ct := "application/octet-stream"
		if requestedType != "" {
			ct = ""
		}
		return bytes.NewReader(b.raw), ct, int64(len(b.raw)), nil

	case bodyText:
		ct := "text/plain; charset=utf-8"
		if requestedType != "" {
			ct = ""
		}
		return strings.NewReader(b.text), ct, int64(len(b.text)), nil

	case bodyForm:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, name := range sortedKeys(b.fields) {
			for _, v := range b.fields[name] {
				if err := w.WriteField(name, v); err != nil {
					return nil, "", 0, fmt.Errorf("writing form field %q: %w", name, err)
				}
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", 0, fmt.Errorf("closing multipart writer: %w", err)
		}
		return &buf, w.FormDataContentType(), int64(buf.Len()), nil

	case bodyURLEncoded:
		enc := b.fields.Encode()
		return strings.NewReader(enc), urlEncodedType, int64(len(enc)), nil

	case bodyJSON:
		if strings.HasPrefix(requestedType, urlEncodedType) {
			enc, err := b.encodePairs()
			if err != nil {
				return nil, "", 0, err
			}
			return strings.NewReader(enc), urlEncodedType, int64(len(enc)), nil
		}
		data, err := json.Marshal(b.value)
		if err != nil {
			return nil, "", 0, fmt.Errorf("encoding request payload: %w", err)
		}
		ct := "application/json"
		if requestedType != "" {
			ct = ""
		}
		return bytes.NewReader(data), ct, int64(len(data)), nil

	default:
		return nil, "", 0, fmt.Errorf("unknown body kind %d", b.kind)
	}
}

// encodePairs stringifies a keyed-value payload into url-encoded pairs.
func (b Body) encodePairs() (string, error) {
	pairs := url.Values{}

	switch v := b.value.(type) {
	case url.Values:
		pairs = v
	case map[string]any:
		for key, val := range v {
			s, err := stringifyValue(val)
			if err != nil {
				return "", err
			}
			pairs.Set(key, s)
		}
	case map[string]string:
		for key, val := range v {
			pairs.Set(key, val)
		}
	default:
		return "", validationError("url-encoded body requires a keyed-value payload, got %T", b.value)
	}

	return pairs.Encode(), nil
}

// stringifyValue renders a pair value: structured values become JSON,
// scalars their plain string form.
func stringifyValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprint(t), nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("stringifying form value: %w", err)
		}
		return string(data), nil
	}
}

func sortedKeys(v url.Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
