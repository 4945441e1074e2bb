package entity

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

// BodySource lazily opens a resource body.
type BodySource func() (io.ReadCloser, error)

// Headers is a header mapping with lowercase names. Repeated headers are
// joined with ", ". It serializes with keys in sorted order.
type Headers map[string]string

// Get returns the value for name, case-insensitively.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Set stores value under the lowercase form of name.
func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// HeadersFromHTTP flattens an http.Header.
func HeadersFromHTTP(src http.Header) Headers {
	h := make(Headers, len(src))
	for name, values := range src {
		h.Set(name, strings.Join(values, ", "))
	}
	return h
}

// HTTP converts h back to an http.Header.
func (h Headers) HTTP() http.Header {
	out := make(http.Header, len(h))
	for name, value := range h {
		out.Set(name, value)
	}
	return out
}

// ResourceEntry is one captured HTTP response ready to be stored.
type ResourceEntry struct {
	URL     string  `json:"url"`
	TS      int64   `json:"ts"` // epoch millis
	Status  int     `json:"status"`
	Mime    string  `json:"mime"`
	Headers Headers `json:"respHeaders"`
	Digest  string  `json:"digest,omitempty"`

	Payload []byte     `json:"-"`
	Stream  BodySource `json:"-"`

	ExtraOpts map[string]any `json:"extraOpts,omitempty"`
}

// Body returns the entry's bytes, draining Stream if that is the source.
func (e *ResourceEntry) Body() ([]byte, error) {
	if e.Payload != nil || e.Stream == nil {
		return e.Payload, nil
	}
	rc, err := e.Stream()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RevisitEntry points a URL+time at identical content captured earlier.
type RevisitEntry struct {
	URL     string  `json:"url"`
	TS      int64   `json:"ts"`
	OrigURL string  `json:"origURL"`
	OrigTS  int64   `json:"origTS"`
	Digest  string  `json:"digest,omitempty"`
	PageID  *string `json:"pageId"`
}
