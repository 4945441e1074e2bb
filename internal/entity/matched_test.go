package entity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatch(body string) *MatchedResource {
	return NewMatchedResource("http://example.com/a", 1600000000000, 200,
		Headers{"content-type": "text/plain", PresetCookieHeader: "sid=1"}, []byte(body))
}

func TestNewMatchedResourceMovesPresetCookie(t *testing.T) {
	m := newMatch("hello")

	assert.Equal(t, "sid=1", m.PresetCookie())
	assert.Empty(t, m.Headers.Get(PresetCookieHeader))
	assert.Equal(t, "text/plain", m.Headers.Get("Content-Type"))
	assert.Equal(t, "OK", m.StatusText)
	assert.Equal(t, int64(1600000000000), m.Date.UnixMilli())
}

func TestSetRange(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantOK     bool
		wantStatus int
		wantBody   string
		wantRange  string
	}{
		{"open ended", "bytes=2-", true, 206, "23456789", "bytes 2-9/10"},
		{"closed", "bytes=0-3", true, 206, "0123", "bytes 0-3/10"},
		{"end clamped", "bytes=8-100", true, 206, "89", "bytes 8-9/10"},
		{"start past end", "bytes=10-", false, 416, "", "bytes */10"},
		{"inverted", "bytes=5-2", false, 416, "", "bytes */10"},
		{"malformed", "items=0-1", false, 416, "", "bytes */10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMatch("0123456789")
			ok := m.SetRange(tt.header)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStatus, m.Status)
			assert.Equal(t, tt.wantBody, string(m.Body))
			assert.Equal(t, tt.wantRange, m.Headers.Get("Content-Range"))
		})
	}
}

func TestMakeResponseWrite(t *testing.T) {
	m := newMatch("payload")
	m.Headers.Set("X-Test", "1")

	rec := httptest.NewRecorder()
	require.NoError(t, m.MakeResponse().Write(rec))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
}

func TestHeadersRoundTrip(t *testing.T) {
	src := http.Header{"Content-Type": {"text/html"}, "Vary": {"a", "b"}}
	h := HeadersFromHTTP(src)

	assert.Equal(t, "a, b", h.Get("VARY"))
	assert.Equal(t, "text/html", h.HTTP().Get("content-type"))
}
