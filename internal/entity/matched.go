package entity

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// PresetCookieHeader carries the cookie of the request that produced a
// capture, so replay can restore session state on the client.
const PresetCookieHeader = "x-wabac-preset-cookie"

var byteRangeRx = regexp.MustCompile(`^bytes=(\d+)-(\d+)?$`)

// MatchedResource is an archive store's answer to a ReplayQuery.
type MatchedResource struct {
	URL        string
	Date       time.Time
	Status     int
	StatusText string
	Headers    http.Header
	Body       []byte

	IsLive bool
	NoRW   bool

	presetCookie string
}

// NewMatchedResource builds a match from stored fields. The preset cookie
// side-channel header is moved off the outgoing headers.
func NewMatchedResource(url string, ts int64, status int, headers Headers, body []byte) *MatchedResource {
	h := headers.HTTP()
	cookie := h.Get(PresetCookieHeader)
	h.Del(PresetCookieHeader)

	return &MatchedResource{
		URL:          url,
		Date:         time.UnixMilli(ts).UTC(),
		Status:       status,
		StatusText:   http.StatusText(status),
		Headers:      h,
		Body:         body,
		presetCookie: cookie,
	}
}

// PresetCookie is the cookie the capturing client sent, if any.
func (m *MatchedResource) PresetCookie() string {
	return m.presetCookie
}

// SetPresetCookie overrides the preset cookie.
func (m *MatchedResource) SetPresetCookie(cookie string) {
	m.presetCookie = cookie
}

// SetRange narrows the body to a single "bytes=start-[end]" range and turns
// the response into a 206. An unsatisfiable or malformed range yields a 416.
func (m *MatchedResource) SetRange(rangeHeader string) bool {
	length := len(m.Body)

	match := byteRangeRx.FindStringSubmatch(rangeHeader)
	if match == nil {
		m.rangeNotSatisfiable(length)
		return false
	}

	start, err := strconv.Atoi(match[1])
	if err != nil {
		m.rangeNotSatisfiable(length)
		return false
	}
	end := length - 1
	if match[2] != "" {
		if end, err = strconv.Atoi(match[2]); err != nil {
			m.rangeNotSatisfiable(length)
			return false
		}
	}
	if start >= length || start > end {
		m.rangeNotSatisfiable(length)
		return false
	}
	end = min(end, length-1)

	m.Body = m.Body[start : end+1]
	m.Status = http.StatusPartialContent
	m.StatusText = "Partial Content"
	m.Headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, length))
	m.Headers.Set("Content-Length", strconv.Itoa(end-start+1))
	return true
}

func (m *MatchedResource) rangeNotSatisfiable(length int) {
	m.Status = http.StatusRequestedRangeNotSatisfiable
	m.StatusText = "Range Not Satisfiable"
	m.Body = nil
	m.Headers.Set("Content-Range", fmt.Sprintf("bytes */%d", length))
	m.Headers.Set("Content-Length", "0")
}

// MakeResponse produces the final response.
func (m *MatchedResource) MakeResponse() *Response {
	h := m.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &Response{Status: m.Status, Headers: h, Body: m.Body}
}
