package entity

import "net/http"

// Response is a fully materialized HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// NewHTMLResponse returns a text/html response with extra headers applied.
func NewHTMLResponse(status int, body string, extra http.Header) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	for name, values := range extra {
		h[name] = values
	}
	return &Response{Status: status, Headers: h, Body: []byte(body)}
}

// NewRedirectResponse returns a 302 to location.
func NewRedirectResponse(location string) *Response {
	h := make(http.Header)
	h.Set("Location", location)
	return &Response{Status: http.StatusFound, Headers: h}
}

// Write sends the response.
func (r *Response) Write(w http.ResponseWriter) error {
	for name, values := range r.Headers {
		w.Header()[name] = values
	}
	w.WriteHeader(r.Status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
