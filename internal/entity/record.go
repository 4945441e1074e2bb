package entity

import (
	"fmt"
	"net/http"
	"net/textproto"
)

// Capture record types.
const (
	WARCInfo     = "warcinfo"
	WARCRequest  = "request"
	WARCResponse = "response"
	WARCResource = "resource"
	WARCRevisit  = "revisit"
	WARCMetadata = "metadata"
)

// HTTPInfo is the HTTP envelope carried by request/response/revisit records.
type HTTPInfo struct {
	StatusCode   int    // responses only
	StatusReason string // responses only
	Method       string // requests only
	Headers      http.Header
}

// Record is one capture record as produced by a record reader.
type Record struct {
	WARCType          string
	TargetURI         string
	Date              string
	PayloadDigest     string
	RefersToTargetURI string
	RefersToDate      string
	ContentType       string
	ContentLength     int64

	HTTP *HTTPInfo

	// Payload holds the record body (HTTP body for enveloped records).
	// Stream is an alternative lazy body source; at most one is set.
	Payload []byte
	Stream  BodySource

	Header textproto.MIMEHeader
}

// WARCHeader looks up a named header of the record itself.
func (r *Record) WARCHeader(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// MalformedRecordError reports a record whose framing was read but whose
// content could not be parsed. The reader stays positioned at the next
// record, so callers may skip it and continue.
type MalformedRecordError struct {
	Record *Record
	Err    error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %s: %v", e.Record.WARCType, e.Record.TargetURI, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }
