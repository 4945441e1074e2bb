// Package warc reads WARC 1.0/1.1 capture files, plain or gzip-compressed
// per record.
package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/user/replay-service/internal/entity"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DefaultMaxRecordBytes bounds the block a single record may declare.
const DefaultMaxRecordBytes int64 = 512 << 20

// Reader yields the records of a WARC stream in file order.
type Reader struct {
	src      io.Closer
	br       *bufio.Reader
	tp       *textproto.Reader
	offset   int
	maxBlock int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxRecordBytes sets the largest record block the reader buffers.
// Larger records are skipped and reported as malformed. n <= 0 keeps
// DefaultMaxRecordBytes.
func WithMaxRecordBytes(n int64) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxBlock = n
		}
	}
}

// NewReader wraps r, detecting gzip compression from its first bytes.
// Close closes r when it is an io.Closer.
func NewReader(r io.Reader, opts ...ReaderOption) (*Reader, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		// gzip.Reader reads concatenated members as one stream.
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		br = bufio.NewReader(zr)
	}

	wr := &Reader{br: br, tp: textproto.NewReader(br), maxBlock: DefaultMaxRecordBytes}
	for _, opt := range opts {
		opt(wr)
	}
	if c, ok := r.(io.Closer); ok {
		wr.src = c
	}
	return wr, nil
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}

// Next returns the next record, or io.EOF after the last one.
//
// A record whose block was consumed but could not be parsed, or whose
// block exceeds the size limit, is returned as *entity.MalformedRecordError
// and the stream remains readable. Any other error leaves the stream
// unusable.
func (r *Reader) Next() (*entity.Record, error) {
	version, err := r.readVersion()
	if err != nil {
		return nil, err
	}

	header, err := r.tp.ReadMIMEHeader()
	if err != nil && !(errors.Is(err, io.EOF) && len(header) > 0) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("record %d: read %s headers: %w", r.offset, version, io.ErrUnexpectedEOF)
		}
		// textproto errors quote the offending line.
		return nil, fmt.Errorf("record %d: malformed %s header block", r.offset, version)
	}

	length, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("record %d: bad Content-Length", r.offset)
	}

	if length > r.maxBlock {
		if _, err := io.CopyN(io.Discard, r.br, length); err != nil {
			return nil, fmt.Errorf("record %d: read block: %w", r.offset, io.ErrUnexpectedEOF)
		}
		r.offset++
		rec := recordHeader(header)
		rec.ContentLength = length
		return nil, &entity.MalformedRecordError{
			Record: rec,
			Err:    fmt.Errorf("block of %d bytes exceeds limit of %d", length, r.maxBlock),
		}
	}

	// Grows with the bytes present, not the declared length.
	block, err := io.ReadAll(io.LimitReader(r.br, length))
	if err != nil {
		return nil, fmt.Errorf("record %d: read block: %w", r.offset, err)
	}
	if int64(len(block)) < length {
		return nil, fmt.Errorf("record %d: read block: %w", r.offset, io.ErrUnexpectedEOF)
	}
	r.offset++

	return parseRecord(header, block)
}

// readVersion skips the blank lines separating records and returns the
// WARC/x.y line.
func (r *Reader) readVersion() (string, error) {
	for {
		line, err := r.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
				return "", io.EOF
			}
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "WARC/") {
			return "", fmt.Errorf("record %d: missing WARC version line", r.offset)
		}
		return line, nil
	}
}

func recordHeader(header textproto.MIMEHeader) *entity.Record {
	return &entity.Record{
		WARCType:          header.Get("WARC-Type"),
		TargetURI:         trimURI(header.Get("WARC-Target-URI")),
		Date:              header.Get("WARC-Date"),
		PayloadDigest:     header.Get("WARC-Payload-Digest"),
		RefersToTargetURI: trimURI(header.Get("WARC-Refers-To-Target-URI")),
		RefersToDate:      header.Get("WARC-Refers-To-Date"),
		ContentType:       header.Get("Content-Type"),
		Header:            header,
	}
}

func parseRecord(header textproto.MIMEHeader, block []byte) (*entity.Record, error) {
	rec := recordHeader(header)
	rec.ContentLength = int64(len(block))
	rec.Payload = block

	if !hasHTTPBlock(rec) {
		return rec, nil
	}

	info, payload, err := parseHTTPBlock(rec.WARCType, block)
	if err != nil {
		rec.Payload = nil
		return nil, &entity.MalformedRecordError{Record: rec, Err: err}
	}
	rec.HTTP = info
	rec.Payload = payload
	rec.ContentLength = int64(len(payload))
	return rec, nil
}

func hasHTTPBlock(rec *entity.Record) bool {
	switch rec.WARCType {
	case entity.WARCResponse, entity.WARCRequest, entity.WARCRevisit:
	default:
		return false
	}
	return len(rec.Payload) > 0 && strings.HasPrefix(strings.ToLower(rec.ContentType), "application/http")
}

// parseHTTPBlock splits an HTTP message into its start line, headers and
// payload. Chunked payloads are decoded when possible.
func parseHTTPBlock(warcType string, block []byte) (*entity.HTTPInfo, []byte, error) {
	br := bufio.NewReader(bytes.NewReader(block))
	tp := textproto.NewReader(br)

	startLine, err := tp.ReadLine()
	if err != nil {
		return nil, nil, fmt.Errorf("read start line: %w", err)
	}
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read http headers: %w", err)
	}

	info := &entity.HTTPInfo{Headers: http.Header(mimeHeader)}
	if info.Headers == nil {
		info.Headers = http.Header{}
	}

	parts := strings.SplitN(startLine, " ", 3)
	if warcType == entity.WARCRequest {
		info.Method = parts[0]
	} else {
		if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
			return nil, nil, fmt.Errorf("malformed status line %q", startLine)
		}
		if info.StatusCode, err = strconv.Atoi(parts[1]); err != nil {
			return nil, nil, fmt.Errorf("malformed status code in %q", startLine)
		}
		if len(parts) == 3 {
			info.StatusReason = parts[2]
		}
	}

	payload, err := io.ReadAll(br)
	if err != nil {
		return nil, nil, err
	}

	if strings.EqualFold(info.Headers.Get("Transfer-Encoding"), "chunked") {
		if decoded, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(payload))); err == nil {
			payload = decoded
			info.Headers.Del("Transfer-Encoding")
		}
	}
	return info, payload, nil
}

func trimURI(uri string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(uri), "<"), ">")
}
