package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/metrics"
	"github.com/user/replay-service/pkg/utils"
)

const (
	defaultWriteConcurrency = 16
	jsonMetadataPrefix      = "json-metadata:"
)

// Drop reasons reported to metrics.
const (
	dropStatus204       = "status_204"
	dropOptions         = "options"
	dropPartialRange    = "partial_range"
	dropSelfRedirect    = "self_redirect"
	dropSelfRevisit     = "self_revisit"
	dropUnsupportedType = "unsupported_type"
	dropInvalid         = "invalid"
)

// RecordReader yields capture records in file order and io.EOF at the end.
type RecordReader interface {
	Next() (*entity.Record, error)
}

type IndexerOptions struct {
	// WriteConcurrency bounds in-flight store writes.
	WriteConcurrency int
}

// IndexStats counts what an indexer emitted.
type IndexStats struct {
	Resources int64
	Revisits  int64
	Pages     int64
	Dropped   int64
}

type slotState int

const (
	slotEmpty slotState = iota
	slotHolding
)

// pendingSlot is the one-record look-behind used to pair requests with
// responses.
type pendingSlot struct {
	state  slotState
	record *entity.Record
}

func (s *pendingSlot) hold(rec *entity.Record) {
	s.state, s.record = slotHolding, rec
}

func (s *pendingSlot) take() *entity.Record {
	rec := s.record
	s.state, s.record = slotEmpty, nil
	return rec
}

type pageDetection int

const (
	detectUndecided pageDetection = iota
	detectOn
	detectOff
)

// RecordIndexer turns a stream of capture records into pages, resources
// and revisits. It is not safe for concurrent use; store writes run in
// the background and are joined by Finish.
type RecordIndexer struct {
	writer repository.ArchiveWriter
	logger *zap.Logger

	slot      pendingSlot
	anyPages  bool
	detection pageDetection
	stats     IndexStats

	group errgroup.Group
	mu    sync.Mutex
	errs  error
}

func NewRecordIndexer(writer repository.ArchiveWriter, opts IndexerOptions, logger *zap.Logger) *RecordIndexer {
	limit := opts.WriteConcurrency
	if limit <= 0 {
		limit = defaultWriteConcurrency
	}
	ix := &RecordIndexer{writer: writer, logger: logger}
	ix.group.SetLimit(limit)
	return ix
}

// Observe feeds the next record of the stream.
//
// Records are paired when consecutive and sharing a target URI: a
// request with its response, or a response with its request. Two
// consecutive records with the same URI that do not form such a pair,
// such as two responses, are not dropped: the first is indexed on its
// own and the second is held for the record after it.
func (ix *RecordIndexer) Observe(ctx context.Context, rec *entity.Record) {
	if rec.WARCType == entity.WARCInfo {
		ix.parseWarcInfo(ctx, rec)
		return
	}

	if ix.slot.state == slotEmpty {
		ix.slot.hold(rec)
		return
	}

	held := ix.slot.record
	switch {
	case held.TargetURI != rec.TargetURI:
		ix.index(ctx, ix.slot.take(), nil)
		ix.slot.hold(rec)
	case rec.WARCType == entity.WARCRequest && held.WARCType == entity.WARCResponse:
		ix.index(ctx, ix.slot.take(), rec)
	case rec.WARCType == entity.WARCResponse && held.WARCType == entity.WARCRequest:
		ix.slot.take()
		ix.index(ctx, rec, held)
	default:
		ix.index(ctx, ix.slot.take(), nil)
		ix.slot.hold(rec)
	}
}

// Finish flushes the held record and waits for every store write. The
// returned error aggregates all failed writes.
func (ix *RecordIndexer) Finish(ctx context.Context) error {
	if ix.slot.state == slotHolding {
		ix.index(ctx, ix.slot.take(), nil)
	}
	_ = ix.group.Wait()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.errs
}

// Stats returns the counts so far.
func (ix *RecordIndexer) Stats() IndexStats {
	return ix.stats
}

type warcInfoMetadata struct {
	Pages []struct {
		URL       string `json:"url"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Title     string `json:"title"`
	} `json:"pages"`
}

func (ix *RecordIndexer) parseWarcInfo(ctx context.Context, rec *entity.Record) {
	sc := bufio.NewScanner(bytes.NewReader(rec.Payload))
	sc.Buffer(make([]byte, 0, 64*1024), len(rec.Payload)+1)

	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), jsonMetadataPrefix)
		if !ok {
			continue
		}

		var meta warcInfoMetadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			ix.logger.Debug("ignoring malformed warcinfo metadata", zap.Error(err))
			continue
		}

		for _, p := range meta.Pages {
			date, err := utils.TSToDate(p.Timestamp)
			if err != nil {
				ix.logger.Debug("ignoring page with invalid timestamp", zap.String("url", p.URL), zap.Error(err))
				continue
			}
			title := p.Title
			if title == "" {
				title = p.URL
			}
			ix.addPage(ctx, &entity.Page{ID: p.ID, URL: p.URL, Date: utils.ISODate(date), Title: title})
			ix.anyPages = true
		}
	}
}

func (ix *RecordIndexer) index(ctx context.Context, rec, req *entity.Record) {
	switch rec.WARCType {
	case entity.WARCRevisit:
		revisit, err := ParseRevisit(rec)
		if err != nil {
			ix.drop(dropInvalid, rec, err)
			return
		}
		if revisit == nil {
			ix.drop(dropSelfRevisit, rec, nil)
			return
		}
		ix.stats.Revisits++
		ix.dispatch(ctx, "revisit", func(ctx context.Context) error {
			return ix.writer.AddRevisit(ctx, revisit)
		})

	case entity.WARCResponse, entity.WARCResource:
		entry, reason, err := ix.parseResponse(ctx, rec, req)
		if err != nil {
			ix.drop(dropInvalid, rec, err)
			return
		}
		if entry == nil {
			ix.drop(reason, rec, nil)
			return
		}
		ix.stats.Resources++
		ix.dispatch(ctx, "resource", func(ctx context.Context) error {
			return ix.writer.AddResource(ctx, entry)
		})

	default:
		ix.drop(dropUnsupportedType, rec, nil)
	}
}

// ParseRevisit converts a revisit record. A revisit of itself (same URL
// and timestamp as its referent) yields nil.
func ParseRevisit(rec *entity.Record) (*entity.RevisitEntry, error) {
	target := utils.StripFragment(rec.TargetURI)

	date, err := utils.ParseISODate(rec.Date)
	if err != nil {
		return nil, err
	}
	ts := date.UnixMilli()

	// WARC 1.0 revisits may omit the refers-to date; stores then resolve
	// them by digest.
	var origTS int64
	if rec.RefersToDate != "" {
		origDate, err := utils.ParseISODate(rec.RefersToDate)
		if err != nil {
			return nil, fmt.Errorf("refers-to: %w", err)
		}
		origTS = origDate.UnixMilli()
	}

	if rec.RefersToTargetURI == target && origTS == ts {
		return nil, nil
	}

	return &entity.RevisitEntry{
		URL:     target,
		TS:      ts,
		OrigURL: rec.RefersToTargetURI,
		OrigTS:  origTS,
		Digest:  rec.PayloadDigest,
	}, nil
}

func (ix *RecordIndexer) parseResponse(ctx context.Context, rec, req *entity.Record) (*entity.ResourceEntry, string, error) {
	if rec.WARCType == entity.WARCResource {
		req = nil
	}

	target := utils.StripFragment(rec.TargetURI)
	date, err := utils.ParseISODate(rec.Date)
	if err != nil {
		return nil, "", err
	}

	status := http.StatusOK
	var (
		headers entity.Headers
		mime    string
		cl      int64
	)

	if rec.HTTP != nil {
		if rec.HTTP.StatusCode != 0 {
			status = rec.HTTP.StatusCode
		}
		if status == http.StatusNoContent {
			return nil, dropStatus204, nil
		}
		if req != nil && req.HTTP != nil && req.HTTP.Method == http.MethodOptions {
			return nil, dropOptions, nil
		}

		headers = entity.HeadersFromHTTP(rec.HTTP.Headers)
		mime = mediaType(headers.Get("content-type"))
		cl, _ = strconv.ParseInt(headers.Get("content-length"), 10, 64)

		if status == http.StatusPartialContent {
			fullRange := fmt.Sprintf("bytes 0-%d/%d", cl-1, cl)
			if rng := headers.Get("content-range"); rng != "" && rng != fullRange {
				return nil, dropPartialRange, nil
			}
		}

		if status > 300 && status < 400 {
			if location := headers.Get("location"); location != "" {
				base, err := url.Parse(target)
				if err != nil {
					return nil, "", err
				}
				abs, err := utils.ToAbsoluteURL(base, location)
				if err != nil {
					return nil, "", fmt.Errorf("resolve location: %w", err)
				}
				if abs == target {
					return nil, dropSelfRedirect, nil
				}
			}
		}
	} else {
		cl = rec.ContentLength
		headers = entity.Headers{
			"content-type":   rec.ContentType,
			"content-length": strconv.FormatInt(cl, 10),
		}
		mime = mediaType(rec.ContentType)
	}

	if req != nil && req.HTTP != nil {
		if cookie := req.HTTP.Headers.Get("Cookie"); cookie != "" {
			headers.Set(entity.PresetCookieHeader, cookie)
		}
	}

	if cl > 0 && rec.Payload != nil && int64(len(rec.Payload)) != cl {
		ix.logger.Debug("content-length mismatch",
			zap.String("url", target), zap.Int64("expected", cl), zap.Int("found", len(rec.Payload)))
	}

	if ix.detection == detectUndecided {
		ix.detection = detectOn
		if ix.anyPages {
			ix.detection = detectOff
		}
	}
	if ix.detection == detectOn && IsPage(target, status, mime) {
		ix.addPage(ctx, &entity.Page{URL: target, Date: utils.ISODate(date), Title: target})
	}

	entry := &entity.ResourceEntry{
		URL:     target,
		TS:      date.UnixMilli(),
		Status:  status,
		Mime:    mime,
		Headers: headers,
		Digest:  rec.PayloadDigest,
		Payload: rec.Payload,
	}
	if rec.Payload == nil {
		entry.Stream = rec.Stream
	}

	if raw := rec.WARCHeader("WARC-JSON-Metadata"); raw != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			entry.ExtraOpts = extra
		}
	}

	return entry, "", nil
}

// IsPage reports whether a capture looks like a top-level page worth
// listing.
func IsPage(target string, status int, mime string) bool {
	if status != http.StatusOK {
		return false
	}
	if !strings.HasPrefix(target, "http:") && !strings.HasPrefix(target, "https:") && !strings.HasPrefix(target, "blob:") {
		return false
	}
	if strings.HasSuffix(target, "/robots.txt") {
		return false
	}

	base, query, hasQuery := strings.Cut(target, "?")
	if hasQuery && len(query) > len(base) {
		return false
	}
	if strings.HasPrefix(base[strings.LastIndex(base, "/")+1:], ".") {
		return false
	}

	return mime == "" || mime == "text/html"
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func (ix *RecordIndexer) addPage(ctx context.Context, page *entity.Page) {
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	ix.stats.Pages++
	ix.dispatch(ctx, "page", func(ctx context.Context) error {
		return ix.writer.AddPage(ctx, page)
	})
}

func (ix *RecordIndexer) dispatch(ctx context.Context, kind string, write func(context.Context) error) {
	ix.group.Go(func() error {
		if err := write(ctx); err != nil {
			ix.mu.Lock()
			ix.errs = multierr.Append(ix.errs, fmt.Errorf("add %s: %w", kind, err))
			ix.mu.Unlock()
			return nil
		}
		metrics.IndexedTotal.WithLabelValues(kind).Inc()
		return nil
	})
}

func (ix *RecordIndexer) drop(reason string, rec *entity.Record, err error) {
	ix.stats.Dropped++
	metrics.IndexDroppedTotal.WithLabelValues(reason).Inc()
	if err != nil {
		ix.logger.Warn("dropping record",
			zap.String("type", rec.WARCType), zap.String("url", rec.TargetURI), zap.Error(err))
	}
}

// IndexRecords reads every record from r into w and returns once all
// writes have finished. Records the reader reports as
// *entity.MalformedRecordError are counted as dropped and skipped; any
// other read error stops the stream.
func IndexRecords(ctx context.Context, r RecordReader, w repository.ArchiveWriter, opts IndexerOptions, logger *zap.Logger) (IndexStats, error) {
	ix := NewRecordIndexer(w, opts, logger)

	for {
		if err := ctx.Err(); err != nil {
			finishErr := ix.Finish(ctx)
			return ix.Stats(), multierr.Append(err, finishErr)
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var malformed *entity.MalformedRecordError
		if errors.As(err, &malformed) {
			ix.drop(dropInvalid, malformed.Record, malformed.Err)
			continue
		}
		if err != nil {
			finishErr := ix.Finish(ctx)
			return ix.Stats(), multierr.Append(fmt.Errorf("read record: %w", err), finishErr)
		}
		ix.Observe(ctx, rec)
	}

	err := ix.Finish(ctx)
	return ix.Stats(), err
}
