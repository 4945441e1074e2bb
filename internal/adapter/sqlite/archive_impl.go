// Package sqlite provides a SQLite-backed archive store for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/utils"
)

//go:embed schema.sql
var schema string

// Open opens the database at path, or an in-memory one for ":memory:",
// and creates the archive tables.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// ArchiveRepoImpl implements repository.ArchiveStore for one collection.
type ArchiveRepoImpl struct {
	db   *sql.DB
	coll string
}

// NewArchiveRepo scopes db to collection coll.
func NewArchiveRepo(db *sql.DB, coll string) *ArchiveRepoImpl {
	return &ArchiveRepoImpl{db: db, coll: coll}
}

func (r *ArchiveRepoImpl) AddPage(ctx context.Context, page *entity.Page) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pages (coll, id, url, date, title) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (coll, url, date) DO NOTHING`,
		r.coll, page.ID, page.URL, page.Date, page.Title)
	return err
}

func (r *ArchiveRepoImpl) GetAllPages(ctx context.Context) ([]*entity.Page, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url, date, title FROM pages WHERE coll = ? ORDER BY seq`, r.coll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*entity.Page
	for rows.Next() {
		var p entity.Page
		if err := rows.Scan(&p.ID, &p.URL, &p.Date, &p.Title); err != nil {
			return nil, err
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// AddResource stores entry, replacing an earlier capture of the same URL
// and timestamp.
func (r *ArchiveRepoImpl) AddResource(ctx context.Context, entry *entity.ResourceEntry) error {
	body, err := entry.Body()
	if err != nil {
		return fmt.Errorf("read payload of %s: %w", entry.URL, err)
	}
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return err
	}
	var extra []byte
	if entry.ExtraOpts != nil {
		if extra, err = json.Marshal(entry.ExtraOpts); err != nil {
			return err
		}
	}
	if body == nil {
		body = []byte{}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO resources (coll, url, ts, url_key, status, mime, headers, digest, payload, extra, orig_url, orig_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
		ON CONFLICT (coll, url, ts) DO UPDATE SET
			url_key = excluded.url_key,
			status = excluded.status,
			mime = excluded.mime,
			headers = excluded.headers,
			digest = excluded.digest,
			payload = excluded.payload,
			extra = excluded.extra,
			orig_url = NULL,
			orig_ts = NULL`,
		r.coll, entry.URL, entry.TS, utils.FuzzyKey(entry.URL), entry.Status, entry.Mime,
		string(headers), entry.Digest, body, nullableText(extra))
	return err
}

// AddRevisit records a revisit unless a full capture already exists at the
// same URL and timestamp.
func (r *ArchiveRepoImpl) AddRevisit(ctx context.Context, revisit *entity.RevisitEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resources (coll, url, ts, url_key, digest, orig_url, orig_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (coll, url, ts) DO NOTHING`,
		r.coll, revisit.URL, revisit.TS, utils.FuzzyKey(revisit.URL), revisit.Digest,
		revisit.OrigURL, revisit.OrigTS)
	return err
}

type resourceRow struct {
	url     string
	ts      int64
	status  int
	headers string
	digest  string
	payload []byte
	origURL sql.NullString
	origTS  sql.NullInt64
}

const selectResource = `SELECT url, ts, status, headers, digest, payload, orig_url, orig_ts FROM resources`

func (r *ArchiveRepoImpl) scanOne(ctx context.Context, query string, args ...any) (*resourceRow, error) {
	var row resourceRow
	err := r.db.QueryRowContext(ctx, selectResource+" "+query, args...).Scan(
		&row.url, &row.ts, &row.status, &row.headers, &row.digest, &row.payload, &row.origURL, &row.origTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetResource returns the capture of query.URL closest to query.Timestamp,
// falling back to captures of the same URL without its query string.
func (r *ArchiveRepoImpl) GetResource(ctx context.Context, query *entity.ReplayQuery, _ string) (*entity.MatchedResource, error) {
	target, err := utils.TSToDateLatest(query.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", repository.ErrNotFound, query.Timestamp)
	}
	ts := target.UnixMilli()

	row, err := r.scanOne(ctx, `WHERE coll = ? AND url = ? ORDER BY ABS(ts - ?) LIMIT 1`, r.coll, query.URL, ts)
	if errors.Is(err, repository.ErrNotFound) {
		row, err = r.scanOne(ctx, `WHERE coll = ? AND url_key = ? ORDER BY ABS(ts - ?) LIMIT 1`,
			r.coll, utils.FuzzyKey(query.URL), ts)
	}
	if err != nil {
		return nil, err
	}

	if row.origURL.Valid {
		orig, err := r.resolveRevisit(ctx, row)
		if err != nil {
			return nil, err
		}
		row.status, row.headers, row.payload = orig.status, orig.headers, orig.payload
	}

	return toMatched(row)
}

func (r *ArchiveRepoImpl) resolveRevisit(ctx context.Context, rev *resourceRow) (*resourceRow, error) {
	orig, err := r.scanOne(ctx, `WHERE coll = ? AND url = ? AND ts = ? AND orig_url IS NULL`,
		r.coll, rev.origURL.String, rev.origTS.Int64)
	if errors.Is(err, repository.ErrNotFound) && rev.digest != "" {
		orig, err = r.scanOne(ctx, `WHERE coll = ? AND digest = ? AND orig_url IS NULL ORDER BY ABS(ts - ?) LIMIT 1`,
			r.coll, rev.digest, rev.ts)
	}
	return orig, err
}

func toMatched(row *resourceRow) (*entity.MatchedResource, error) {
	headers := entity.Headers{}
	if err := json.Unmarshal([]byte(row.headers), &headers); err != nil {
		return nil, fmt.Errorf("decode headers of %s: %w", row.url, err)
	}
	return entity.NewMatchedResource(row.url, row.ts, row.status, headers, row.payload), nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
