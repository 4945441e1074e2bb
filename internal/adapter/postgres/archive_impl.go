package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/utils"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS archive_pages (
		seq   BIGSERIAL PRIMARY KEY,
		coll  TEXT NOT NULL,
		id    TEXT NOT NULL,
		url   TEXT NOT NULL,
		date  TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS archive_pages_coll_idx ON archive_pages (coll, seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS archive_pages_entry_idx ON archive_pages (coll, url, date)`,
	`CREATE TABLE IF NOT EXISTS archive_resources (
		coll     TEXT   NOT NULL,
		url      TEXT   NOT NULL,
		ts       BIGINT NOT NULL,
		url_key  TEXT   NOT NULL,
		status   INT    NOT NULL DEFAULT 0,
		mime     TEXT   NOT NULL DEFAULT '',
		headers  JSONB  NOT NULL DEFAULT '{}',
		digest   TEXT   NOT NULL DEFAULT '',
		payload  BYTEA,
		extra    JSONB,
		orig_url TEXT,
		orig_ts  BIGINT,
		PRIMARY KEY (coll, url, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS archive_resources_key_idx ON archive_resources (coll, url_key, ts)`,
	`CREATE INDEX IF NOT EXISTS archive_resources_digest_idx ON archive_resources (coll, digest)`,
}

// EnsureSchema creates the archive tables if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	batch := &pgx.Batch{}
	for _, stmt := range schema {
		batch.Queue(stmt)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// ArchiveRepoImpl implements repository.ArchiveStore for one collection.
type ArchiveRepoImpl struct {
	db   *pgxpool.Pool
	coll string
}

// NewArchiveRepo scopes db to collection coll.
func NewArchiveRepo(db *pgxpool.Pool, coll string) *ArchiveRepoImpl {
	return &ArchiveRepoImpl{db: db, coll: coll}
}

func (r *ArchiveRepoImpl) AddPage(ctx context.Context, page *entity.Page) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO archive_pages (coll, id, url, date, title) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (coll, url, date) DO NOTHING`,
		r.coll, page.ID, page.URL, page.Date, page.Title)
	return err
}

func (r *ArchiveRepoImpl) GetAllPages(ctx context.Context) ([]*entity.Page, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, url, date, title FROM archive_pages WHERE coll = $1 ORDER BY seq`, r.coll)
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

// AddResource stores or replaces the capture of entry.URL at entry.TS.
func (r *ArchiveRepoImpl) AddResource(ctx context.Context, entry *entity.ResourceEntry) error {
	body, err := entry.Body()
	if err != nil {
		return fmt.Errorf("read payload of %s: %w", entry.URL, err)
	}
	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return err
	}
	var extraJSON []byte
	if entry.ExtraOpts != nil {
		if extraJSON, err = json.Marshal(entry.ExtraOpts); err != nil {
			return err
		}
	}
	if body == nil {
		body = []byte{}
	}

	query := `
		INSERT INTO archive_resources (coll, url, ts, url_key, status, mime, headers, digest, payload, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (coll, url, ts) DO UPDATE SET
			url_key = EXCLUDED.url_key,
			status = EXCLUDED.status,
			mime = EXCLUDED.mime,
			headers = EXCLUDED.headers,
			digest = EXCLUDED.digest,
			payload = EXCLUDED.payload,
			extra = EXCLUDED.extra,
			orig_url = NULL,
			orig_ts = NULL;
	`
	_, err = r.db.Exec(ctx, query,
		r.coll,
		entry.URL,
		entry.TS,
		utils.FuzzyKey(entry.URL),
		entry.Status,
		entry.Mime,
		headersJSON,
		entry.Digest,
		body,
		extraJSON,
	)
	return err
}

// AddRevisit records a revisit; an existing full capture at the same
// URL and timestamp wins.
func (r *ArchiveRepoImpl) AddRevisit(ctx context.Context, revisit *entity.RevisitEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO archive_resources (coll, url, ts, url_key, digest, orig_url, orig_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (coll, url, ts) DO NOTHING;`,
		r.coll, revisit.URL, revisit.TS, utils.FuzzyKey(revisit.URL), revisit.Digest,
		revisit.OrigURL, revisit.OrigTS)
	return err
}

type resourceRow struct {
	url     string
	ts      int64
	status  int
	headers []byte
	digest  string
	payload []byte
	origURL *string
	origTS  *int64
}

const selectResource = `SELECT url, ts, status, headers, digest, payload, orig_url, orig_ts FROM archive_resources`

func (r *ArchiveRepoImpl) scanOne(ctx context.Context, where string, args ...any) (*resourceRow, error) {
	var row resourceRow
	err := r.db.QueryRow(ctx, selectResource+" "+where, args...).Scan(
		&row.url, &row.ts, &row.status, &row.headers, &row.digest, &row.payload, &row.origURL, &row.origTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetResource returns the capture closest to query.Timestamp, trying the
// exact URL before captures that differ only by query string.
func (r *ArchiveRepoImpl) GetResource(ctx context.Context, query *entity.ReplayQuery, _ string) (*entity.MatchedResource, error) {
	target, err := utils.TSToDateLatest(query.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", repository.ErrNotFound, query.Timestamp)
	}
	ts := target.UnixMilli()

	row, err := r.scanOne(ctx, `WHERE coll = $1 AND url = $2 ORDER BY ABS(ts - $3) LIMIT 1`,
		r.coll, query.URL, ts)
	if errors.Is(err, repository.ErrNotFound) {
		row, err = r.scanOne(ctx, `WHERE coll = $1 AND url_key = $2 ORDER BY ABS(ts - $3) LIMIT 1`,
			r.coll, utils.FuzzyKey(query.URL), ts)
	}
	if err != nil {
		return nil, err
	}

	if row.origURL != nil {
		var origTS int64
		if row.origTS != nil {
			origTS = *row.origTS
		}
		orig, err := r.scanOne(ctx, `WHERE coll = $1 AND url = $2 AND ts = $3 AND orig_url IS NULL`,
			r.coll, *row.origURL, origTS)
		if errors.Is(err, repository.ErrNotFound) && row.digest != "" {
			orig, err = r.scanOne(ctx,
				`WHERE coll = $1 AND digest = $2 AND orig_url IS NULL ORDER BY ABS(ts - $3) LIMIT 1`,
				r.coll, row.digest, row.ts)
		}
		if err != nil {
			return nil, err
		}
		row.status, row.headers, row.payload = orig.status, orig.headers, orig.payload
	}

	headers := entity.Headers{}
	if err := json.Unmarshal(row.headers, &headers); err != nil {
		return nil, fmt.Errorf("decode headers of %s: %w", row.url, err)
	}
	return entity.NewMatchedResource(row.url, row.ts, row.status, headers, row.payload), nil
}
