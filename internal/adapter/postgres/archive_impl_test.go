package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
)

// openTestPool connects to POSTGRES_TEST_URL or skips.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestArchiveRepoRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	repo := NewArchiveRepo(pool, "test-"+uuid.NewString())
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, repo.AddPage(ctx, &entity.Page{ID: "p1", URL: "https://example.com/", Title: "Example"}))
	require.NoError(t, repo.AddPage(ctx, &entity.Page{ID: "p2", URL: "https://example.com/", Title: "Again"}))
	require.NoError(t, repo.AddResource(ctx, &entity.ResourceEntry{
		URL: "https://example.com/?a=1", TS: ts, Status: 200, Digest: "sha1:X",
		Headers: entity.Headers{"content-type": "text/html"}, Payload: []byte("<html>"),
	}))
	require.NoError(t, repo.AddRevisit(ctx, &entity.RevisitEntry{
		URL: "https://example.com/copy", TS: ts + 1000, OrigURL: "https://example.com/?a=1", OrigTS: ts,
	}))

	pages, err := repo.GetAllPages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Example", pages[0].Title)

	m, err := repo.GetResource(ctx, &entity.ReplayQuery{URL: "https://example.com/?a=2", Timestamp: "2020"}, "")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(m.Body))

	m, err = repo.GetResource(ctx, &entity.ReplayQuery{URL: "https://example.com/copy", Timestamp: "2020"}, "")
	require.NoError(t, err)
	assert.Equal(t, "text/html", m.Headers.Get("Content-Type"))

	_, err = repo.GetResource(ctx, &entity.ReplayQuery{URL: "https://missing.example/", Timestamp: "2020"}, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
