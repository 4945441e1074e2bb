package repository

import (
	"context"
	"errors"

	"github.com/user/replay-service/internal/entity"
)

var (
	// ErrNotFound is returned by GetResource when no capture matches.
	ErrNotFound = errors.New("no matching capture")
	// ErrReadOnly is returned by stores that do not accept writes.
	ErrReadOnly = errors.New("archive store is read-only")
)

// PageRepository lists and records the pages of a collection.
type PageRepository interface {
	// AddPage stores a page. Pages are kept in insertion order.
	AddPage(ctx context.Context, page *entity.Page) error
	// GetAllPages returns every page of the collection.
	GetAllPages(ctx context.Context) ([]*entity.Page, error)
}

// ResourceRepository stores captured responses and resolves replay queries.
type ResourceRepository interface {
	AddResource(ctx context.Context, entry *entity.ResourceEntry) error
	AddRevisit(ctx context.Context, revisit *entity.RevisitEntry) error
	// GetResource returns the best exact-or-fuzzy match for query, or ErrNotFound.
	GetResource(ctx context.Context, query *entity.ReplayQuery, prefix string) (*entity.MatchedResource, error)
}

// ArchiveWriter is the write side used by the record indexer.
type ArchiveWriter interface {
	AddPage(ctx context.Context, page *entity.Page) error
	AddResource(ctx context.Context, entry *entity.ResourceEntry) error
	AddRevisit(ctx context.Context, revisit *entity.RevisitEntry) error
}

// ArchiveStore is a collection's full archive.
type ArchiveStore interface {
	PageRepository
	ResourceRepository
}
