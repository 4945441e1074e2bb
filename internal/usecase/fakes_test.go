package usecase

import (
	"context"
	"net/http"
	"sync"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
)

// memArchive is an in-memory ArchiveStore keyed by exact URL.
type memArchive struct {
	mu        sync.Mutex
	pages     []*entity.Page
	resources []*entity.ResourceEntry
	revisits  []*entity.RevisitEntry
	matches   map[string]func() *entity.MatchedResource
	queries   []*entity.ReplayQuery
	getErr    error
	addErr    error
}

func newMemArchive() *memArchive {
	return &memArchive{matches: make(map[string]func() *entity.MatchedResource)}
}

func (m *memArchive) AddPage(_ context.Context, page *entity.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.pages = append(m.pages, page)
	return nil
}

func (m *memArchive) GetAllPages(context.Context) ([]*entity.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.Page(nil), m.pages...), nil
}

func (m *memArchive) AddResource(_ context.Context, entry *entity.ResourceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.resources = append(m.resources, entry)
	return nil
}

func (m *memArchive) AddRevisit(_ context.Context, revisit *entity.RevisitEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.revisits = append(m.revisits, revisit)
	return nil
}

func (m *memArchive) GetResource(_ context.Context, query *entity.ReplayQuery, _ string) (*entity.MatchedResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.getErr != nil {
		return nil, m.getErr
	}
	if build, ok := m.matches[query.URL]; ok {
		return build(), nil
	}
	return nil, repository.ErrNotFound
}

func (m *memArchive) lastQuery() *entity.ReplayQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return nil
	}
	return m.queries[len(m.queries)-1]
}

// recordingRewriter captures how the router drove the rewrite step.
type recordingRewriter struct {
	opts       entity.RewriteOptions
	csp        string
	noRewrite  bool
	headInsert string
	calls      int
}

func (rw *recordingRewriter) factory() RewriterFactory {
	return func(opts entity.RewriteOptions) ContentRewriter {
		rw.opts = opts
		return rw
	}
}

func (rw *recordingRewriter) Rewrite(_ context.Context, res *entity.MatchedResource, _ *http.Request, csp string, noRewriteBody bool) (*entity.MatchedResource, error) {
	rw.calls++
	rw.csp = csp
	rw.noRewrite = noRewriteBody
	if rw.opts.HeadInsert != nil {
		insert, err := rw.opts.HeadInsert()
		if err != nil {
			return nil, err
		}
		rw.headInsert = insert
	}
	if csp != "" {
		res.Headers.Set("Content-Security-Policy", csp)
	}
	return res, nil
}
