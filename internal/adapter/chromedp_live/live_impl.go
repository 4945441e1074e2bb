// Package chromedp_live serves a collection captured on demand from the
// live web with headless Chrome.
package chromedp_live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
)

// pageCapture is a rendered main document.
type pageCapture struct {
	URL     string
	Status  int
	Headers map[string]any
	HTML    string
}

type captureFunc func(ctx context.Context, url string) (*pageCapture, error)

// LiveRepoImpl implements a read-only repository.ArchiveStore backed by
// a headless browser.
type LiveRepoImpl struct {
	capture captureFunc
	timeout time.Duration
	logger  *zap.Logger

	cancelAlloc context.CancelFunc
	closeOnce   sync.Once
}

// NewLiveRepo starts a Chrome allocator shared by all captures.
func NewLiveRepo(pageLoadTimeout time.Duration, logger *zap.Logger) *LiveRepoImpl {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	r := &LiveRepoImpl{timeout: pageLoadTimeout, logger: logger, cancelAlloc: cancel}
	r.capture = func(ctx context.Context, url string) (*pageCapture, error) {
		return captureWithBrowser(ctx, allocCtx, url, logger)
	}
	return r
}

// Close shuts the browser down.
func (r *LiveRepoImpl) Close() {
	r.closeOnce.Do(func() {
		if r.cancelAlloc != nil {
			r.cancelAlloc()
		}
	})
}

func (r *LiveRepoImpl) AddPage(context.Context, *entity.Page) error {
	return repository.ErrReadOnly
}

func (r *LiveRepoImpl) AddResource(context.Context, *entity.ResourceEntry) error {
	return repository.ErrReadOnly
}

func (r *LiveRepoImpl) AddRevisit(context.Context, *entity.RevisitEntry) error {
	return repository.ErrReadOnly
}

// GetAllPages is always empty for the live web.
func (r *LiveRepoImpl) GetAllPages(context.Context) ([]*entity.Page, error) {
	return nil, nil
}

// GetResource loads query.URL in the browser and returns the rendered document.
func (r *LiveRepoImpl) GetResource(ctx context.Context, query *entity.ReplayQuery, _ string) (*entity.MatchedResource, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	page, err := r.capture(ctx, query.URL)
	if err != nil {
		r.logger.Warn("live capture failed", zap.String("url", query.URL), zap.Error(err))
		return nil, fmt.Errorf("live capture of %s: %w", query.URL, err)
	}
	r.logger.Debug("live capture done",
		zap.String("url", query.URL),
		zap.Int("status", page.Status),
		zap.Duration("duration", time.Since(start)))

	return toMatched(page, time.Now()), nil
}

func toMatched(page *pageCapture, now time.Time) *entity.MatchedResource {
	headers := entity.Headers{}
	for name, value := range page.Headers {
		// Chrome joins repeated headers with newlines.
		headers.Set(name, strings.ReplaceAll(fmt.Sprint(value), "\n", ", "))
	}
	// The body is the rendered DOM, not the transferred bytes.
	delete(headers, "content-encoding")
	delete(headers, "content-length")
	delete(headers, "transfer-encoding")

	status := page.Status
	if status == 0 {
		status = 200
	}
	m := entity.NewMatchedResource(page.URL, now.UnixMilli(), status, headers, []byte(page.HTML))
	m.IsLive = true
	return m
}

func captureWithBrowser(ctx, allocCtx context.Context, url string, logger *zap.Logger) (*pageCapture, error) {
	taskCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	defer cancel()

	// Tie the tab to the request context.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	page := &pageCapture{URL: url}
	var mu sync.Mutex
	chromedp.ListenTarget(taskCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		// Keep the first document; later ones belong to iframes.
		if page.Status == 0 {
			page.Status = int(resp.Response.Status)
			page.Headers = resp.Response.Headers
		}
	})

	var html string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	page.HTML = html
	return page, nil
}
