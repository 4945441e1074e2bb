package usecase

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/metrics"
	"github.com/user/replay-service/pkg/utils"
)

// DefaultCSP confines replayed pages to the archive origin.
const DefaultCSP = "default-src 'unsafe-eval' 'unsafe-inline' 'self' data: blob: mediastream: ws: wss: ; form-action 'self'"

// ErrNotHandled is returned when a request is outside a collection's prefix.
var ErrNotHandled = errors.New("request not handled by collection")

var replayRx = regexp.MustCompile(`^(\d*)([a-z]+_|[$][a-z0-9:.-]+)?(?:/|\||%7C|%7c)(.+)`)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// ContentRewriter adapts a matched resource for replay.
type ContentRewriter interface {
	Rewrite(ctx context.Context, res *entity.MatchedResource, r *http.Request, csp string, noRewriteBody bool) (*entity.MatchedResource, error)
}

// RewriterFactory builds a ContentRewriter for one response.
type RewriterFactory func(opts entity.RewriteOptions) ContentRewriter

// CollectionConfig describes where a collection is mounted.
type CollectionConfig struct {
	Name string
	// Prefix is the base replay path shared by all collections, e.g. "/w/".
	Prefix       string
	RootPrefix   string
	StaticPrefix string
	// Root serves the collection at the hash-routed app prefix and forces
	// timestamp "2" on undated requests.
	Root   bool
	Decode bool
}

// Collection routes replay requests for one archive.
type Collection struct {
	name         string
	prefix       string
	rootPrefix   string
	appPrefix    string
	staticPrefix string
	isRoot       bool
	decode       bool

	store       repository.ArchiveStore
	newRewriter RewriterFactory
	logger      *zap.Logger
}

// NewCollection creates a replay router for store.
func NewCollection(cfg CollectionConfig, store repository.ArchiveStore, newRewriter RewriterFactory, logger *zap.Logger) *Collection {
	c := &Collection{
		name:         cfg.Name,
		prefix:       cfg.Prefix + cfg.Name + "/",
		rootPrefix:   cfg.RootPrefix,
		staticPrefix: cfg.StaticPrefix,
		isRoot:       cfg.Root,
		decode:       cfg.Decode,
		store:        store,
		newRewriter:  newRewriter,
		logger:       logger.With(zap.String("collection", cfg.Name)),
	}
	if c.rootPrefix == "" {
		c.rootPrefix = cfg.Prefix
	}
	if c.isRoot {
		c.appPrefix = cfg.Prefix + "#/"
	} else {
		c.appPrefix = c.prefix
	}
	return c
}

func (c *Collection) Name() string { return c.name }

// Prefix is the path under which the collection's captures are served.
func (c *Collection) Prefix() string { return c.prefix }

// ParseReplayURL splits "<ts><mod>/<url>". A bare http:, https: or blob:
// URL is accepted as an undated target.
func ParseReplayURL(s string) (*entity.ReplayURLParts, bool) {
	if m := replayRx.FindStringSubmatch(s); m != nil {
		return &entity.ReplayURLParts{Timestamp: m[1], Modifier: m[2], TargetURL: m[3]}, true
	}
	if strings.HasPrefix(s, "http:") || strings.HasPrefix(s, "https:") || strings.HasPrefix(s, "blob:") {
		return &entity.ReplayURLParts{TargetURL: s}, true
	}
	return nil, false
}

// FormatReplayURL is the inverse of ParseReplayURL.
func FormatReplayURL(parts *entity.ReplayURLParts) string {
	return parts.Timestamp + parts.Modifier + "/" + parts.TargetURL
}

// Handle answers a replay request, or returns ErrNotHandled when its path
// is outside the collection.
func (c *Collection) Handle(ctx context.Context, r *http.Request) (*entity.Response, error) {
	wbURL, ok := c.stripPrefix(requestURI(r))
	if !ok {
		return nil, ErrNotHandled
	}

	if wbURL == "" {
		if r.Method == http.MethodPost {
			return c.redirectToBlob(r)
		}
		return c.listPages(ctx)
	}

	parts, ok := ParseReplayURL(wbURL)
	if !ok {
		metrics.ReplayTotal.WithLabelValues(c.name, "bad_url").Inc()
		return c.notFound(notFoundData{Message: fmt.Sprintf("Replay URL %s not found", wbURL)})
	}

	if parts.Timestamp == "" && c.isRoot {
		parts.Timestamp = "2"
	}

	if parts.Modifier == "" {
		metrics.ReplayTotal.WithLabelValues(c.name, "top_frame").Inc()
		return c.makeTopFrame(parts.TargetURL, parts.Timestamp)
	}

	if hash := strings.Index(parts.TargetURL, "#"); hash > 0 {
		parts.TargetURL = parts.TargetURL[:hash]
	}

	query := &entity.ReplayQuery{
		URL:       parts.TargetURL,
		Method:    r.Method,
		Timestamp: parts.Timestamp,
		Request:   r,
	}

	res, err := c.store.GetResource(ctx, query, c.prefix)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.ReplayTotal.WithLabelValues(c.name, "miss").Inc()
		c.logger.Debug("capture not found", zap.String("url", parts.TargetURL), zap.String("timestamp", parts.Timestamp))
		return c.notFound(notFoundData{URL: parts.TargetURL})
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", parts.TargetURL, err)
	}
	metrics.ReplayTotal.WithLabelValues(c.name, "hit").Inc()

	if !res.NoRW {
		requestTS := parts.Timestamp
		matched := res
		headInsert := func() (string, error) {
			return c.makeHeadInsert(matched.URL, requestTS, matched.Date, matched.PresetCookie(), matched.IsLive)
		}

		rw := c.newRewriter(entity.RewriteOptions{
			URL:        res.URL,
			Prefix:     c.prefix + parts.Timestamp + parts.Modifier + "/",
			HeadInsert: headInsert,
			Decode:     c.decode,
		})

		csp := DefaultCSP
		if parts.Modifier == "id_" {
			csp = ""
		}
		noRewrite := parts.Modifier == "id_" || parts.Modifier == "wkrf_"

		if res, err = rw.Rewrite(ctx, res, r, csp, noRewrite); err != nil {
			return nil, fmt.Errorf("rewrite %s: %w", parts.TargetURL, err)
		}
	}

	if rng := r.Header.Get("Range"); rng != "" && res.Status == http.StatusOK {
		res.SetRange(rng)
	}

	return res.MakeResponse(), nil
}

func (c *Collection) stripPrefix(uri string) (string, bool) {
	if rest, ok := strings.CutPrefix(uri, c.prefix); ok {
		return rest, true
	}
	if c.isRoot {
		if rest, ok := strings.CutPrefix(uri, c.appPrefix); ok {
			return rest, true
		}
	}
	return "", false
}

// requestURI prefers the raw request target so separators such as %7C
// survive decoding.
func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

func (c *Collection) redirectToBlob(r *http.Request) (*entity.Response, error) {
	when := time.Now()
	if acceptDT := r.Header.Get("Accept-Datetime"); acceptDT != "" {
		if t, err := http.ParseTime(acceptDT); err == nil {
			when = t
		} else {
			c.logger.Debug("invalid Accept-Datetime", zap.String("value", acceptDT), zap.Error(err))
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob body: %w", err)
	}

	metrics.ReplayTotal.WithLabelValues(c.name, "blob_redirect").Inc()
	return entity.NewRedirectResponse(c.prefix + utils.GetTS(when) + "/blob:" + utils.DigestHex(body)), nil
}

type pageLink struct {
	Href string
	URL  string
}

func (c *Collection) listPages(ctx context.Context) (*entity.Response, error) {
	pages, err := c.store.GetAllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	links := make([]pageLink, 0, len(pages))
	for _, page := range pages {
		href := c.appPrefix
		if page.Date != "" {
			if date, err := utils.ParseISODate(page.Date); err == nil {
				href += utils.GetTS(date) + "/"
			} else {
				c.logger.Debug("page with unparseable date", zap.String("url", page.URL), zap.String("date", page.Date))
			}
		}
		links = append(links, pageLink{Href: href + page.URL, URL: page.URL})
	}

	metrics.ReplayTotal.WithLabelValues(c.name, "listing").Inc()
	return c.render(http.StatusOK, "listing.html", links, nil)
}

type topFrameData struct {
	URL           string
	AppPrefix     string
	ContentPrefix string
	RootPrefix    string
	StaticPrefix  string
	RequestTS     string
}

func (c *Collection) makeTopFrame(targetURL, requestTS string) (*entity.Response, error) {
	data := topFrameData{
		URL:           targetURL,
		AppPrefix:     c.appPrefix,
		ContentPrefix: c.prefix,
		RootPrefix:    c.rootPrefix,
		StaticPrefix:  c.staticPrefix,
		RequestTS:     requestTS,
	}
	return c.render(http.StatusOK, "top_frame.html", data, http.Header{"Content-Security-Policy": {DefaultCSP}})
}

type headInsertData struct {
	TopURL       string
	URL          string
	Timestamp    string
	RequestTS    string
	Prefix       string
	IsLive       bool
	Coll         string
	StaticPrefix string
	PresetCookie string
	WombatSrc    string
	Seconds      string
	Scheme       string
	Host         string
}

func (c *Collection) makeHeadInsert(targetURL, requestTS string, date time.Time, presetCookie string, isLive bool) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("parse capture url: %w", err)
	}
	scheme := u.Scheme
	if scheme == "blob" {
		scheme = "https"
	}

	topURL := c.appPrefix + requestTS
	if requestTS != "" {
		topURL += "/"
	}

	data := headInsertData{
		TopURL:       topURL + targetURL,
		URL:          targetURL,
		Timestamp:    utils.GetTS(date),
		RequestTS:    requestTS,
		Prefix:       c.prefix,
		IsLive:       isLive,
		Coll:         c.name,
		StaticPrefix: c.staticPrefix + "/",
		PresetCookie: presetCookie,
		WombatSrc:    c.staticPrefix + "/wombat.js",
		Seconds:      utils.GetSecondsStr(date),
		Scheme:       scheme,
		Host:         u.Host,
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "head_insert.html", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type notFoundData struct {
	URL     string
	Message string
}

func (c *Collection) notFound(data notFoundData) (*entity.Response, error) {
	return c.render(http.StatusNotFound, "not_found.html", data, nil)
}

func (c *Collection) render(status int, name string, data any, extra http.Header) (*entity.Response, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return entity.NewHTMLResponse(status, buf.String(), extra), nil
}
