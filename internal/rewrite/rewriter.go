package rewrite

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/entity"
)

var urlAttrs = []string{"href", "src", "action", "poster"}

// Rewriter adapts one replayed response so it loads through the replay
// prefix: it injects the head insert into HTML, points absolute links back
// at the archive and runs the site's text rules over scripts.
type Rewriter struct {
	opts   entity.RewriteOptions
	rules  *RuleSet
	logger *zap.Logger

	origin string // scheme://host of opts.URL
	scheme string
}

func New(opts entity.RewriteOptions, rules *RuleSet, logger *zap.Logger) *Rewriter {
	rw := &Rewriter{opts: opts, rules: rules, logger: logger}
	if u, err := url.Parse(opts.URL); err == nil && u.Host != "" {
		rw.scheme = u.Scheme
		rw.origin = u.Scheme + "://" + u.Host
	}
	return rw
}

// Rewrite rewrites res in place and returns it. csp, when non-empty, is set
// as the Content-Security-Policy. With noRewriteBody only headers change.
func (rw *Rewriter) Rewrite(ctx context.Context, res *entity.MatchedResource, _ *http.Request, csp string, noRewriteBody bool) (*entity.MatchedResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rw.opts.Decode {
		if err := decodeBody(res); err != nil {
			return nil, fmt.Errorf("decode body of %s: %w", res.URL, err)
		}
	}

	if !noRewriteBody && res.Headers.Get("Content-Encoding") == "" {
		body, changed, err := rw.rewriteBody(res)
		if err != nil {
			return nil, fmt.Errorf("rewrite %s: %w", res.URL, err)
		}
		if changed {
			res.Body = body
			res.Headers.Set("Content-Length", strconv.Itoa(len(body)))
		}
	}

	if csp != "" {
		res.Headers.Set("Content-Security-Policy", csp)
	}
	return res, nil
}

func (rw *Rewriter) rewriteBody(res *entity.MatchedResource) ([]byte, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(res.Headers.Get("Content-Type"))

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		out, err := rw.rewriteHTML(res.Body)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil

	case isScriptType(mediaType):
		if rw.opts.DisableJSRewrite {
			return res.Body, false, nil
		}
		text := string(res.Body)
		out := rw.rules.Select(rw.opts.URL).Rewrite(text)
		return []byte(out), out != text, nil
	}
	return res.Body, false, nil
}

func isScriptType(mediaType string) bool {
	switch mediaType {
	case "application/javascript", "text/javascript", "application/x-javascript",
		"application/json", "text/json", "application/ecmascript":
		return true
	}
	return false
}

func (rw *Rewriter) rewriteHTML(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	doc.Find("[href], [src], [action], [poster]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range urlAttrs {
			if val, ok := s.Attr(attr); ok {
				if rewritten, ok := rw.rewriteURL(val); ok {
					s.SetAttr(attr, rewritten)
				}
			}
		}
	})

	if !rw.opts.DisableJSRewrite {
		textRW := rw.rules.Select(rw.opts.URL)
		doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			text := s.Text()
			if out := textRW.Rewrite(text); out != text {
				s.SetText(out)
			}
		})
	}

	if rw.opts.HeadInsert != nil {
		insert, err := rw.opts.HeadInsert()
		if err != nil {
			return nil, fmt.Errorf("head insert: %w", err)
		}
		doc.Find("head").First().PrependHtml(insert)
	}

	out, err := doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// rewriteURL maps absolute, scheme-relative and root-relative URLs onto
// the replay prefix. Page-relative URLs already resolve under the prefix.
func (rw *Rewriter) rewriteURL(val string) (string, bool) {
	val = strings.TrimSpace(val)
	switch {
	case val == "" || strings.HasPrefix(val, rw.opts.Prefix):
		return "", false
	case strings.HasPrefix(val, "http://"), strings.HasPrefix(val, "https://"):
		return rw.opts.Prefix + val, true
	case strings.HasPrefix(val, "//"):
		if rw.scheme == "" {
			return "", false
		}
		return rw.opts.Prefix + rw.scheme + ":" + val, true
	case strings.HasPrefix(val, "/"):
		if rw.origin == "" {
			return "", false
		}
		return rw.opts.Prefix + rw.origin + val, true
	}
	return "", false
}

// decodeBody removes gzip or deflate content encoding. Other encodings are
// left untouched and the body is then served as is.
func decodeBody(res *entity.MatchedResource) error {
	var (
		r   io.ReadCloser
		err error
	)
	switch strings.ToLower(res.Headers.Get("Content-Encoding")) {
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(res.Body))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(res.Body))
		if err != nil {
			r, err = flate.NewReader(bytes.NewReader(res.Body)), nil
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	res.Body = decoded
	res.Headers.Del("Content-Encoding")
	res.Headers.Set("Content-Length", strconv.Itoa(len(decoded)))
	return nil
}
