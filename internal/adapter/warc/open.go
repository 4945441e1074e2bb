package warc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrLocalSourceDisabled is returned for filesystem paths when the
	// opener has no Root.
	ErrLocalSourceDisabled = errors.New("local capture files are not enabled")
	// ErrOutsideRoot is returned for paths that resolve outside Root.
	ErrOutsideRoot = errors.New("capture file is outside the ingest root")
)

// Opener opens capture files from the local filesystem or over HTTP.
//
// Local paths are resolved against Root and may not leave it, symlinks
// included. An empty Root refuses every local path.
type Opener struct {
	Client         *http.Client
	Root           string
	MaxRecordBytes int64
}

// Open returns a Reader over source, a path or an http(s) URL.
func (o *Opener) Open(ctx context.Context, source string) (*Reader, error) {
	if isURL(source) {
		return o.openURL(ctx, source)
	}

	rel, err := o.relPath(source)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(o.Root)
	if err != nil {
		return nil, fmt.Errorf("open ingest root: %w", err)
	}
	defer root.Close()

	// os.Root refuses symlinks and ".." steps that escape it.
	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, WithMaxRecordBytes(o.MaxRecordBytes))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// CheckSource reports whether Open would accept source without touching
// the filesystem or network.
func (o *Opener) CheckSource(source string) error {
	if isURL(source) {
		return nil
	}
	_, err := o.relPath(source)
	return err
}

func (o *Opener) relPath(source string) (string, error) {
	if o.Root == "" {
		return "", ErrLocalSourceDisabled
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return "", fmt.Errorf("resolve ingest root: %w", err)
	}
	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return rel, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func (o *Opener) openURL(ctx context.Context, source string) (*Reader, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", source, resp.Status)
	}

	r, err := NewReader(resp.Body, WithMaxRecordBytes(o.MaxRecordBytes))
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return r, nil
}
