package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps assets on the local filesystem and serves them over HTTP.
// It backs development setups and tests.
type LocalStore struct {
	root    string
	baseURL string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore stores objects below root; public URLs are baseURL + "/" + key.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local asset root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve asset root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create asset root: %w", err)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "/media"
	}
	return &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Put(ctx context.Context, key, _ string, body io.Reader, _ int64) (Object, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp asset: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: body}); err != nil {
		return Object{}, fmt.Errorf("write asset %s: %w", cleaned, err)
	}
	if err := tmp.Sync(); err != nil {
		return Object{}, fmt.Errorf("flush asset %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close asset %s: %w", cleaned, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return Object{}, fmt.Errorf("chmod asset %s: %w", cleaned, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return Object{}, fmt.Errorf("publish asset %s: %w", cleaned, err)
	}
	success = true
	return Object{Key: cleaned, URL: joinURL(s.baseURL, cleaned)}, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete asset %s: %w", cleaned, err)
	}
	return nil
}

func (s *LocalStore) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("asset root %s is not a directory", s.root)
	}
	return nil
}

// Handler serves stored files. Mount it behind http.StripPrefix.
func (s *LocalStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if ct := ContentTypeFor(r.URL.Path); ct != "application/octet-stream" {
			w.Header().Set("Content-Type", ct)
		}
		files.ServeHTTP(w, r)
	})
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
