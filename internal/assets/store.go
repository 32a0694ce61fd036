// Package assets publishes media files to durable storage and hands back the
// public URL of each object.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
)

var ErrInvalidKey = errors.New("invalid object key")

// Object identifies a stored asset.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store persists media objects under slash-separated keys.
type Store interface {
	// Put uploads body under key. size may be -1 when unknown.
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error)
	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ContentTypeFor derives a MIME type from the file extension of name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// cleanKey normalizes key and rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

type instrumentedStore struct {
	next     Store
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// Instrument wraps store so every Put and Delete is counted and failures are
// logged.
func Instrument(store Store, recorder *metrics.Recorder, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumentedStore{next: store, recorder: recorder, logger: logging.WithComponent(logger, "assets")}
}

func (s *instrumentedStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error) {
	object, err := s.next.Put(ctx, key, contentType, body, size)
	if err != nil {
		metrics.Or(s.recorder).ObserveAssetUpload("error", 0)
		logging.WithContext(ctx, s.logger).Warn("asset upload failed", "key", key, "error", err)
		return Object{}, err
	}
	metrics.Or(s.recorder).ObserveAssetUpload("success", size)
	return object, nil
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	if err := s.next.Delete(ctx, key); err != nil {
		metrics.Or(s.recorder).ObserveAssetDelete("error")
		logging.WithContext(ctx, s.logger).Warn("asset delete failed", "key", key, "error", err)
		return err
	}
	metrics.Or(s.recorder).ObserveAssetDelete("success")
	return nil
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
