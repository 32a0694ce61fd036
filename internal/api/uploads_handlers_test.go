package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"streamhub/internal/ingest"
	"streamhub/internal/models"
)

// recordingIngester captures the spooled request and mimics the pipeline's
// cleanup contract.
type recordingIngester struct {
	mu       sync.Mutex
	requests []ingest.Request
	contents map[string]string
	err      error
}

func (r *recordingIngester) Ingest(_ context.Context, req ingest.Request) (models.Video, error) {
	defer func() { _ = req.Cleanup() }()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.contents == nil {
		r.contents = make(map[string]string)
	}
	for _, asset := range []*ingest.MediaAsset{req.Video, req.Thumbnail} {
		if asset == nil {
			continue
		}
		data, err := os.ReadFile(asset.Path)
		if err != nil {
			return models.Video{}, fmt.Errorf("read spooled file: %w", err)
		}
		r.contents[asset.OriginalName] = string(data)
	}
	if req.Thumbnail == nil {
		return models.Video{}, &ingest.ValidationError{Field: "thumbnail", Err: ingest.ErrMissingThumbnail}
	}
	if r.err != nil {
		return models.Video{}, r.err
	}
	return models.Video{
		ID:        "vid-1",
		Title:     req.Title,
		VideoURL:  "/media/videos/vid-1/index.m3u8",
		CreatorID: req.Creator.ID,
		Likes:     []string{},
	}, nil
}

type formPart struct {
	field    string
	filename string
	content  string
}

func multipartRequest(t *testing.T, parts ...formPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, part := range parts {
		var (
			w   io.Writer
			err error
		)
		if part.filename != "" {
			w, err = writer.CreateFormFile(part.field, part.filename)
		} else {
			w, err = writer.CreateFormField(part.field)
		}
		if err != nil {
			t.Fatalf("create part %s: %v", part.field, err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			t.Fatalf("write part %s: %v", part.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func assertNoSpooledFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ingest.SpoolPrefix) {
			t.Fatalf("spooled file %s left behind", entry.Name())
		}
	}
}

func TestUploadVideoSpoolsPartsForIngest(t *testing.T) {
	handler, repo := newTestHandler(t)
	alice := createUser(t, repo, "alice")
	ingester := &recordingIngester{}
	handler.Ingest = ingester

	req := multipartRequest(t,
		formPart{field: "title", content: "Test"},
		formPart{field: "description", content: "first upload"},
		formPart{field: "extra", filename: "notes.txt", content: "ignored"},
		formPart{field: "video", filename: "clip.mp4", content: "fake mp4"},
		formPart{field: "thumbnail", filename: "cover.jpg", content: "fake jpg"},
	)
	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(req, alice))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	video := decodeBody[models.Video](t, rec)
	if !strings.HasSuffix(video.VideoURL, ".m3u8") || video.CreatorID != alice.ID {
		t.Fatalf("unexpected video %+v", video)
	}
	if len(ingester.requests) != 1 {
		t.Fatalf("expected one ingest call, got %d", len(ingester.requests))
	}
	got := ingester.requests[0]
	if got.Title != "Test" || got.Description != "first upload" || got.Creator.ID != alice.ID {
		t.Fatalf("unexpected ingest request %+v", got)
	}
	if got.Video.OriginalName != "clip.mp4" || got.Video.Size != int64(len("fake mp4")) {
		t.Fatalf("unexpected video asset %+v", got.Video)
	}
	if ingester.contents["cover.jpg"] != "fake jpg" {
		t.Fatalf("unexpected thumbnail content %q", ingester.contents["cover.jpg"])
	}
	if _, ok := ingester.contents["notes.txt"]; ok {
		t.Fatal("unknown parts must not be handed to the pipeline")
	}
	assertNoSpooledFiles(t, handler.UploadDir)
}

func TestUploadVideoMissingThumbnail(t *testing.T) {
	handler, repo := newTestHandler(t)
	handler.Ingest = &recordingIngester{}

	req := multipartRequest(t,
		formPart{field: "title", content: "Test"},
		formPart{field: "video", filename: "clip.mp4", content: "fake mp4"},
	)
	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(req, createUser(t, repo, "alice")))

	expectMessage(t, rec, http.StatusBadRequest, "")
	assertNoSpooledFiles(t, handler.UploadDir)
}

func TestUploadVideoPipelineFailure(t *testing.T) {
	handler, repo := newTestHandler(t)
	handler.Ingest = &recordingIngester{err: fmt.Errorf("%w: bucket unavailable", ingest.ErrUpload)}

	req := multipartRequest(t,
		formPart{field: "title", content: "Test"},
		formPart{field: "video", filename: "clip.mp4", content: "fake mp4"},
		formPart{field: "thumbnail", filename: "cover.jpg", content: "fake jpg"},
	)
	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(req, createUser(t, repo, "alice")))

	expectMessage(t, rec, http.StatusInternalServerError, "Error uploading video")
	if strings.Contains(rec.Body.String(), "bucket") {
		t.Fatalf("internal error leaked to client: %s", rec.Body.String())
	}
	assertNoSpooledFiles(t, handler.UploadDir)
}

func TestUploadVideoEnforcesSizeLimit(t *testing.T) {
	handler, repo := newTestHandler(t)
	ingester := &recordingIngester{}
	handler.Ingest = ingester
	handler.MaxUploadBytes = 512

	req := multipartRequest(t,
		formPart{field: "title", content: "Test"},
		formPart{field: "video", filename: "clip.mp4", content: strings.Repeat("x", 4096)},
		formPart{field: "thumbnail", filename: "cover.jpg", content: "fake jpg"},
	)
	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(req, createUser(t, repo, "alice")))

	expectMessage(t, rec, http.StatusRequestEntityTooLarge, errUploadTooLarge.Error())
	if len(ingester.requests) != 0 {
		t.Fatal("oversized uploads must not reach the pipeline")
	}
	assertNoSpooledFiles(t, handler.UploadDir)
}

func TestUploadVideoRejectsNonMultipart(t *testing.T) {
	handler, repo := newTestHandler(t)
	handler.Ingest = &recordingIngester{}

	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(jsonRequest(t, http.MethodPost, "/api/videos", map[string]string{"title": "x"}), createUser(t, repo, "alice")))
	expectMessage(t, rec, http.StatusBadRequest, "invalid multipart payload")
}

func TestUploadVideoDisabledWithoutPipeline(t *testing.T) {
	handler, repo := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.UploadVideo(rec, asUser(multipartRequest(t, formPart{field: "title", content: "x"}), createUser(t, repo, "alice")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
