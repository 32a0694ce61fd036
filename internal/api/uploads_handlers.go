package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"streamhub/internal/ingest"
)

// maxFieldBytes bounds the text parts of an upload form.
const maxFieldBytes = 64 << 10

var errUploadTooLarge = errors.New("upload exceeds the size limit")

func (h *Handler) uploadDir() string {
	if dir := strings.TrimSpace(h.UploadDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// UploadVideo streams the multipart form to disk and hands the spooled parts
// to the ingestion pipeline. The request owns the spooled files until Ingest
// is called; afterwards the pipeline removes them.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Ingest == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Video uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	req, err := h.readUploadForm(r)
	if err != nil {
		_ = req.Cleanup()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errUploadTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Creator = user

	video, err := h.Ingest.Ingest(r.Context(), req)
	if err != nil {
		if ingest.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeInternalError(w, r, "Error uploading video", err)
		return
	}
	writeJSON(w, http.StatusCreated, video)
}

func (h *Handler) readUploadForm(r *http.Request) (ingest.Request, error) {
	var req ingest.Request
	reader, err := r.MultipartReader()
	if err != nil {
		return req, errors.New("invalid multipart payload")
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return req, fmt.Errorf("read multipart data: %w", err)
		}

		switch part.FormName() {
		case "video":
			if req.Video != nil {
				err = discardPart(part)
				break
			}
			req.Video, err = h.spoolPart(part)
		case "thumbnail":
			if req.Thumbnail != nil {
				err = discardPart(part)
				break
			}
			req.Thumbnail, err = h.spoolPart(part)
		case "title":
			req.Title, err = readField(part)
		case "description":
			req.Description, err = readField(part)
		default:
			err = discardPart(part)
		}
		if err != nil {
			return req, err
		}
	}
}

func (h *Handler) spoolPart(part *multipart.Part) (*ingest.MediaAsset, error) {
	defer part.Close()
	tmp, err := os.CreateTemp(h.uploadDir(), ingest.SpoolPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	written, copyErr := io.Copy(tmp, part)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &ingest.MediaAsset{
		Path:         tmp.Name(),
		OriginalName: part.FileName(),
		ContentType:  part.Header.Get("Content-Type"),
		Size:         written,
	}, nil
}

func readField(part *multipart.Part) (string, error) {
	defer part.Close()
	payload, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", err)
	}
	if len(payload) > maxFieldBytes {
		return "", fmt.Errorf("form field %s is too large", part.FormName())
	}
	return string(payload), nil
}

func discardPart(part *multipart.Part) error {
	defer part.Close()
	if _, err := io.Copy(io.Discard, part); err != nil {
		return fmt.Errorf("read multipart data: %w", err)
	}
	return nil
}
