package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"streamhub/internal/models"
)

const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 5000
)

// MediaAsset is an uploaded file spooled to local disk. The pipeline owns the
// file for the duration of one Ingest call and removes it afterwards.
type MediaAsset struct {
	Path         string
	OriginalName string
	ContentType  string
	Size         int64
}

// Ext returns the lower-cased extension of the original file name.
func (a *MediaAsset) Ext() string {
	if a == nil {
		return ""
	}
	return strings.ToLower(filepath.Ext(a.OriginalName))
}

func (a *MediaAsset) remove() error {
	if a == nil || strings.TrimSpace(a.Path) == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type Request struct {
	Video       *MediaAsset
	Thumbnail   *MediaAsset
	Title       string
	Description string
	Creator     models.User
}

func (r Request) normalize() (Request, error) {
	if r.Video == nil || strings.TrimSpace(r.Video.Path) == "" {
		return r, invalid("video", ErrMissingVideo)
	}
	if r.Thumbnail == nil || strings.TrimSpace(r.Thumbnail.Path) == "" {
		return r, invalid("thumbnail", ErrMissingThumbnail)
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	if r.Title == "" {
		return r, invalid("title", ErrMissingTitle)
	}
	if utf8.RuneCountInString(r.Title) > maxTitleRunes {
		return r, invalid("title", ErrTitleTooLong)
	}
	if utf8.RuneCountInString(r.Description) > maxDescriptionRunes {
		return r, invalid("description", ErrDescriptionTooLong)
	}
	if strings.TrimSpace(r.Creator.ID) == "" {
		return r, invalid("creator", ErrMissingCreator)
	}
	return r, nil
}

// Cleanup removes both spooled files. Safe to call more than once.
func (r Request) Cleanup() error {
	return errors.Join(r.Video.remove(), r.Thumbnail.remove())
}
