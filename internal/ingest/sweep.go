package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SpoolPrefix names the temp files the upload handler spools multipart parts
// into.
const SpoolPrefix = "pending-upload-"

// SweepStale removes ingest working directories and spooled uploads in dir
// whose modification time is older than olderThan. It returns the number of
// entries removed.
func SweepStale(dir string, olderThan time.Duration) (int, error) {
	return sweepStale(dir, olderThan, time.Now())
}

func sweepStale(dir string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-olderThan)
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, workDirPrefix) && !strings.HasPrefix(name, SpoolPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
