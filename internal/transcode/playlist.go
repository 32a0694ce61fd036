package transcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPlaylist = errors.New("invalid playlist")
	ErrMissingSegment  = errors.New("segment missing")
)

// SegmentSet is the output of one transcode: a manifest plus the media
// segments it lists, in playback order. Paths are relative to Dir.
type SegmentSet struct {
	Dir      string
	Manifest string
	Segments []string
}

// ManifestPath returns the absolute path of the manifest.
func (s SegmentSet) ManifestPath() string {
	return filepath.Join(s.Dir, s.Manifest)
}

// ParsePlaylist returns the segment URIs of a media playlist in order. Tags
// and blank lines are skipped; the first line must be #EXTM3U.
func ParsePlaylist(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	segments := make([]string, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if strings.TrimPrefix(line, "\ufeff") != "#EXTM3U" {
				return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidPlaylist)
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if first {
		return nil, fmt.Errorf("%w: empty playlist", ErrInvalidPlaylist)
	}
	return segments, nil
}

// LoadSegmentSet parses manifest inside dir and checks that every listed
// segment is a local file within dir.
func LoadSegmentSet(dir, manifest string) (SegmentSet, error) {
	file, err := os.Open(filepath.Join(dir, manifest))
	if err != nil {
		return SegmentSet{}, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	uris, err := ParsePlaylist(file)
	if err != nil {
		return SegmentSet{}, err
	}
	if len(uris) == 0 {
		return SegmentSet{}, fmt.Errorf("%w: no segments", ErrInvalidPlaylist)
	}
	set := SegmentSet{Dir: dir, Manifest: manifest, Segments: make([]string, 0, len(uris))}
	for _, uri := range uris {
		if strings.Contains(uri, "://") || strings.HasPrefix(uri, "/") {
			return SegmentSet{}, fmt.Errorf("%w: segment %q is not relative", ErrInvalidPlaylist, uri)
		}
		cleaned := path.Clean(uri)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return SegmentSet{}, fmt.Errorf("%w: segment %q escapes the output dir", ErrInvalidPlaylist, uri)
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(cleaned)))
		if err != nil || !info.Mode().IsRegular() {
			return SegmentSet{}, fmt.Errorf("%w: %s", ErrMissingSegment, cleaned)
		}
		set.Segments = append(set.Segments, cleaned)
	}
	return set, nil
}
