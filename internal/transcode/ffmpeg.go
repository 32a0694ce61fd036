// Package transcode turns an uploaded video into an HLS segment set.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"streamhub/internal/observability/logging"
)

// ManifestName is the playlist file written into every output directory.
const ManifestName = "index.m3u8"

var ErrFFmpegFailed = errors.New("ffmpeg failed")

// Transcoder converts input into HLS segments under outputDir.
type Transcoder interface {
	Transcode(ctx context.Context, input, outputDir string) (SegmentSet, error)
}

// FFmpeg runs the ffmpeg binary with a single baseline rendition.
type FFmpeg struct {
	Binary string
	Logger *slog.Logger
}

var _ Transcoder = (*FFmpeg)(nil)

func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{Binary: binary, Logger: logging.WithComponent(logger, "transcode")}
}

// Args builds the ffmpeg argument list: H.264 baseline level 3.0, 10 second
// segments, a complete (unbounded) VOD list and HLS muxing.
func Args(input, outputDir string) []string {
	return []string{
		"-y",
		"-i", input,
		"-profile:v", "baseline",
		"-level", "3.0",
		"-start_number", "0",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-f", "hls",
		filepath.Join(outputDir, ManifestName),
	}
}

func (f *FFmpeg) Transcode(ctx context.Context, input, outputDir string) (SegmentSet, error) {
	if strings.TrimSpace(input) == "" {
		return SegmentSet{}, fmt.Errorf("input is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return SegmentSet{}, fmt.Errorf("create output dir: %w", err)
	}
	logger := logging.WithContext(ctx, f.Logger)
	if logger == nil {
		logger = slog.Default()
	}

	stderr := newLineLogger(logger, "ffmpeg output")
	cmd := exec.CommandContext(ctx, f.Binary, Args(input, outputDir)...)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	logger.Debug("starting ffmpeg", "input", filepath.Base(input), "output_dir", outputDir)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SegmentSet{}, fmt.Errorf("%w: %w", ErrFFmpegFailed, ctxErr)
		}
		tail := stderr.Tail()
		if tail != "" {
			return SegmentSet{}, fmt.Errorf("%w: %v: %s", ErrFFmpegFailed, err, tail)
		}
		return SegmentSet{}, fmt.Errorf("%w: %v", ErrFFmpegFailed, err)
	}
	return LoadSegmentSet(outputDir, ManifestName)
}

const tailLines = 5

// lineLogger forwards process output to the structured logger one line at a
// time and remembers the last few lines for error reports.
type lineLogger struct {
	mu      sync.Mutex
	logger  *slog.Logger
	message string
	partial []byte
	tail    []string
}

func newLineLogger(logger *slog.Logger, message string) *lineLogger {
	return &lineLogger{logger: logger, message: message}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	data := append(w.partial, p...)
	for {
		idx := bytes.IndexAny(data, "\r\n")
		if idx == -1 {
			break
		}
		w.emit(data[:idx])
		data = data[idx+1:]
	}
	w.partial = append([]byte(nil), data...)
	return total, nil
}

func (w *lineLogger) emit(raw []byte) {
	line := string(bytes.TrimSpace(raw))
	if line == "" {
		return
	}
	w.logger.Debug(w.message, "line", line)
	w.tail = append(w.tail, line)
	if len(w.tail) > tailLines {
		w.tail = w.tail[len(w.tail)-tailLines:]
	}
}

// Tail flushes any unterminated line and returns the last lines joined.
func (w *lineLogger) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
	return strings.Join(w.tail, " | ")
}
