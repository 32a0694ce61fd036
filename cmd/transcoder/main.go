// Command transcoder converts a local video into an HLS rendition with the
// same ffmpeg settings the ingest pipeline uses, optionally publishing the
// result into a local asset directory. With -inspect it only validates an
// existing manifest.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"streamhub/internal/assets"
	"streamhub/internal/config"
	"streamhub/internal/observability/logging"
	"streamhub/internal/transcode"
)

type options struct {
	input       string
	output      string
	inspect     string
	ffmpeg      string
	timeout     time.Duration
	publishRoot string
	publishKey  string
}

type report struct {
	Manifest string   `json:"manifest"`
	Segments []string `json:"segments"`
	Objects  []string `json:"objects,omitempty"`
	Elapsed  string   `json:"elapsed,omitempty"`
}

func main() {
	_ = config.Load()
	var opts options
	fs := flag.NewFlagSet("transcoder", flag.ExitOnError)
	fs.StringVar(&opts.input, "input", "", "source video file")
	fs.StringVar(&opts.output, "output", "", "directory receiving index.m3u8 and its segments")
	fs.StringVar(&opts.inspect, "inspect", "", "validate an existing manifest instead of transcoding")
	fs.StringVar(&opts.ffmpeg, "ffmpeg", config.GetEnv("ffmpeg", "STREAMHUB_FFMPEG_PATH", "FFMPEG_PATH"), "ffmpeg binary")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "abort the transcode after this long (0 disables)")
	fs.StringVar(&opts.publishRoot, "publish-root", "", "copy the rendition into this local asset root")
	fs.StringVar(&opts.publishKey, "publish-prefix", "videos/local", "key prefix used when publishing")
	logLevel := fs.String("log-level", config.GetEnv("info", "STREAMHUB_LOG_LEVEL"), "log level")
	_ = fs.Parse(os.Args[1:])

	logger := logging.New(logging.Config{Level: *logLevel, Format: "text", Writer: os.Stderr})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, transcode.NewFFmpeg(opts.ffmpeg, logger), os.Stdout); err != nil {
		logger.Error("transcode failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, transcoder transcode.Transcoder, out io.Writer) error {
	var (
		set     transcode.SegmentSet
		err     error
		elapsed time.Duration
	)
	if opts.inspect != "" {
		set, err = transcode.LoadSegmentSet(filepath.Dir(opts.inspect), filepath.Base(opts.inspect))
		if err != nil {
			return err
		}
	} else {
		if strings.TrimSpace(opts.input) == "" || strings.TrimSpace(opts.output) == "" {
			return errors.New("-input and -output are required")
		}
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		start := time.Now()
		set, err = transcoder.Transcode(ctx, opts.input, opts.output)
		if err != nil {
			return err
		}
		elapsed = time.Since(start)
	}

	rep := report{Manifest: set.ManifestPath(), Segments: set.Segments}
	if elapsed > 0 {
		rep.Elapsed = elapsed.Round(time.Millisecond).String()
	}
	if opts.publishRoot != "" {
		objects, err := publish(ctx, opts.publishRoot, opts.publishKey, set)
		if err != nil {
			return err
		}
		rep.Objects = objects
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}

// publish copies the segments and then the manifest into a local asset store.
func publish(ctx context.Context, root, prefix string, set transcode.SegmentSet) ([]string, error) {
	store, err := assets.NewLocalStore(root, "")
	if err != nil {
		return nil, err
	}
	files := append(append([]string(nil), set.Segments...), set.Manifest)
	urls := make([]string, 0, len(files))
	for _, name := range files {
		url, err := putFile(ctx, store, path.Join(prefix, name), filepath.Join(set.Dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", name, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func putFile(ctx context.Context, store assets.Store, key, local string) (string, error) {
	file, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	obj, err := store.Put(ctx, key, assets.ContentTypeFor(local), file, info.Size())
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}
