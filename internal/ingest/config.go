package ingest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxConcurrentTranscodes = 2
	defaultUploadConcurrency       = 4
	defaultTranscodeTimeout        = 30 * time.Minute
	defaultSweepAge                = 6 * time.Hour
)

// Config stores the tunables of the ingestion pipeline.
type Config struct {
	FFmpegPath              string
	WorkDir                 string
	MaxConcurrentTranscodes int
	UploadConcurrency       int
	// TranscodeTimeout bounds a single ffmpeg run. Zero disables the limit.
	TranscodeTimeout time.Duration
	// SweepAge is the minimum age of a leftover working directory or spooled
	// upload before SweepStale removes it.
	SweepAge time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:              "ffmpeg",
		WorkDir:                 os.TempDir(),
		MaxConcurrentTranscodes: defaultMaxConcurrentTranscodes,
		UploadConcurrency:       defaultUploadConcurrency,
		TranscodeTimeout:        defaultTranscodeTimeout,
		SweepAge:                defaultSweepAge,
	}
}

// LoadConfigFromEnv initialises a Config from environment variables, starting
// from DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if path := firstEnv("STREAMHUB_FFMPEG_PATH", "FFMPEG_PATH"); path != "" {
		cfg.FFmpegPath = path
	}
	if dir := firstEnv("STREAMHUB_WORK_DIR"); dir != "" {
		cfg.WorkDir = dir
	}

	if raw := firstEnv("STREAMHUB_MAX_CONCURRENT_TRANSCODES"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMHUB_MAX_CONCURRENT_TRANSCODES: %w", err)
		}
		cfg.MaxConcurrentTranscodes = parsed
	}

	if raw := firstEnv("STREAMHUB_UPLOAD_CONCURRENCY"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMHUB_UPLOAD_CONCURRENCY: %w", err)
		}
		cfg.UploadConcurrency = parsed
	}

	if raw := firstEnv("STREAMHUB_TRANSCODE_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMHUB_TRANSCODE_TIMEOUT: %w", err)
		}
		cfg.TranscodeTimeout = parsed
	}

	if raw := firstEnv("STREAMHUB_WORK_DIR_SWEEP_AGE"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMHUB_WORK_DIR_SWEEP_AGE: %w", err)
		}
		cfg.SweepAge = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.FFmpegPath) == "" {
		return errors.New("ffmpeg path is required")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		return errors.New("work dir is required")
	}
	if c.MaxConcurrentTranscodes <= 0 {
		return errors.New("max concurrent transcodes must be positive")
	}
	if c.UploadConcurrency <= 0 {
		return errors.New("upload concurrency must be positive")
	}
	if c.TranscodeTimeout < 0 {
		return errors.New("transcode timeout cannot be negative")
	}
	if c.SweepAge <= 0 {
		return errors.New("sweep age must be positive")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
