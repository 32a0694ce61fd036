// Package config loads .env files and exposes typed environment lookups used
// by the command entrypoints.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the provided .env files into the process environment without
// overriding variables that are already set. A missing file is not an error;
// with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		existing = append(existing, path)
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnv returns the first non-empty value among the named variables, or
// fallback when none is set.
func GetEnv(fallback string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return fallback
}

// GetEnvInt behaves like GetEnv but parses the value as an integer. Invalid
// values fall back.
func GetEnvInt(fallback int, keys ...string) int {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvInt64 parses a 64-bit integer value.
func GetEnvInt64(fallback int64, keys ...string) int64 {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvFloat parses a floating point value.
func GetEnvFloat(fallback float64, keys ...string) float64 {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvDuration parses a Go duration string such as "30s" or "5m".
func GetEnvDuration(fallback time.Duration, keys ...string) time.Duration {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// GetEnvBool parses a boolean value using strconv.ParseBool.
func GetEnvBool(fallback bool, keys ...string) bool {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvList splits a comma separated value, dropping empty items.
func GetEnvList(fallback []string, keys ...string) []string {
	raw := GetEnv("", keys...)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
