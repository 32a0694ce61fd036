package main

import (
	"fmt"
	"strings"
	"time"

	"streamhub/internal/config"
)

const (
	defaultPort       = "5000"
	defaultDataPath   = "data/store.json"
	defaultMongoDB    = "streamhub"
	defaultAssetRoot  = "data/media"
	defaultSessionTTL = 7 * 24 * time.Hour
)

var defaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:5174"}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// The resolve helpers give a set flag precedence over the environment keys,
// which are consulted in order.

func resolveString(flagValue string, keys ...string) string {
	return firstNonEmpty(flagValue, config.GetEnv("", keys...))
}

func resolveInt(flagValue int, keys ...string) int {
	if flagValue > 0 {
		return flagValue
	}
	return config.GetEnvInt(0, keys...)
}

func resolveInt64(flagValue int64, keys ...string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	return config.GetEnvInt64(0, keys...)
}

func resolveFloat(flagValue float64, keys ...string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	return config.GetEnvFloat(0, keys...)
}

func resolveDuration(flagValue time.Duration, fallback time.Duration, keys ...string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return config.GetEnvDuration(fallback, keys...)
}

func resolveBool(flagValue bool, keys ...string) bool {
	if flagValue {
		return true
	}
	return config.GetEnvBool(false, keys...)
}

func resolveList(flagValue string, fallback []string, keys ...string) []string {
	if list := splitAndTrim(flagValue); len(list) > 0 {
		return list
	}
	return config.GetEnvList(fallback, keys...)
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(firstNonEmpty(flagMode, envMode))
	if mode == "" {
		mode = "development"
	}
	return mode
}

// resolveListenAddr accepts a full address, or falls back to ":" + port.
func resolveListenAddr(flagAddr, envAddr, port string) string {
	if addr := firstNonEmpty(flagAddr, envAddr); addr != "" {
		return addr
	}
	return ":" + firstNonEmpty(port, defaultPort)
}

// resolveStorageDriver picks the catalog backend. An explicit driver wins;
// otherwise a Postgres DSN selects postgres, a Mongo URI selects mongo, and
// the JSON file store is the development fallback.
func resolveStorageDriver(flagValue, envValue, postgresDSN, mongoURI string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	if driver == "" {
		switch {
		case strings.TrimSpace(postgresDSN) != "":
			driver = "postgres"
		case strings.TrimSpace(mongoURI) != "":
			driver = "mongo"
		default:
			driver = "json"
		}
	}
	switch driver {
	case "json":
		return driver, nil
	case "postgres":
		if strings.TrimSpace(postgresDSN) == "" {
			return "", fmt.Errorf("postgres storage selected without DSN")
		}
		return driver, nil
	case "mongo", "mongodb":
		if strings.TrimSpace(mongoURI) == "" {
			return "", fmt.Errorf("mongo storage selected without URI")
		}
		return "mongo", nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func validateProductionDatastore(driver string) error {
	if driver == "json" {
		return fmt.Errorf("production mode requires the postgres or mongo datastore, got %q", driver)
	}
	return nil
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
	// Shared reports that the catalog's Postgres pool can be reused.
	Shared bool
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, sessionDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, envDriver))
	sessionDSN = strings.TrimSpace(sessionDSN)
	if driver == "" {
		switch {
		case sessionDSN != "", storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" || sessionDSN == strings.TrimSpace(storageDSN) {
			if storageDriver == "postgres" {
				return sessionStoreConfig{Driver: "postgres", DSN: storageDSN, Shared: true}, nil
			}
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveAssetDriver(flagValue, envValue, bucket string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	if driver == "" {
		if strings.TrimSpace(bucket) != "" {
			return "s3", nil
		}
		return "local", nil
	}
	switch driver {
	case "local", "s3":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported asset driver %q", driver)
	}
}
