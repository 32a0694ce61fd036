package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamhub/internal/assets"
	"streamhub/internal/auth"
	"streamhub/internal/chat"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/storage"
)

type closeFunc func(context.Context) error

type datastoreSettings struct {
	Driver         string
	DataPath       string
	PostgresDSN    string
	MongoURI       string
	MongoDatabase  string
	MaxConns       int
	MinConns       int
	ConnLifetime   time.Duration
	ConnIdle       time.Duration
	HealthInterval time.Duration
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	AppName        string
}

func openRepository(ctx context.Context, cfg datastoreSettings, logger *slog.Logger) (storage.Repository, error) {
	options := []storage.Option{storage.WithLogger(logging.WithComponent(logger, "storage"))}
	switch cfg.Driver {
	case "json":
		return storage.NewJSONRepository(firstNonEmpty(cfg.DataPath, defaultDataPath), options...)
	case "postgres":
		if cfg.MaxConns > 0 || cfg.MinConns > 0 {
			options = append(options, storage.WithPoolLimits(int32(cfg.MaxConns), int32(cfg.MinConns)))
		}
		if cfg.ConnLifetime > 0 || cfg.ConnIdle > 0 || cfg.HealthInterval > 0 {
			options = append(options, storage.WithConnLifetimes(cfg.ConnLifetime, cfg.ConnIdle, cfg.HealthInterval))
		}
		if cfg.ConnectTimeout > 0 {
			options = append(options, storage.WithConnectTimeout(cfg.ConnectTimeout))
		}
		if cfg.AppName != "" {
			options = append(options, storage.WithApplicationName(cfg.AppName))
		}
		return storage.NewPostgresRepository(ctx, cfg.PostgresDSN, options...)
	case "mongo":
		if cfg.OpTimeout > 0 {
			options = append(options, storage.WithOperationTimeout(cfg.OpTimeout))
		}
		return storage.NewMongoRepository(ctx, cfg.MongoURI, firstNonEmpty(cfg.MongoDatabase, defaultMongoDB), options...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// openSessionStore returns the store plus a closer; the closer is nil when
// the store borrows the catalog's pool.
func openSessionStore(ctx context.Context, cfg sessionStoreConfig, repo storage.Repository) (auth.SessionStore, closeFunc, error) {
	switch cfg.Driver {
	case "memory":
		return auth.NewMemorySessionStore(), nil, nil
	case "postgres":
		if pg, ok := repo.(*storage.PostgresRepository); ok && cfg.Shared {
			store, err := auth.NewPostgresSessionStoreFromPool(ctx, pg.Pool())
			if err != nil {
				return nil, nil, err
			}
			return store, nil, nil
		}
		store, err := auth.NewPostgresSessionStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver %q", cfg.Driver)
	}
}

type assetSettings struct {
	Driver  string
	Root    string
	BaseURL string
	S3      assets.S3Config
}

// openAssetStore builds the asset backend. The returned handler is non-nil for
// the local backend and serves its files under /media.
func openAssetStore(ctx context.Context, cfg assetSettings, recorder *metrics.Recorder, logger *slog.Logger) (assets.Store, http.Handler, error) {
	assetLogger := logging.WithComponent(logger, "assets")
	switch cfg.Driver {
	case "local":
		local, err := assets.NewLocalStore(firstNonEmpty(cfg.Root, defaultAssetRoot), cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return assets.Instrument(local, recorder, assetLogger), local.Handler(), nil
	case "s3":
		s3Store, err := assets.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return assets.Instrument(s3Store, recorder, assetLogger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported asset driver %q", cfg.Driver)
	}
}

func configureChatBus(ctx context.Context, driver string, cfg chat.RedisBusConfig, logger *slog.Logger) (chat.Bus, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for chat bus")
		}
		cfg.Logger = logging.WithComponent(logger, "chat-bus")
		return chat.NewRedisBus(ctx, cfg)
	case "", "memory":
		return chat.NewMemoryBus(128), nil
	default:
		return nil, fmt.Errorf("unsupported chat bus driver %q", driver)
	}
}
