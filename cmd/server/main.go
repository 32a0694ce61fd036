// Command server starts the StreamHub API and realtime service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamhub/internal/api"
	"streamhub/internal/auth"
	"streamhub/internal/chat"
	"streamhub/internal/config"
	"streamhub/internal/ingest"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/server"
	"streamhub/internal/serverutil"
	"streamhub/internal/transcode"
)

var version = "dev"

type cliFlags struct {
	addr                string
	mode                string
	logLevel            string
	logFormat           string
	tlsCert             string
	tlsKey              string
	corsOrigins         string
	maxUpload           int64
	sessionTTL          time.Duration
	purgeEvery          time.Duration
	sweepEvery          time.Duration
	storage             datastoreSettings
	sessionStore        string
	sessionDSN          string
	assets              assetSettings
	s3PathStyle         bool
	chatBus             string
	chatRedis           chat.RedisBusConfig
	chatRedisSkipVerify bool
	rate                server.RateLimitConfig
	trustedProxy        string
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address (defaults to :$PORT)")
	fs.StringVar(&f.mode, "mode", "", "runtime mode (development or production)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&f.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&f.corsOrigins, "cors-origins", "", "comma separated origins allowed by CORS and the websocket upgrader")
	fs.Int64Var(&f.maxUpload, "max-upload-bytes", 0, "maximum multipart upload size in bytes")
	fs.DurationVar(&f.sessionTTL, "session-ttl", 0, "lifetime of issued session tokens")
	fs.DurationVar(&f.purgeEvery, "session-purge-interval", 0, "interval between expired session purges")
	fs.DurationVar(&f.sweepEvery, "work-dir-sweep-interval", 0, "interval between stale work dir sweeps")

	fs.StringVar(&f.storage.Driver, "storage-driver", "", "catalog driver (json, postgres or mongo)")
	fs.StringVar(&f.storage.DataPath, "data", "", "path to the JSON catalog file")
	fs.StringVar(&f.storage.PostgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.IntVar(&f.storage.MaxConns, "postgres-max-conns", 0, "maximum connections in the Postgres pool")
	fs.IntVar(&f.storage.MinConns, "postgres-min-conns", 0, "minimum idle connections in the Postgres pool")
	fs.DurationVar(&f.storage.ConnLifetime, "postgres-max-conn-lifetime", 0, "maximum lifetime of a pooled Postgres connection")
	fs.DurationVar(&f.storage.ConnIdle, "postgres-max-conn-idle", 0, "maximum idle time of a pooled Postgres connection")
	fs.DurationVar(&f.storage.HealthInterval, "postgres-health-interval", 0, "interval between Postgres pool health checks")
	fs.DurationVar(&f.storage.ConnectTimeout, "postgres-connect-timeout", 0, "timeout when dialling Postgres")
	fs.StringVar(&f.storage.AppName, "postgres-app-name", "", "application_name reported to Postgres")
	fs.StringVar(&f.storage.MongoURI, "mongo-uri", "", "MongoDB connection string")
	fs.StringVar(&f.storage.MongoDatabase, "mongo-database", "", "MongoDB database name")
	fs.DurationVar(&f.storage.OpTimeout, "mongo-op-timeout", 0, "timeout for a single MongoDB operation")
	fs.StringVar(&f.sessionStore, "session-store", "", "session store driver (memory or postgres)")
	fs.StringVar(&f.sessionDSN, "session-postgres-dsn", "", "Postgres DSN for the session store")

	fs.StringVar(&f.assets.Driver, "asset-driver", "", "asset store driver (local or s3)")
	fs.StringVar(&f.assets.Root, "asset-root", "", "directory for the local asset store")
	fs.StringVar(&f.assets.BaseURL, "asset-base-url", "", "public base URL of locally stored assets")
	fs.StringVar(&f.assets.S3.Bucket, "s3-bucket", "", "S3 bucket for published assets")
	fs.StringVar(&f.assets.S3.Region, "s3-region", "", "S3 region")
	fs.StringVar(&f.assets.S3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint (e.g. http://127.0.0.1:9000)")
	fs.StringVar(&f.assets.S3.AccessKeyID, "s3-access-key", "", "S3 access key")
	fs.StringVar(&f.assets.S3.SecretAccessKey, "s3-secret-key", "", "S3 secret key")
	fs.StringVar(&f.assets.S3.Prefix, "s3-prefix", "", "key prefix for published assets")
	fs.StringVar(&f.assets.S3.PublicBaseURL, "s3-public-url", "", "public base URL used in asset links")
	fs.BoolVar(&f.s3PathStyle, "s3-path-style", false, "use path-style S3 addressing")

	fs.StringVar(&f.chatBus, "chat-bus", "", "chat bus driver (memory or redis)")
	fs.StringVar(&f.chatRedis.Addr, "chat-redis-addr", "", "Redis address for the chat bus")
	fs.StringVar(&f.chatRedis.Username, "chat-redis-username", "", "Redis username for the chat bus")
	fs.StringVar(&f.chatRedis.Password, "chat-redis-password", "", "Redis password for the chat bus")
	fs.StringVar(&f.chatRedis.Channel, "chat-redis-channel", "", "Redis Pub/Sub channel for the chat bus")
	fs.StringVar(&f.chatRedis.MasterName, "chat-redis-sentinel-master", "", "Redis sentinel master name for the chat bus")
	fs.StringVar(&f.chatRedis.TLS.CAFile, "chat-redis-tls-ca", "", "Redis TLS CA certificate for the chat bus")
	fs.BoolVar(&f.chatRedisSkipVerify, "chat-redis-tls-skip-verify", false, "skip Redis TLS verification for the chat bus")

	fs.Float64Var(&f.rate.GlobalRPS, "rate-global-rps", 0, "global request rate limit in requests per second")
	fs.IntVar(&f.rate.GlobalBurst, "rate-global-burst", 0, "global rate limit burst allowance")
	fs.IntVar(&f.rate.LoginLimit, "rate-login-limit", 0, "maximum login attempts per window for a single IP")
	fs.DurationVar(&f.rate.LoginWindow, "rate-login-window", 0, "window for counting login attempts")
	fs.BoolVar(&f.rate.TrustForwardedHeaders, "rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	fs.StringVar(&f.trustedProxy, "rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	fs.StringVar(&f.rate.RedisAddr, "rate-redis-addr", "", "Redis address for shared login throttling")
	fs.StringVar(&f.rate.RedisPassword, "rate-redis-password", "", "Redis password for shared login throttling")
	fs.DurationVar(&f.rate.RedisTimeout, "rate-redis-timeout", 0, "timeout for Redis rate limit operations")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// settings is the flag set merged with the environment.
type settings struct {
	addr        string
	mode        string
	tls         server.TLSConfig
	corsOrigins []string
	maxUpload   int64
	sessionTTL  time.Duration
	purgeEvery  time.Duration
	sweepEvery  time.Duration
	storage     datastoreSettings
	sessions    sessionStoreConfig
	assets      assetSettings
	chatBus     string
	chatRedis   chat.RedisBusConfig
	rate        server.RateLimitConfig
}

func resolveSettings(f cliFlags) (settings, error) {
	s := settings{
		mode: modeValue(f.mode, config.GetEnv("", "STREAMHUB_MODE")),
		tls: server.TLSConfig{
			CertFile: resolveString(f.tlsCert, "STREAMHUB_TLS_CERT"),
			KeyFile:  resolveString(f.tlsKey, "STREAMHUB_TLS_KEY"),
		},
		corsOrigins: resolveList(f.corsOrigins, defaultCORSOrigins, "STREAMHUB_CORS_ORIGINS"),
		maxUpload:   resolveInt64(f.maxUpload, "STREAMHUB_MAX_UPLOAD_BYTES"),
		sessionTTL:  resolveDuration(f.sessionTTL, defaultSessionTTL, "STREAMHUB_SESSION_TTL"),
		purgeEvery:  resolveDuration(f.purgeEvery, 15*time.Minute, "STREAMHUB_SESSION_PURGE_INTERVAL"),
		sweepEvery:  resolveDuration(f.sweepEvery, time.Hour, "STREAMHUB_WORK_DIR_SWEEP_INTERVAL"),
		chatBus:     resolveString(f.chatBus, "STREAMHUB_CHAT_BUS"),
	}
	s.addr = resolveListenAddr(f.addr, config.GetEnv("", "STREAMHUB_ADDR"), config.GetEnv("", "STREAMHUB_PORT", "PORT"))

	s.storage = f.storage
	s.storage.DataPath = resolveString(f.storage.DataPath, "STREAMHUB_DATA")
	s.storage.PostgresDSN = resolveString(f.storage.PostgresDSN, "STREAMHUB_POSTGRES_DSN", "DATABASE_URL")
	s.storage.MongoURI = resolveString(f.storage.MongoURI, "STREAMHUB_MONGO_URI", "MONGODB_URI")
	s.storage.MongoDatabase = resolveString(f.storage.MongoDatabase, "STREAMHUB_MONGO_DATABASE")
	s.storage.MaxConns = resolveInt(f.storage.MaxConns, "STREAMHUB_POSTGRES_MAX_CONNS")
	s.storage.MinConns = resolveInt(f.storage.MinConns, "STREAMHUB_POSTGRES_MIN_CONNS")
	s.storage.ConnLifetime = resolveDuration(f.storage.ConnLifetime, 0, "STREAMHUB_POSTGRES_MAX_CONN_LIFETIME")
	s.storage.ConnIdle = resolveDuration(f.storage.ConnIdle, 0, "STREAMHUB_POSTGRES_MAX_CONN_IDLE")
	s.storage.HealthInterval = resolveDuration(f.storage.HealthInterval, 0, "STREAMHUB_POSTGRES_HEALTH_INTERVAL")
	s.storage.ConnectTimeout = resolveDuration(f.storage.ConnectTimeout, 0, "STREAMHUB_POSTGRES_CONNECT_TIMEOUT")
	s.storage.AppName = resolveString(f.storage.AppName, "STREAMHUB_POSTGRES_APP_NAME")
	s.storage.OpTimeout = resolveDuration(f.storage.OpTimeout, 0, "STREAMHUB_MONGO_OP_TIMEOUT")
	driver, err := resolveStorageDriver(f.storage.Driver, config.GetEnv("", "STREAMHUB_STORAGE_DRIVER"), s.storage.PostgresDSN, s.storage.MongoURI)
	if err != nil {
		return settings{}, err
	}
	s.storage.Driver = driver
	if s.mode == "production" {
		if err := validateProductionDatastore(driver); err != nil {
			return settings{}, err
		}
	}

	s.sessions, err = resolveSessionStoreConfig(
		f.sessionStore,
		config.GetEnv("", "STREAMHUB_SESSION_STORE"),
		driver,
		s.storage.PostgresDSN,
		resolveString(f.sessionDSN, "STREAMHUB_SESSION_POSTGRES_DSN"),
	)
	if err != nil {
		return settings{}, err
	}

	s.assets = f.assets
	s.assets.Root = resolveString(f.assets.Root, "STREAMHUB_ASSET_ROOT")
	s.assets.BaseURL = resolveString(f.assets.BaseURL, "STREAMHUB_ASSET_BASE_URL")
	s.assets.S3.Bucket = resolveString(f.assets.S3.Bucket, "STREAMHUB_S3_BUCKET")
	s.assets.S3.Region = resolveString(f.assets.S3.Region, "STREAMHUB_S3_REGION", "AWS_REGION")
	s.assets.S3.Endpoint = resolveString(f.assets.S3.Endpoint, "STREAMHUB_S3_ENDPOINT")
	s.assets.S3.AccessKeyID = resolveString(f.assets.S3.AccessKeyID, "STREAMHUB_S3_ACCESS_KEY")
	s.assets.S3.SecretAccessKey = resolveString(f.assets.S3.SecretAccessKey, "STREAMHUB_S3_SECRET_KEY")
	s.assets.S3.Prefix = resolveString(f.assets.S3.Prefix, "STREAMHUB_S3_PREFIX")
	s.assets.S3.PublicBaseURL = resolveString(f.assets.S3.PublicBaseURL, "STREAMHUB_S3_PUBLIC_URL")
	s.assets.S3.UsePathStyle = resolveBool(f.s3PathStyle, "STREAMHUB_S3_PATH_STYLE")
	s.assets.Driver, err = resolveAssetDriver(f.assets.Driver, config.GetEnv("", "STREAMHUB_ASSET_DRIVER"), s.assets.S3.Bucket)
	if err != nil {
		return settings{}, err
	}

	s.chatRedis = f.chatRedis
	s.chatRedis.Addr = resolveString(f.chatRedis.Addr, "STREAMHUB_CHAT_REDIS_ADDR")
	s.chatRedis.Username = resolveString(f.chatRedis.Username, "STREAMHUB_CHAT_REDIS_USERNAME")
	s.chatRedis.Password = resolveString(f.chatRedis.Password, "STREAMHUB_CHAT_REDIS_PASSWORD")
	s.chatRedis.Channel = resolveString(f.chatRedis.Channel, "STREAMHUB_CHAT_REDIS_CHANNEL")
	s.chatRedis.MasterName = resolveString(f.chatRedis.MasterName, "STREAMHUB_CHAT_REDIS_SENTINEL_MASTER")
	s.chatRedis.TLS.CAFile = resolveString(f.chatRedis.TLS.CAFile, "STREAMHUB_CHAT_REDIS_TLS_CA")
	s.chatRedis.TLS.InsecureSkipVerify = resolveBool(f.chatRedisSkipVerify, "STREAMHUB_CHAT_REDIS_TLS_SKIP_VERIFY")

	s.rate = f.rate
	s.rate.GlobalRPS = resolveFloat(f.rate.GlobalRPS, "STREAMHUB_RATE_GLOBAL_RPS")
	s.rate.GlobalBurst = resolveInt(f.rate.GlobalBurst, "STREAMHUB_RATE_GLOBAL_BURST")
	s.rate.LoginLimit = resolveInt(f.rate.LoginLimit, "STREAMHUB_RATE_LOGIN_LIMIT")
	s.rate.LoginWindow = resolveDuration(f.rate.LoginWindow, time.Minute, "STREAMHUB_RATE_LOGIN_WINDOW")
	s.rate.TrustForwardedHeaders = resolveBool(f.rate.TrustForwardedHeaders, "STREAMHUB_RATE_TRUST_FORWARDED_HEADERS")
	s.rate.TrustedProxies = resolveList(f.trustedProxy, nil, "STREAMHUB_RATE_TRUSTED_PROXIES")
	s.rate.RedisAddr = resolveString(f.rate.RedisAddr, "STREAMHUB_RATE_REDIS_ADDR")
	s.rate.RedisPassword = resolveString(f.rate.RedisPassword, "STREAMHUB_RATE_REDIS_PASSWORD")
	s.rate.RedisTimeout = resolveDuration(f.rate.RedisTimeout, 2*time.Second, "STREAMHUB_RATE_REDIS_TIMEOUT")
	return s, nil
}

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	logger := logging.Init(logging.Config{
		Level:  resolveString(flags.logLevel, "STREAMHUB_LOG_LEVEL"),
		Format: resolveString(flags.logFormat, "STREAMHUB_LOG_FORMAT"),
	})

	cfg, err := resolveSettings(flags)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg settings, logger *slog.Logger) error {
	recorder := metrics.New()
	metrics.SetDefault(recorder)

	ingestCfg, err := ingest.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load ingest configuration: %w", err)
	}
	if err := os.MkdirAll(ingestCfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	repo, err := openRepository(ctx, cfg.storage, logger)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	var closers []namedCloser
	closers = append(closers, namedCloser{"datastore", repo.Close})
	defer func() { closeAll(closers, logger) }()

	sessionStore, closeSessions, err := openSessionStore(ctx, cfg.sessions, repo)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if closeSessions != nil {
		closers = append(closers, namedCloser{"session store", closeSessions})
	}
	sessions := auth.NewSessionManager(cfg.sessionTTL, auth.WithStore(sessionStore))

	assetStore, media, err := openAssetStore(ctx, cfg.assets, recorder, logger)
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}

	pipeline, err := ingest.NewPipeline(ingestCfg, ingest.Deps{
		Transcoder: transcode.NewFFmpeg(ingestCfg.FFmpegPath, logger),
		Assets:     assetStore,
		Catalog:    repo,
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		return fmt.Errorf("configure ingest pipeline: %w", err)
	}

	bus, err := configureChatBus(ctx, cfg.chatBus, cfg.chatRedis, logger)
	if err != nil {
		return fmt.Errorf("configure chat bus: %w", err)
	}
	closers = append(closers, namedCloser{"chat bus", func(context.Context) error { return bus.Close() }})
	hub := chat.NewHub(chat.HubConfig{
		Bus:            bus,
		Access:         chat.ParticipantAccess(repo),
		Logger:         logger,
		Metrics:        recorder,
		AllowedOrigins: cfg.corsOrigins,
	})

	handler := api.NewHandler(repo, sessions)
	handler.Ingest = pipeline
	handler.Hub = hub
	handler.Assets = assetStore
	handler.Logger = logger
	handler.UploadDir = ingestCfg.WorkDir
	handler.MaxUploadBytes = cfg.maxUpload
	handler.Version = version
	if cfg.mode == "production" {
		handler.SessionCookiePolicy.SecureMode = api.SessionCookieSecureAlways
	}

	srv, err := server.New(handler, server.Config{
		Addr:      cfg.addr,
		TLS:       cfg.tls,
		RateLimit: cfg.rate,
		CORS:      server.CORSConfig{AllowedOrigins: cfg.corsOrigins},
		Logger:    logger,
		Metrics:   recorder,
		Media:     media,
	})
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}
	closers = append(closers, namedCloser{"rate limiter", func(context.Context) error { return srv.Close() }})

	logger.Info("StreamHub API listening",
		"addr", cfg.addr,
		"mode", cfg.mode,
		"storage", cfg.storage.Driver,
		"sessions", cfg.sessions.Driver,
		"assets", cfg.assets.Driver,
		"tls", cfg.tls.CertFile != "",
	)
	return serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: cfg.tls.CertFile, KeyFile: cfg.tls.KeyFile},
		ShutdownTimeout: 10 * time.Second,
		Logger:          logger,
		Tasks:           backgroundTasks(cfg, ingestCfg, hub, sessions, logger),
	})
}

type sessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func backgroundTasks(cfg settings, ingestCfg ingest.Config, hub *chat.Hub, sessions sessionPurger, logger *slog.Logger) []serverutil.Task {
	purgeLogger := logging.WithComponent(logger, "session-purger")
	sweepLogger := logging.WithComponent(logger, "work-dir-sweeper")
	return []serverutil.Task{
		{Name: "chat hub", Run: hub.Run},
		serverutil.Periodic("session purge", cfg.purgeEvery, purgeLogger, func(ctx context.Context) error {
			removed, err := sessions.PurgeExpired(ctx)
			if removed > 0 {
				purgeLogger.Info("purged expired sessions", "count", removed)
			}
			return err
		}),
		serverutil.Periodic("work dir sweep", cfg.sweepEvery, sweepLogger, func(context.Context) error {
			removed, err := ingest.SweepStale(ingestCfg.WorkDir, ingestCfg.SweepAge)
			if removed > 0 {
				sweepLogger.Info("removed stale ingest leftovers", "count", removed, "dir", ingestCfg.WorkDir)
			}
			return err
		}),
	}
}

type namedCloser struct {
	name  string
	close closeFunc
}

// closeAll releases resources in reverse order of acquisition.
func closeAll(closers []namedCloser, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(ctx); err != nil {
			logger.Warn("failed to close resource", "resource", closers[i].name, "error", err)
		}
	}
}
