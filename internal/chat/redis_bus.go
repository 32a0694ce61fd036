package chat

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisBusConfig configures the Redis Pub/Sub bus.
type RedisBusConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Channel      string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

const defaultRedisChannel = "streamhub:chat"

// NewRedisBus connects to Redis and returns a bus publishing on a single
// Pub/Sub channel. Envelopes published while an instance is disconnected are
// not replayed.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (Bus, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = defaultRedisChannel
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	tlsConfig, err := BuildRedisTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &redisBus{client: client, channel: channel, logger: logger, buffer: cfg.Buffer}, nil
}

type redisBus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	buffer  int
}

func (b *redisBus) Publish(ctx context.Context, env Envelope) error {
	if env.Event == "" {
		return errMissingEvent
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *redisBus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so publishes issued after
	// Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		bus:    b,
		pubsub: pubsub,
		cancel: cancel,
		ch:     make(chan Envelope, b.buffer),
	}
	go sub.run(runCtx)
	return sub, nil
}

func (b *redisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	bus    *redisBus
	pubsub *redis.PubSub
	cancel context.CancelFunc

	once sync.Once
	ch   chan Envelope
}

func (s *redisSubscription) Events() <-chan Envelope {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			s.bus.logger.Warn("redis pubsub close failed", "error", err)
		}
	})
}

// run owns s.ch and closes it on exit.
func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	messages := s.pubsub.Channel(redis.WithChannelSize(s.bus.buffer))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.bus.logger.Error("redis bus decode failed", "error", err)
				continue
			}
			select {
			case s.ch <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

// BuildRedisTLSConfig returns nil when no TLS option is set.
func BuildRedisTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify && cfg.ServerName == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS12}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
