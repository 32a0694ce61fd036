package storage

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newPostgresPoolConfig parses dsn and applies the pool tuning carried by
// opts. Zero values keep the pgxpool defaults.
func newPostgresPoolConfig(dsn string, cfg options) (*pgxpool.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.maxConnections > 0 {
		poolCfg.MaxConns = cfg.maxConnections
	}
	if cfg.minConnections > 0 {
		poolCfg.MinConns = cfg.minConnections
	}
	if cfg.maxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.maxConnLifetime
	}
	if cfg.maxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.maxConnIdleTime
	}
	if cfg.healthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.healthCheckInterval
	}
	if cfg.connectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.connectTimeout
	}
	if cfg.applicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.applicationName
	}
	return poolCfg, nil
}
