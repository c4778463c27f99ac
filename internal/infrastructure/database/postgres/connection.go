package postgres

import (
	"booklend/internal/config"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns          = 10
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = 5 * time.Second
	applicationName          = "booklend"
)

var newPoolWithConfig = pgxpool.NewWithConfig

// NewConnectionPool opens the pool and pings once, so a bad URL or unreachable server fails startup.
func NewConnectionPool(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is empty in configuration")
	}

	poolConfig, err := configurePool(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to PostgreSQL database...",
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns,
		"health_check_period", poolConfig.HealthCheckPeriod,
	)
	dbpool, err := newPoolWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pingPool(ctx, dbpool, connectTimeout(cfg), logger); err != nil {
		dbpool.Close()
		return nil, err
	}

	logger.Info("Connected to PostgreSQL", "host", poolConfig.ConnConfig.Host, "db", poolConfig.ConnConfig.Database)
	return dbpool, nil
}

func configurePool(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config from URL: %w", err)
	}

	poolConfig.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = min(cfg.MinConns, poolConfig.MaxConns)
	}

	poolConfig.MaxConnIdleTime = durationOr(cfg.MaxConnIdleTime, defaultMaxConnIdleTime)
	poolConfig.HealthCheckPeriod = durationOr(cfg.HealthCheckPeriod, defaultHealthCheckPeriod)
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout(cfg)

	// Loan dates are civil UTC dates scanned from DATE columns; a UTC session keeps them unshifted.
	params := poolConfig.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = applicationName
	}
	if _, ok := params["timezone"]; !ok {
		params["timezone"] = "UTC"
	}

	return poolConfig, nil
}

func connectTimeout(cfg config.DatabaseConfig) time.Duration {
	return durationOr(cfg.ConnectTimeout, defaultConnectTimeout)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func pingPool(ctx context.Context, dbpool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := dbpool.Ping(pingCtx); err != nil {
		logger.Error("Failed to ping database", "error", err, "timeout", timeout)
		return fmt.Errorf("failed to ping database on connect: %w", err)
	}
	return nil
}
