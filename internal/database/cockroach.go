package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CockroachConfig holds CockroachDB connection configuration
type CockroachConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// ConnString builds the pgx connection string
func (c *CockroachConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// CockroachDB wraps the pgxpool.Pool
type CockroachDB struct {
	Pool *pgxpool.Pool
}

// NewCockroachDB creates a new connection pool with configured limits
func NewCockroachDB(ctx context.Context, cfg *CockroachConfig) (*CockroachDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	return &CockroachDB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *CockroachDB) Close() {
	db.Pool.Close()
}

// Ping verifies the pool can reach the database
func (db *CockroachDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
