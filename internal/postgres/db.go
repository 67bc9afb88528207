// Package postgres implements the recurring billing repositories and the
// job queue on PostgreSQL using pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// DB wraps a pgxpool.Pool and provides access to all repositories.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &DB{pool: pool}, nil
}

// NewDB wraps an existing pool.
func NewDB(pool *pgxpool.Pool) *DB { return &DB{pool: pool} }

// Pool returns the underlying pgxpool.Pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Close closes the connection pool.
func (db *DB) Close() { db.pool.Close() }

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

func (db *DB) Orders() *OrderRepository { return &OrderRepository{pool: db.pool} }

func (db *DB) Subscriptions() *SubscriptionRepository { return &SubscriptionRepository{pool: db.pool} }

func (db *DB) Schedules() *ScheduleRepository { return &ScheduleRepository{pool: db.pool} }

func (db *DB) PaymentMethods() *PaymentMethodRepository { return &PaymentMethodRepository{pool: db.pool} }

func (db *DB) Payments() *PaymentRepository { return &PaymentRepository{pool: db.pool} }

func (db *DB) Jobs() *JobQueue { return &JobQueue{pool: db.pool} }
