package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

// NewPostgresClient opens and verifies the order database pool. migrate
// creates the orders table for local development databases.
func NewPostgresClient(ctx context.Context, connString string, migrate bool, log *zap.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if migrate {
		if err := client.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("postgres_connected",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Bool("migrated", migrate),
	)
	return client, nil
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			order_number VARCHAR(30) UNIQUE NOT NULL,
			status VARCHAR(30) NOT NULL DEFAULT 'Draft',
			description TEXT,
			shipping_location TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
