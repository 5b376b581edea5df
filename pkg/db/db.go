package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mkrasnov/autosend/pkg/config"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*sqlx.DB, error) {
	d, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	d.SetMaxOpenConns(cfg.MaxConns)
	d.SetMaxIdleConns(cfg.MinConns)
	d.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.PingContext(pingCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return d, nil
}
