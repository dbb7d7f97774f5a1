package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// ConnectPostgres opens the account database and creates its tables.
func ConnectPostgres(ctx context.Context, postgresURI string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.L().Info().Msg("connected to PostgreSQL")

	if err := InitPostgresTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// InitPostgresTables creates the users table and its indexes if they don't exist.
func InitPostgresTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(20) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'offline',
			last_seen TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_lower ON users(LOWER(username))`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}

	log.L().Info().Msg("PostgreSQL tables initialized")
	return nil
}
