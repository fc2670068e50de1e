package db

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/keyward/apiserver/config"
)

const (
	defaultDBDriver     = "postgres"
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25

	// Postgres often starts after the service in compose setups.
	defaultWaitInterval = 5 * time.Second
	defaultWaitRetries  = 12
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Open connects to Postgres and waits until it answers pings.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open(defaultDBDriver, cfg.Database.DSN())
	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").Wrap(err)
	}

	db.SetConnMaxIdleTime(defaultConnMaxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLife)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)

	backoff := retry.WithMaxRetries(defaultWaitRetries, retry.NewConstant(defaultWaitInterval))
	if err := WaitForDB(ctx, db, backoff, slog.Default()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// WaitForDB pings until the database answers or backoff gives up.
func WaitForDB(ctx context.Context, db Pinger, backoff retry.Backoff, logger *slog.Logger) error {
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_UNAVAILABLE").With("attempts", attempt).Wrap(err)
	}
	return nil
}
