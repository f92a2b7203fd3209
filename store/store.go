// Package store opens the relational database, applies its embedded goose
// migrations, and provides the dialect and transaction helpers shared by the
// domain stores.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
)

// DB wraps the sqlx handle together with the Dialect of its engine.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// Querier is the query surface common to *sqlx.DB and *sqlx.Tx, letting store
// methods run inside or outside a transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Open connects to |databaseURL|. postgres:// and postgresql:// URLs use the
// pgx driver; anything else is treated as a sqlite3 path (":memory:" included).
func Open(databaseURL string) (*DB, error) {
	var driver string
	var dialect Dialect

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver, dialect = "pgx", Postgres
	} else {
		driver, dialect = "sqlite3", SQLite
	}

	var db, err = sqlx.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect.Name, err)
	}

	if dialect.Name == SQLite.Name {
		// sqlite allows a single writer, and an in-memory database exists
		// per-connection. Funnel everything through one connection.
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", dialect.Name, err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// WithTx runs |fn| inside a transaction, committing on success and rolling
// back on error or on cancellation of |ctx| prior to commit.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var tx, err = db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err = fn(tx); err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.WithField("error", rbErr).Warn("failed to roll back transaction")
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
