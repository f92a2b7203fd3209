package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	var db = openForTest(t)

	// Constraints are live: reserved_quantity may not exceed quantity.
	var _, err = db.ExecContext(context.Background(),
		db.Rebind(`INSERT INTO inventory_items
			(id, organization_id, warehouse_id, sku, quantity, reserved_quantity, is_locked, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		"item-1", "org-1", "wh-1", "SKU-1", 10, 20, false, time.Now().UTC())
	require.Error(t, err)
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	var db = openForTest(t)
	var ctx = context.Background()

	var insert = func(tx *sqlx.Tx, id string) error {
		var _, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO warehouses (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`),
			id, "org-1", "Main", time.Now().UTC())
		return err
	}

	require.NoError(t, db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insert(tx, "wh-1")
	}))

	var boom = errors.New("boom")
	var err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insert(tx, "wh-2"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM warehouses`))
	require.Equal(t, 1, count)
}

func TestWithTxObservesCancellation(t *testing.T) {
	var db = openForTest(t)

	var ctx, cancel = context.WithCancel(context.Background())
	var err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var _, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO warehouses (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`),
			"wh-1", "org-1", "Main", time.Now().UTC())
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	var count int
	require.NoError(t, db.GetContext(context.Background(), &count, `SELECT COUNT(*) FROM warehouses`))
	require.Equal(t, 0, count)
}

func TestDialectClauses(t *testing.T) {
	require.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
	require.Equal(t, "", SQLite.ForUpdate())
	require.Equal(t, "GREATEST(a, b)", Postgres.Greatest("a", "b"))
	require.Equal(t, "MAX(a, b)", SQLite.Greatest("a", "b"))
}

func openForTest(t *testing.T) *DB {
	t.Helper()
	var db, err = Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}
