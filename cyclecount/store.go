package cyclecount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Store is the SQL layer of cycle count sessions. Methods take a
// store.Querier so they compose into the caller's transaction.
type Store struct {
	db *store.DB
}

// NewStore returns a Store over |db|.
func NewStore(db *store.DB) *Store { return &Store{db: db} }

// Insert persists |s|.
func (st *Store) Insert(ctx context.Context, q store.Querier, s *Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO cycle_count_sessions
			(id, organization_id, warehouse_id, type, is_blind, lock_items, status,
			 item_skus, counts, created_by, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.OrganizationID, s.WarehouseID, s.Type, s.IsBlind, s.LockItems,
		s.Status, s.ItemSKUs, s.Counts, s.CreatedBy, s.CreatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting cycle count session: %w", err)
	}
	return nil
}

// Get loads a session of the organization, or NotFound.
func (st *Store) Get(ctx context.Context, q store.Querier, orgID, id string) (*Session, error) {
	var s Session
	var err = q.GetContext(ctx, &s, q.Rebind(
		`SELECT * FROM cycle_count_sessions WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("SESSION_NOT_FOUND", fmt.Sprintf("cycle count session %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading cycle count session: %w", err)
	}
	return &s, nil
}

// HasActiveForWarehouse reports whether the warehouse already has a session
// IN_PROGRESS.
func (st *Store) HasActiveForWarehouse(ctx context.Context, q store.Querier, orgID, warehouseID string) (bool, error) {
	var count int
	var err = q.GetContext(ctx, &count, q.Rebind(`
		SELECT COUNT(*) FROM cycle_count_sessions
		WHERE organization_id = ? AND warehouse_id = ? AND status = ?`),
		orgID, warehouseID, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("counting active sessions: %w", err)
	}
	return count > 0, nil
}

// SaveCounts writes back the merged counts of an open session. It returns
// false when the session was no longer IN_PROGRESS.
func (st *Store) SaveCounts(ctx context.Context, q store.Querier, id string, counts CountSet) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE cycle_count_sessions SET counts = ? WHERE id = ? AND status = ?`),
		counts, id, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("saving counts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("saving counts: %w", err)
	}
	return n == 1, nil
}

// MarkCompleted flips an open session to COMPLETED. It returns false when the
// session was no longer IN_PROGRESS.
func (st *Store) MarkCompleted(ctx context.Context, q store.Querier, id string, at time.Time) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(`
		UPDATE cycle_count_sessions SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`),
		StatusCompleted, at.UTC(), id, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("marking session completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking session completed: %w", err)
	}
	return n == 1, nil
}

// ListQuery filters List.
type ListQuery struct {
	WarehouseID string
	Status      Status
}

// List returns the organization's sessions, newest first.
func (st *Store) List(ctx context.Context, q store.Querier, orgID string, lq ListQuery) ([]Session, error) {
	var query = `SELECT * FROM cycle_count_sessions WHERE organization_id = ?`
	var args = []interface{}{orgID}
	if lq.WarehouseID != "" {
		query += ` AND warehouse_id = ?`
		args = append(args, lq.WarehouseID)
	}
	if lq.Status != "" {
		query += ` AND status = ?`
		args = append(args, lq.Status)
	}
	query += ` ORDER BY created_at DESC`

	var sessions []Session
	if err := q.SelectContext(ctx, &sessions, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing cycle count sessions: %w", err)
	}
	return sessions, nil
}
