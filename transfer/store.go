package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Store is the SQL layer of the transfer workflow. Status writes carry their
// precondition in the WHERE clause, so concurrent transitions lose cleanly
// instead of clobbering each other.
type Store struct {
	db *store.DB
}

// NewStore returns a Store over |db|.
func NewStore(db *store.DB) *Store { return &Store{db: db} }

// Insert persists |t|.
func (s *Store) Insert(ctx context.Context, q store.Querier, t *Transfer) error {
	var now = time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO transfer_requests
			(id, organization_id, reservation_id, source_warehouse_id, target_warehouse_id,
			 sku, quantity, transfer_type, status, priority, scheduled_at, reason,
			 requested_by, approved_by, rejected_by, rejection_reason, notes,
			 created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.OrganizationID, t.ReservationID, t.SourceWarehouseID, t.TargetWarehouseID,
		t.SKU, t.Quantity, t.Type, t.Status, t.Priority, t.ScheduledAt, t.Reason,
		t.RequestedBy, t.ApprovedBy, t.RejectedBy, t.RejectionReason, t.Notes,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting transfer request: %w", err)
	}
	return nil
}

// Get loads a transfer request of the organization, or NotFound.
func (s *Store) Get(ctx context.Context, q store.Querier, orgID, id string) (*Transfer, error) {
	var t Transfer
	var err = q.GetContext(ctx, &t, q.Rebind(
		`SELECT * FROM transfer_requests WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("TRANSFER_NOT_FOUND", fmt.Sprintf("transfer %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading transfer request: %w", err)
	}
	return &t, nil
}

// HasActiveForReservation reports whether the reservation already has a
// transfer in an active (PENDING, APPROVED, IN_TRANSIT) status.
func (s *Store) HasActiveForReservation(ctx context.Context, q store.Querier, orgID, reservationID string) (bool, error) {
	var count int
	var err = q.GetContext(ctx, &count, q.Rebind(`
		SELECT COUNT(*) FROM transfer_requests
		WHERE organization_id = ? AND reservation_id = ? AND status IN (?, ?, ?)`),
		orgID, reservationID, StatusPending, StatusApproved, StatusInTransit)
	if err != nil {
		return false, fmt.Errorf("counting active transfers: %w", err)
	}
	return count > 0, nil
}

// MarkApproved moves a PENDING transfer to APPROVED. It returns false when
// the transfer was no longer pending.
func (s *Store) MarkApproved(ctx context.Context, q store.Querier, id, approvedBy string, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET status = ?, approved_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusApproved, approvedBy, at.UTC(), id, StatusPending)
}

// MarkRejected moves a PENDING transfer to REJECTED with the rejecter and
// their reason. It returns false when the transfer was no longer pending.
func (s *Store) MarkRejected(ctx context.Context, q store.Querier, id, rejectedBy, reason string, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET status = ?, rejected_by = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusRejected, rejectedBy, reason, at.UTC(), id, StatusPending)
}

// MarkCancelled moves a PENDING or APPROVED transfer to CANCELLED, recording
// the reason in notes. It returns false when the transfer had moved on.
func (s *Store) MarkCancelled(ctx context.Context, q store.Querier, id, reason string, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET status = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, reason, at.UTC(), id, StatusPending, StatusApproved)
}

// MarkInTransit moves an APPROVED transfer to IN_TRANSIT.
func (s *Store) MarkInTransit(ctx context.Context, q store.Querier, id string, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusInTransit, at.UTC(), id, StatusApproved)
}

// MarkCompleted moves an APPROVED or IN_TRANSIT transfer to COMPLETED.
func (s *Store) MarkCompleted(ctx context.Context, q store.Querier, id string, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCompleted, at.UTC(), at.UTC(), id, StatusApproved, StatusInTransit)
}

// MarkFailed moves an APPROVED or IN_TRANSIT transfer to FAILED. Used as a
// best-effort secondary write after a failed execution transaction.
func (s *Store) MarkFailed(ctx context.Context, q store.Querier, id string) error {
	var _, err = q.ExecContext(ctx, q.Rebind(`
		UPDATE transfer_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		StatusFailed, time.Now().UTC(), id, StatusApproved, StatusInTransit)
	if err != nil {
		return fmt.Errorf("marking transfer failed: %w", err)
	}
	return nil
}

// Reschedule updates scheduled_at of a PENDING transfer.
func (s *Store) Reschedule(ctx context.Context, q store.Querier, id string, scheduledAt, at time.Time) (bool, error) {
	return s.guardedUpdate(ctx, q, `
		UPDATE transfer_requests SET scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		scheduledAt.UTC(), at.UTC(), id, StatusPending)
}

func (s *Store) guardedUpdate(ctx context.Context, q store.Querier, query string, args ...interface{}) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("updating transfer request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating transfer request: %w", err)
	}
	return n == 1, nil
}

// priorityRank orders priorities inside SQL. TEXT priorities don't sort
// meaningfully on their own.
const priorityRank = `CASE priority
	WHEN 'URGENT' THEN 3
	WHEN 'HIGH' THEN 2
	WHEN 'NORMAL' THEN 1
	ELSE 0 END`

// ListDue returns scheduled transfers which are due at |now|, most urgent
// first and oldest first within a priority. The listing spans organizations:
// the worker serves every tenant.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []Transfer
	var err = s.db.SelectContext(ctx, &due, s.db.Rebind(`
		SELECT * FROM transfer_requests
		WHERE status = ? AND transfer_type = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY `+priorityRank+` DESC, scheduled_at ASC
		LIMIT ?`),
		StatusPending, TypeScheduled, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due transfers: %w", err)
	}
	return due, nil
}
