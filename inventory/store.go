package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Store is the SQL layer of the ledger. Methods take a store.Querier so they
// compose into the caller's transaction.
type Store struct {
	db *store.DB
}

// NewStore returns a Store over |db|.
func NewStore(db *store.DB) *Store { return &Store{db: db} }

// CreateWarehouse persists |w|.
func (s *Store) CreateWarehouse(ctx context.Context, q store.Querier, w *Warehouse) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(
		`INSERT INTO warehouses (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`),
		w.ID, w.OrganizationID, w.Name, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting warehouse: %w", err)
	}
	return nil
}

// GetWarehouse loads a warehouse of the organization, or NotFound.
func (s *Store) GetWarehouse(ctx context.Context, q store.Querier, orgID, id string) (*Warehouse, error) {
	var w Warehouse
	var err = q.GetContext(ctx, &w, q.Rebind(
		`SELECT * FROM warehouses WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("WAREHOUSE_NOT_FOUND", fmt.Sprintf("warehouse %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading warehouse: %w", err)
	}
	return &w, nil
}

// InsertItem persists a new stock level row.
func (s *Store) InsertItem(ctx context.Context, q store.Querier, item *Item) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO inventory_items
			(id, organization_id, warehouse_id, sku, quantity, reserved_quantity, is_locked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.OrganizationID, item.WarehouseID, item.SKU,
		item.Quantity, item.ReservedQuantity, item.IsLocked, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting inventory item: %w", err)
	}
	return nil
}

// GetItem loads the stock level of (warehouse, sku), or NotFound.
func (s *Store) GetItem(ctx context.Context, q store.Querier, orgID, warehouseID, sku string) (*Item, error) {
	return s.getItem(ctx, q, orgID, warehouseID, sku, "")
}

// GetItemForUpdate is GetItem holding a row lock until the surrounding
// transaction commits.
func (s *Store) GetItemForUpdate(ctx context.Context, tx *sqlx.Tx, orgID, warehouseID, sku string) (*Item, error) {
	return s.getItem(ctx, tx, orgID, warehouseID, sku, s.db.Dialect.ForUpdate())
}

func (s *Store) getItem(ctx context.Context, q store.Querier, orgID, warehouseID, sku, suffix string) (*Item, error) {
	var item Item
	var err = q.GetContext(ctx, &item, q.Rebind(
		`SELECT * FROM inventory_items WHERE organization_id = ? AND warehouse_id = ? AND sku = ?`+suffix),
		orgID, warehouseID, sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("ITEM_NOT_FOUND",
			fmt.Sprintf("no inventory for sku %s in warehouse %s", sku, warehouseID))
	} else if err != nil {
		return nil, fmt.Errorf("loading inventory item: %w", err)
	}
	return &item, nil
}

// SaveItemQuantities writes back quantity and reserved_quantity of |item|.
func (s *Store) SaveItemQuantities(ctx context.Context, q store.Querier, item *Item) error {
	item.UpdatedAt = time.Now().UTC()
	var _, err = q.ExecContext(ctx, q.Rebind(`
		UPDATE inventory_items SET quantity = ?, reserved_quantity = ?, updated_at = ?
		WHERE id = ?`),
		item.Quantity, item.ReservedQuantity, item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("updating inventory item: %w", err)
	}
	return nil
}

// SetItemsLocked flips is_locked on the given SKUs of a warehouse.
func (s *Store) SetItemsLocked(ctx context.Context, q store.Querier, orgID, warehouseID string, skus []string, locked bool) error {
	if len(skus) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE inventory_items SET is_locked = ?
		WHERE organization_id = ? AND warehouse_id = ? AND sku IN (?)`,
		locked, orgID, warehouseID, skus)
	if err != nil {
		return fmt.Errorf("expanding lock query: %w", err)
	}
	if _, err = q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("locking inventory items: %w", err)
	}
	return nil
}

// ListItems returns every stock level of a warehouse, ordered by SKU.
func (s *Store) ListItems(ctx context.Context, q store.Querier, orgID, warehouseID string) ([]Item, error) {
	var items []Item
	var err = q.SelectContext(ctx, &items, q.Rebind(
		`SELECT * FROM inventory_items WHERE organization_id = ? AND warehouse_id = ? ORDER BY sku`),
		orgID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("listing inventory items: %w", err)
	}
	return items, nil
}

// InsertReservation persists |r|.
func (s *Store) InsertReservation(ctx context.Context, q store.Querier, r *Reservation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO reservations
			(id, organization_id, order_id, sku, warehouse_id, quantity_reserved, released_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.OrganizationID, r.OrderID, r.SKU, r.WarehouseID,
		r.QuantityReserved, r.ReleasedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

// GetReservation loads a reservation of the organization, or NotFound.
func (s *Store) GetReservation(ctx context.Context, q store.Querier, orgID, id string) (*Reservation, error) {
	var r Reservation
	var err = q.GetContext(ctx, &r, q.Rebind(
		`SELECT * FROM reservations WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("RESERVATION_NOT_FOUND", fmt.Sprintf("reservation %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading reservation: %w", err)
	}
	return &r, nil
}

// SetReservationWarehouse points an active reservation at a new warehouse,
// leaving order linkage untouched.
func (s *Store) SetReservationWarehouse(ctx context.Context, q store.Querier, id, warehouseID string) error {
	var _, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE reservations SET warehouse_id = ? WHERE id = ? AND released_at IS NULL`),
		warehouseID, id)
	if err != nil {
		return fmt.Errorf("updating reservation warehouse: %w", err)
	}
	return nil
}

// ReleaseReservation stamps released_at on an active reservation. It returns
// false when the reservation was already released.
func (s *Store) ReleaseReservation(ctx context.Context, q store.Querier, id string, at time.Time) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE reservations SET released_at = ? WHERE id = ? AND released_at IS NULL`),
		at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("releasing reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("releasing reservation: %w", err)
	}
	return n == 1, nil
}

// SumActiveReservations totals the unreleased reservations of (warehouse, sku).
func (s *Store) SumActiveReservations(ctx context.Context, q store.Querier, orgID, warehouseID, sku string) (int64, error) {
	var sum sql.NullInt64
	var err = q.GetContext(ctx, &sum, q.Rebind(`
		SELECT SUM(quantity_reserved) FROM reservations
		WHERE organization_id = ? AND warehouse_id = ? AND sku = ? AND released_at IS NULL`),
		orgID, warehouseID, sku)
	if err != nil {
		return 0, fmt.Errorf("summing reservations: %w", err)
	}
	return sum.Int64, nil
}

// InsertMovement persists |m|.
func (s *Store) InsertMovement(ctx context.Context, q store.Querier, m *Movement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO stock_movements
			(id, organization_id, warehouse_id, sku, quantity, type, direction, status,
			 reference_type, reference_id, reason, cancel_reason, linked_movement_id,
			 created_at, executed_at, executed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.OrganizationID, m.WarehouseID, m.SKU, m.Quantity, m.Type, m.Direction,
		m.Status, m.ReferenceType, m.ReferenceID, m.Reason, m.CancelReason,
		m.LinkedMovementID, m.CreatedAt, m.ExecutedAt, m.ExecutedBy)
	if err != nil {
		return fmt.Errorf("inserting movement: %w", err)
	}
	return nil
}

// GetMovement loads a movement of the organization, or NotFound.
func (s *Store) GetMovement(ctx context.Context, q store.Querier, orgID, id string) (*Movement, error) {
	var m Movement
	var err = q.GetContext(ctx, &m, q.Rebind(
		`SELECT * FROM stock_movements WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("MOVEMENT_NOT_FOUND", fmt.Sprintf("movement %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading movement: %w", err)
	}
	return &m, nil
}

// MarkMovementExecuted flips a pending movement to completed. It returns
// false when the movement was no longer pending.
func (s *Store) MarkMovementExecuted(ctx context.Context, q store.Querier, id, executedBy string, at time.Time) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_movements SET status = ?, executed_at = ?, executed_by = ?
		WHERE id = ? AND status = ?`),
		MovementCompleted, at.UTC(), executedBy, id, MovementPending)
	if err != nil {
		return false, fmt.Errorf("marking movement executed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking movement executed: %w", err)
	}
	return n == 1, nil
}

// MarkMovementCancelled flips a pending movement to cancelled with a reason.
// It returns false when the movement was no longer pending.
func (s *Store) MarkMovementCancelled(ctx context.Context, q store.Querier, id, reason string) (bool, error) {
	var res, err = q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_movements SET status = ?, cancel_reason = ?
		WHERE id = ? AND status = ?`),
		MovementCancelled, reason, id, MovementPending)
	if err != nil {
		return false, fmt.Errorf("marking movement cancelled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking movement cancelled: %w", err)
	}
	return n == 1, nil
}

// MarkMovementFailed flips a pending movement to failed. Used as a
// best-effort secondary write after a failed execution transaction.
func (s *Store) MarkMovementFailed(ctx context.Context, q store.Querier, id string) error {
	var _, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE stock_movements SET status = ? WHERE id = ? AND status = ?`),
		MovementFailed, id, MovementPending)
	if err != nil {
		return fmt.Errorf("marking movement failed: %w", err)
	}
	return nil
}
