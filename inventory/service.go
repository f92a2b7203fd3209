package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/events"
	"github.com/tidemark/keel/store"
)

// Service validates, persists, and executes stock movements and reservation
// changes, maintaining the ledger invariants and the audit trail.
type Service struct {
	// Thresholds grade quantity-update variances. Mutate before serving.
	Thresholds Thresholds

	db      *store.DB
	store   *Store
	auditor *audit.Recorder
	bus     *events.Bus
}

// NewService wires a Service over |db|, recording audit entries through
// |auditor| and publishing post-commit events on |bus|.
func NewService(db *store.DB, auditor *audit.Recorder, bus *events.Bus) *Service {
	return &Service{
		Thresholds: DefaultThresholds(),
		db:         db,
		store:      NewStore(db),
		auditor:    auditor,
		bus:        bus,
	}
}

// Store exposes the SQL layer for sibling services composing transactions.
func (s *Service) Store() *Store { return s.store }

// CreateMovementRequest are the caller-supplied fields of a new movement.
type CreateMovementRequest struct {
	WarehouseID       string
	SKU               string
	Quantity          int64
	Type              MovementType
	Reason            string
	ReferenceType     string
	ReferenceID       string
	TargetWarehouseID string // TRANSFER_OUT only
}

// CreateMovement validates |req| and persists a pending movement. A
// TRANSFER_OUT request is expanded into a linked movement pair, returning the
// outbound half.
func (s *Service) CreateMovement(ctx context.Context, req CreateMovementRequest) (*Movement, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if req.Type == TransferOut {
		if req.TargetWarehouseID == "" {
			return nil, errs.Validation("MISSING_TARGET", "targetWarehouseId",
				"TRANSFER_OUT requires a target warehouse")
		}
		out, _, err := s.CreateTransferPair(ctx, TransferPairRequest{
			SourceWarehouseID: req.WarehouseID,
			TargetWarehouseID: req.TargetWarehouseID,
			SKU:               req.SKU,
			Quantity:          req.Quantity,
			Reason:            req.Reason,
			ReferenceType:     req.ReferenceType,
			ReferenceID:       req.ReferenceID,
		})
		return out, err
	}
	if req.Type == TransferIn {
		return nil, errs.Validation("INVALID_MOVEMENT_TYPE", "type",
			"TRANSFER_IN movements are created by their TRANSFER_OUT pair")
	}

	direction, reason, err := s.validateMovement(req.Type, req.Quantity, req.Reason)
	if err != nil {
		return nil, err
	}
	if _, err = s.store.GetWarehouse(ctx, s.db, tenant.OrgID, req.WarehouseID); err != nil {
		return nil, err
	}
	if direction == Outbound {
		item, err := s.store.GetItem(ctx, s.db, tenant.OrgID, req.WarehouseID, req.SKU)
		if err != nil {
			return nil, err
		}
		if item.Available() < req.Quantity {
			return nil, insufficientStock(req.SKU, item.Available(), req.Quantity)
		}
	}

	var movement = &Movement{
		ID:             uuid.NewString(),
		OrganizationID: tenant.OrgID,
		WarehouseID:    req.WarehouseID,
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		Type:           req.Type,
		Direction:      direction,
		Status:         MovementPending,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
	setOptional(&movement.ReferenceType, req.ReferenceType)
	setOptional(&movement.ReferenceID, req.ReferenceID)

	if err = s.store.InsertMovement(ctx, s.db, movement); err != nil {
		return nil, err
	}
	movementsCreatedCounter.WithLabelValues(string(movement.Type)).Inc()
	return movement, nil
}

// TransferPairRequest creates a linked TRANSFER_OUT / TRANSFER_IN pair.
type TransferPairRequest struct {
	SourceWarehouseID string
	TargetWarehouseID string
	SKU               string
	Quantity          int64
	Reason            string
	ReferenceType     string
	ReferenceID       string
}

// CreateTransferPair persists a linked pair of pending movements moving stock
// between two warehouses of the tenant. Each half executes independently.
func (s *Service) CreateTransferPair(ctx context.Context, req TransferPairRequest) (*Movement, *Movement, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	_, reason, err := s.validateMovement(TransferOut, req.Quantity, req.Reason)
	if err != nil {
		return nil, nil, err
	}
	if req.SourceWarehouseID == req.TargetWarehouseID {
		return nil, nil, errs.Validation("SAME_WAREHOUSE", "targetWarehouseId",
			"source and target warehouses must differ")
	}
	if _, err = s.store.GetWarehouse(ctx, s.db, tenant.OrgID, req.SourceWarehouseID); err != nil {
		return nil, nil, err
	}
	if _, err = s.store.GetWarehouse(ctx, s.db, tenant.OrgID, req.TargetWarehouseID); err != nil {
		return nil, nil, err
	}
	item, err := s.store.GetItem(ctx, s.db, tenant.OrgID, req.SourceWarehouseID, req.SKU)
	if err != nil {
		return nil, nil, err
	}
	if item.Available() < req.Quantity {
		return nil, nil, insufficientStock(req.SKU, item.Available(), req.Quantity)
	}

	var now = time.Now().UTC()
	var outID, inID = uuid.NewString(), uuid.NewString()
	var out = &Movement{
		ID:               outID,
		OrganizationID:   tenant.OrgID,
		WarehouseID:      req.SourceWarehouseID,
		SKU:              req.SKU,
		Quantity:         req.Quantity,
		Type:             TransferOut,
		Direction:        Outbound,
		Status:           MovementPending,
		Reason:           reason,
		LinkedMovementID: &inID,
		CreatedAt:        now,
	}
	var in = &Movement{
		ID:               inID,
		OrganizationID:   tenant.OrgID,
		WarehouseID:      req.TargetWarehouseID,
		SKU:              req.SKU,
		Quantity:         req.Quantity,
		Type:             TransferIn,
		Direction:        Inbound,
		Status:           MovementPending,
		Reason:           reason,
		LinkedMovementID: &outID,
		CreatedAt:        now,
	}
	setOptional(&out.ReferenceType, req.ReferenceType)
	setOptional(&out.ReferenceID, req.ReferenceID)
	setOptional(&in.ReferenceType, req.ReferenceType)
	setOptional(&in.ReferenceID, req.ReferenceID)

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.InsertMovement(ctx, tx, out); err != nil {
			return err
		}
		return s.store.InsertMovement(ctx, tx, in)
	})
	if err != nil {
		return nil, nil, err
	}
	movementsCreatedCounter.WithLabelValues(string(TransferOut)).Inc()
	movementsCreatedCounter.WithLabelValues(string(TransferIn)).Inc()
	return out, in, nil
}

// ExecuteMovement applies a pending movement to its stock level inside one
// transaction, re-validating availability under a row lock. The movement
// lands COMPLETED with its audit entry, or stays PENDING when a state
// conflict refuses execution, or is best-effort marked FAILED when storage
// misbehaved.
func (s *Service) ExecuteMovement(ctx context.Context, movementID string) (*Movement, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	movement, err := s.store.GetMovement(ctx, s.db, tenant.OrgID, movementID)
	if err != nil {
		return nil, err
	}
	if s.RequiresApproval(movement) {
		return nil, errs.Conflict("MOVEMENT_REQUIRES_APPROVAL", "movement awaits approval")
	}
	if movement.Status != MovementPending {
		return nil, errs.Conflict("MOVEMENT_NOT_PENDING",
			fmt.Sprintf("movement is %s", movement.Status))
	}

	var now = time.Now().UTC()
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var item, err = s.store.GetItemForUpdate(ctx, tx, tenant.OrgID, movement.WarehouseID, movement.SKU)
		if errs.KindOf(err) == errs.KindNotFound && movement.Direction == Inbound {
			// First receipt of this SKU in this warehouse.
			item = &Item{
				ID:             uuid.NewString(),
				OrganizationID: tenant.OrgID,
				WarehouseID:    movement.WarehouseID,
				SKU:            movement.SKU,
			}
			err = s.store.InsertItem(ctx, tx, item)
		}
		if err != nil {
			return err
		}
		if item.IsLocked {
			return errs.Conflict("ITEM_LOCKED", "item is locked by an open cycle count")
		}
		if movement.Direction == Outbound && item.Available() < movement.Quantity {
			return insufficientStock(movement.SKU, item.Available(), movement.Quantity)
		}

		var previous = item.Quantity
		item.Quantity += movement.Direction.Signed(movement.Quantity)
		if err = s.store.SaveItemQuantities(ctx, tx, item); err != nil {
			return err
		}

		ok, err := s.store.MarkMovementExecuted(ctx, tx, movement.ID, tenant.UserID, now)
		if err != nil {
			return err
		} else if !ok {
			return errs.Conflict("MOVEMENT_NOT_PENDING", "movement executed concurrently")
		}

		return s.auditor.Record(ctx, tx, &audit.Entry{
			OrganizationID:   tenant.OrgID,
			WarehouseID:      movement.WarehouseID,
			UserID:           tenant.UserID,
			SKU:              movement.SKU,
			Action:           audit.ActionMovement,
			PreviousQuantity: &previous,
			NewQuantity:      &item.Quantity,
			ReasonCode:       string(movement.Type),
			Notes:            movement.Reason,
			Metadata: audit.Metadata{
				"movementId": movement.ID,
				"direction":  string(movement.Direction),
			},
		})
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			s.markFailed(ctx, movement)
		}
		return nil, err
	}

	movement.Status = MovementCompleted
	movement.ExecutedAt = &now
	movement.ExecutedBy = &tenant.UserID
	movementsExecutedCounter.WithLabelValues(string(movement.Type), string(MovementCompleted)).Inc()

	s.bus.Publish(ctx, events.Event{
		Name:           events.MovementCompleted,
		OrganizationID: tenant.OrgID,
		Payload: map[string]interface{}{
			"movementId":  movement.ID,
			"warehouseId": movement.WarehouseID,
			"sku":         movement.SKU,
			"quantity":    movement.Quantity,
			"direction":   string(movement.Direction),
		},
	})
	return movement, nil
}

// CancelMovement moves a pending movement to CANCELLED with a reason.
func (s *Service) CancelMovement(ctx context.Context, movementID, reason string) (*Movement, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	reason = SanitizeReason(reason)
	if reason == "" {
		return nil, errs.Validation("MISSING_REASON", "reason", "a cancellation reason is required")
	}

	movement, err := s.store.GetMovement(ctx, s.db, tenant.OrgID, movementID)
	if err != nil {
		return nil, err
	}
	if movement.Status != MovementPending {
		return nil, errs.Conflict("MOVEMENT_NOT_PENDING",
			fmt.Sprintf("movement is %s", movement.Status))
	}

	ok, err := s.store.MarkMovementCancelled(ctx, s.db, movement.ID, reason)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("MOVEMENT_NOT_PENDING", "movement transitioned concurrently")
	}
	movement.Status = MovementCancelled
	movement.CancelReason = &reason
	return movement, nil
}

// RequiresApproval reports whether a movement must be approved before it may
// execute. The hook exists for deployments routing large movements through
// review; none currently enable it.
func (s *Service) RequiresApproval(*Movement) bool { return false }

// ReserveRequest promises stock of (warehouse, sku) to an order.
type ReserveRequest struct {
	OrderID     string
	WarehouseID string
	SKU         string
	Quantity    int64
}

// Reserve consumes available stock into a new reservation.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, errs.Validation("INVALID_QUANTITY", "quantity", "quantity must be positive")
	}

	var reservation = &Reservation{
		ID:               uuid.NewString(),
		OrganizationID:   tenant.OrgID,
		OrderID:          req.OrderID,
		SKU:              req.SKU,
		WarehouseID:      req.WarehouseID,
		QuantityReserved: req.Quantity,
		CreatedAt:        time.Now().UTC(),
	}
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var item, err = s.store.GetItemForUpdate(ctx, tx, tenant.OrgID, req.WarehouseID, req.SKU)
		if err != nil {
			return err
		}
		if item.Available() < req.Quantity {
			return insufficientStock(req.SKU, item.Available(), req.Quantity)
		}
		item.ReservedQuantity += req.Quantity
		if err = s.store.SaveItemQuantities(ctx, tx, item); err != nil {
			return err
		}
		return s.store.InsertReservation(ctx, tx, reservation)
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release ends a reservation: consumed (shipped, stock decremented) or
// returned (cancelled, stock freed). Released reservations are immutable.
func (s *Service) Release(ctx context.Context, reservationID string, consume bool) (*Reservation, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var reservation *Reservation
	var now = time.Now().UTC()
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if reservation, err = s.store.GetReservation(ctx, tx, tenant.OrgID, reservationID); err != nil {
			return err
		}
		if reservation.ReleasedAt != nil {
			return errs.Conflict("RESERVATION_RELEASED", "reservation is already released")
		}

		item, err := s.store.GetItemForUpdate(ctx, tx, tenant.OrgID, reservation.WarehouseID, reservation.SKU)
		if err != nil {
			return err
		}
		item.ReservedQuantity -= reservation.QuantityReserved
		if item.ReservedQuantity < 0 {
			item.ReservedQuantity = 0
		}
		if consume {
			item.Quantity -= reservation.QuantityReserved
			if item.Quantity < 0 {
				item.Quantity = 0
			}
		}
		if err = s.store.SaveItemQuantities(ctx, tx, item); err != nil {
			return err
		}

		ok, err := s.store.ReleaseReservation(ctx, tx, reservation.ID, now)
		if err != nil {
			return err
		} else if !ok {
			return errs.Conflict("RESERVATION_RELEASED", "reservation released concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reservation.ReleasedAt = &now
	return reservation, nil
}

func (s *Service) validateMovement(t MovementType, quantity int64, rawReason string) (Direction, string, error) {
	if quantity < MinMovementQuantity || quantity > MaxMovementQuantity {
		return "", "", errs.Validation("INVALID_QUANTITY", "quantity",
			fmt.Sprintf("quantity must be in [%d, %d]", MinMovementQuantity, MaxMovementQuantity))
	}
	var direction, err = DirectionOf(t)
	if err != nil {
		return "", "", err
	}
	var reason = SanitizeReason(rawReason)
	if reason == "" {
		return "", "", errs.Validation("MISSING_REASON", "reason", "a reason is required")
	}
	return direction, reason, nil
}

func (s *Service) markFailed(ctx context.Context, movement *Movement) {
	movementsExecutedCounter.WithLabelValues(string(movement.Type), string(MovementFailed)).Inc()
	if err := s.store.MarkMovementFailed(ctx, s.db, movement.ID); err != nil {
		log.WithFields(log.Fields{
			"error":    err,
			"movement": movement.ID,
		}).Error("failed to mark movement failed")
	}
}

func insufficientStock(sku string, available, requested int64) error {
	return errs.Conflict("INSUFFICIENT_STOCK",
		fmt.Sprintf("sku %s has %d available, %d requested", sku, available, requested))
}

func setOptional(dst **string, value string) {
	if value != "" {
		*dst = &value
	}
}
