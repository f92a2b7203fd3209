package transfer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/events"
	"github.com/tidemark/keel/inventory"
	"github.com/tidemark/keel/store"
)

// Service drives transfer requests through their state machine and executes
// approved transfers against the inventory ledger.
type Service struct {
	db      *store.DB
	store   *Store
	inv     *inventory.Store
	auditor *audit.Recorder
	bus     *events.Bus
}

// NewService wires a Service over |db|, reading and mutating ledger rows
// through |inv|, recording audit entries through |auditor|, and publishing
// post-commit events on |bus|.
func NewService(db *store.DB, inv *inventory.Store, auditor *audit.Recorder, bus *events.Bus) *Service {
	return &Service{
		db:      db,
		store:   NewStore(db),
		inv:     inv,
		auditor: auditor,
		bus:     bus,
	}
}

// Store exposes the SQL layer for the worker and the API listing surface.
func (s *Service) Store() *Store { return s.store }

// CreateRequest are the caller-supplied fields of a new transfer request.
type CreateRequest struct {
	ReservationID     string
	SourceWarehouseID string
	TargetWarehouseID string
	Quantity          int64
	Type              Type
	Priority          Priority
	ScheduledAt       *time.Time
	Reason            string
}

// Create validates |req| and persists a transfer request. IMMEDIATE requests
// are created already APPROVED with the requester as approver; SCHEDULED
// requests require a strictly future scheduled_at.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transfer, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if req.Quantity < 1 {
		return nil, errs.Validation("INVALID_QUANTITY", "quantity", "quantity must be positive")
	}
	var reason = inventory.SanitizeReason(req.Reason)
	if reason == "" {
		return nil, errs.Validation("MISSING_REASON", "reason", "a reason is required")
	}
	switch req.Type {
	case TypeImmediate, TypePending, TypeScheduled:
	default:
		return nil, errs.Validation("INVALID_TRANSFER_TYPE", "transferType",
			fmt.Sprintf("unknown transfer type %q", req.Type))
	}
	var priority = req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !ValidPriority(priority) {
		return nil, errs.Validation("INVALID_PRIORITY", "priority",
			fmt.Sprintf("unknown priority %q", priority))
	}

	var now = time.Now().UTC()
	if req.Type == TypeScheduled {
		if req.ScheduledAt == nil || !req.ScheduledAt.After(now) {
			return nil, errs.Validation("INVALID_SCHEDULE", "scheduledAt",
				"scheduled transfers require a future scheduledAt")
		}
	}

	reservation, err := s.inv.GetReservation(ctx, s.db, tenant.OrgID, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if reservation.ReleasedAt != nil {
		return nil, errs.Conflict("RESERVATION_RELEASED", "reservation is already released")
	}
	if req.SourceWarehouseID != reservation.WarehouseID {
		return nil, errs.Validation("SOURCE_MISMATCH", "sourceWarehouseId",
			"source warehouse must match the reservation's warehouse")
	}
	if req.Quantity > reservation.QuantityReserved {
		return nil, errs.Validation("QUANTITY_EXCEEDS_RESERVATION", "quantity",
			fmt.Sprintf("reservation holds %d", reservation.QuantityReserved))
	}
	if req.SourceWarehouseID == req.TargetWarehouseID {
		return nil, errs.Validation("SAME_WAREHOUSE", "targetWarehouseId",
			"source and target warehouses must differ")
	}
	if _, err = s.inv.GetWarehouse(ctx, s.db, tenant.OrgID, req.TargetWarehouseID); err != nil {
		return nil, err
	}

	active, err := s.store.HasActiveForReservation(ctx, s.db, tenant.OrgID, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errs.Conflict("DUPLICATE_ACTIVE_TRANSFER",
			"reservation already has an active transfer")
	}

	var transfer = &Transfer{
		ID:                uuid.NewString(),
		OrganizationID:    tenant.OrgID,
		ReservationID:     reservation.ID,
		SourceWarehouseID: req.SourceWarehouseID,
		TargetWarehouseID: req.TargetWarehouseID,
		SKU:               reservation.SKU,
		Quantity:          req.Quantity,
		Type:              req.Type,
		Status:            StatusPending,
		Priority:          priority,
		ScheduledAt:       req.ScheduledAt,
		Reason:            reason,
		RequestedBy:       tenant.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Type == TypeImmediate {
		// Immediate transfers skip the approval queue.
		transfer.Status = StatusApproved
		transfer.ApprovedBy = &transfer.RequestedBy
	}

	if err = s.store.Insert(ctx, s.db, transfer); err != nil {
		return nil, err
	}
	transitionsCounter.WithLabelValues(string(transfer.Status)).Inc()

	s.bus.Publish(ctx, events.Event{
		Name:           events.TransferRequested,
		OrganizationID: tenant.OrgID,
		Payload: map[string]interface{}{
			"transferId":        transfer.ID,
			"reservationId":     transfer.ReservationID,
			"sourceWarehouseId": transfer.SourceWarehouseID,
			"targetWarehouseId": transfer.TargetWarehouseID,
			"sku":               transfer.SKU,
			"quantity":          transfer.Quantity,
			"transferType":      string(transfer.Type),
			"priority":          string(transfer.Priority),
		},
	})
	return transfer, nil
}

// Approve moves a PENDING transfer to APPROVED. Requires the ADMIN or
// WAREHOUSE_MANAGER role.
func (s *Service) Approve(ctx context.Context, transferID string) (*Transfer, error) {
	var tenant, err = auth.RequireRole(ctx, auth.RoleAdmin, auth.RoleWarehouseManager)
	if err != nil {
		return nil, err
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != StatusPending {
		return nil, notPending(transfer.Status)
	}

	var now = time.Now().UTC()
	ok, err := s.store.MarkApproved(ctx, s.db, transfer.ID, tenant.UserID, now)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("TRANSFER_NOT_PENDING", "transfer transitioned concurrently")
	}
	transfer.Status = StatusApproved
	transfer.ApprovedBy = &tenant.UserID
	transfer.UpdatedAt = now
	transitionsCounter.WithLabelValues(string(StatusApproved)).Inc()

	s.bus.Publish(ctx, events.Event{
		Name:           events.TransferApproved,
		OrganizationID: tenant.OrgID,
		Payload: map[string]interface{}{
			"transferId": transfer.ID,
			"approvedBy": tenant.UserID,
		},
	})
	return transfer, nil
}

// Reject moves a PENDING transfer to REJECTED with a reason. Requires the
// ADMIN or WAREHOUSE_MANAGER role.
func (s *Service) Reject(ctx context.Context, transferID, reason string) (*Transfer, error) {
	var tenant, err = auth.RequireRole(ctx, auth.RoleAdmin, auth.RoleWarehouseManager)
	if err != nil {
		return nil, err
	}
	reason = inventory.SanitizeReason(reason)
	if reason == "" {
		return nil, errs.Validation("MISSING_REASON", "reason", "a rejection reason is required")
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != StatusPending {
		return nil, notPending(transfer.Status)
	}

	var now = time.Now().UTC()
	ok, err := s.store.MarkRejected(ctx, s.db, transfer.ID, tenant.UserID, reason, now)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("TRANSFER_NOT_PENDING", "transfer transitioned concurrently")
	}
	transfer.Status = StatusRejected
	transfer.RejectedBy = &tenant.UserID
	transfer.RejectionReason = &reason
	transfer.UpdatedAt = now
	transitionsCounter.WithLabelValues(string(StatusRejected)).Inc()

	s.bus.Publish(ctx, events.Event{
		Name:           events.TransferRejected,
		OrganizationID: tenant.OrgID,
		Payload: map[string]interface{}{
			"transferId": transfer.ID,
			"rejectedBy": tenant.UserID,
			"reason":     reason,
		},
	})
	return transfer, nil
}

// Cancel moves a PENDING or APPROVED transfer to CANCELLED with a reason.
func (s *Service) Cancel(ctx context.Context, transferID, reason string) (*Transfer, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	reason = inventory.SanitizeReason(reason)
	if reason == "" {
		return nil, errs.Validation("MISSING_REASON", "reason", "a cancellation reason is required")
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if !transfer.Status.CanTransition(StatusCancelled) {
		return nil, errs.Conflict("TRANSFER_NOT_CANCELLABLE",
			fmt.Sprintf("transfer is %s", transfer.Status))
	}

	var now = time.Now().UTC()
	ok, err := s.store.MarkCancelled(ctx, s.db, transfer.ID, reason, now)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("TRANSFER_NOT_CANCELLABLE", "transfer transitioned concurrently")
	}
	transfer.Status = StatusCancelled
	transfer.Notes = &reason
	transfer.UpdatedAt = now
	transitionsCounter.WithLabelValues(string(StatusCancelled)).Inc()
	return transfer, nil
}

// Reschedule updates scheduled_at of a PENDING transfer; the new time must be
// strictly in the future. The transfer stays PENDING.
func (s *Service) Reschedule(ctx context.Context, transferID string, scheduledAt time.Time) (*Transfer, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var now = time.Now().UTC()
	if !scheduledAt.After(now) {
		return nil, errs.Validation("INVALID_SCHEDULE", "scheduledAt",
			"scheduledAt must be in the future")
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != StatusPending {
		return nil, notPending(transfer.Status)
	}

	ok, err := s.store.Reschedule(ctx, s.db, transfer.ID, scheduledAt, now)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("TRANSFER_NOT_PENDING", "transfer transitioned concurrently")
	}
	var at = scheduledAt.UTC()
	transfer.ScheduledAt = &at
	transfer.UpdatedAt = now
	return transfer, nil
}

// MarkInTransit moves an APPROVED transfer to IN_TRANSIT, for deployments
// which track the physical leg between approval and completion.
func (s *Service) MarkInTransit(ctx context.Context, transferID string) (*Transfer, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != StatusApproved {
		return nil, errs.Conflict("TRANSFER_NOT_APPROVED",
			fmt.Sprintf("transfer is %s", transfer.Status))
	}

	var now = time.Now().UTC()
	ok, err := s.store.MarkInTransit(ctx, s.db, transfer.ID, now)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("TRANSFER_NOT_APPROVED", "transfer transitioned concurrently")
	}
	transfer.Status = StatusInTransit
	transfer.UpdatedAt = now
	transitionsCounter.WithLabelValues(string(StatusInTransit)).Inc()
	return transfer, nil
}

// Execute completes an APPROVED (or IN_TRANSIT) transfer: within one
// transaction it moves the reserved quantity from the source stock level to
// the target, points the reservation at the target warehouse, and appends the
// audit entry. The order linkage of the reservation is untouched. On a
// storage failure the transfer is best-effort marked FAILED.
func (s *Service) Execute(ctx context.Context, transferID string) (*Transfer, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	transfer, err := s.store.Get(ctx, s.db, tenant.OrgID, transferID)
	if err != nil {
		return nil, err
	}
	if !transfer.Status.CanTransition(StatusCompleted) {
		return nil, errs.Conflict("TRANSFER_NOT_APPROVED",
			fmt.Sprintf("transfer is %s", transfer.Status))
	}

	var now = time.Now().UTC()
	var orderID string
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var reservation, err = s.inv.GetReservation(ctx, tx, tenant.OrgID, transfer.ReservationID)
		if err != nil {
			return err
		}
		if reservation.ReleasedAt != nil {
			return errs.Conflict("RESERVATION_RELEASED", "reservation is already released")
		}
		orderID = reservation.OrderID

		// Lock both stock levels in a deterministic order, so two transfers
		// crossing between the same warehouses cannot deadlock.
		var order = []string{transfer.SourceWarehouseID, transfer.TargetWarehouseID}
		sort.Strings(order)
		var items = make(map[string]*inventory.Item, 2)
		for _, warehouseID := range order {
			if items[warehouseID], err = s.inv.GetItemForUpdate(
				ctx, tx, tenant.OrgID, warehouseID, transfer.SKU); err != nil {
				return err
			}
		}
		var source = items[transfer.SourceWarehouseID]
		var target = items[transfer.TargetWarehouseID]

		var previousReserved = source.ReservedQuantity
		source.ReservedQuantity -= transfer.Quantity
		if source.ReservedQuantity < 0 {
			source.ReservedQuantity = 0
		}
		if target.ReservedQuantity+transfer.Quantity > target.Quantity {
			return errs.Conflict("INSUFFICIENT_TARGET_STOCK",
				fmt.Sprintf("target holds %d on hand with %d already reserved",
					target.Quantity, target.ReservedQuantity))
		}
		target.ReservedQuantity += transfer.Quantity

		if err = s.inv.SaveItemQuantities(ctx, tx, source); err != nil {
			return err
		}
		if err = s.inv.SaveItemQuantities(ctx, tx, target); err != nil {
			return err
		}
		if err = s.inv.SetReservationWarehouse(ctx, tx, reservation.ID, transfer.TargetWarehouseID); err != nil {
			return err
		}

		ok, err := s.store.MarkCompleted(ctx, tx, transfer.ID, now)
		if err != nil {
			return err
		} else if !ok {
			return errs.Conflict("TRANSFER_NOT_APPROVED", "transfer executed concurrently")
		}

		var reserved = source.ReservedQuantity
		var variance = reserved - previousReserved
		var base = previousReserved
		if base < 1 {
			base = 1
		}
		var variancePercent = 100 * float64(variance) / float64(base)
		return s.auditor.Record(ctx, tx, &audit.Entry{
			OrganizationID:   tenant.OrgID,
			WarehouseID:      transfer.SourceWarehouseID,
			UserID:           tenant.UserID,
			SKU:              transfer.SKU,
			Action:           audit.ActionTransfer,
			PreviousQuantity: &previousReserved,
			NewQuantity:      &reserved,
			Variance:         &variance,
			VariancePercent:  &variancePercent,
			ReasonCode:       "TRANSFER",
			Notes:            transfer.Reason,
			Metadata: audit.Metadata{
				"source":        transfer.SourceWarehouseID,
				"target":        transfer.TargetWarehouseID,
				"quantity":      transfer.Quantity,
				"reservationId": transfer.ReservationID,
			},
		})
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			s.markFailed(ctx, transfer)
		}
		return nil, err
	}

	transfer.Status = StatusCompleted
	transfer.CompletedAt = &now
	transfer.UpdatedAt = now
	transitionsCounter.WithLabelValues(string(StatusCompleted)).Inc()

	s.bus.Publish(ctx, events.Event{
		Name:           events.TransferCompleted,
		OrganizationID: tenant.OrgID,
		Payload: map[string]interface{}{
			"transferId":        transfer.ID,
			"reservationId":     transfer.ReservationID,
			"orderId":           orderID,
			"sourceWarehouseId": transfer.SourceWarehouseID,
			"targetWarehouseId": transfer.TargetWarehouseID,
			"sku":               transfer.SKU,
			"quantity":          transfer.Quantity,
		},
	})
	return transfer, nil
}

func (s *Service) markFailed(ctx context.Context, transfer *Transfer) {
	transitionsCounter.WithLabelValues(string(StatusFailed)).Inc()
	if err := s.store.MarkFailed(ctx, s.db, transfer.ID); err != nil {
		log.WithFields(log.Fields{
			"error":    err,
			"transfer": transfer.ID,
		}).Error("failed to mark transfer failed")
	}
}

func notPending(status Status) error {
	return errs.Conflict("TRANSFER_NOT_PENDING", fmt.Sprintf("transfer is %s", status))
}
