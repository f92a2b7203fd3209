// Package inventory is the stock ledger: warehouses, per-SKU stock levels,
// reservations, and the audited movements which mutate them.
package inventory

import (
	"fmt"
	"time"

	"github.com/tidemark/keel/errs"
)

// Warehouse is a physical stock location of one organization.
type Warehouse struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Name           string    `db:"name" json:"name"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Item is a stock level: one SKU in one warehouse. Rows are created on first
// receipt and never hard-deleted.
type Item struct {
	ID               string    `db:"id" json:"id"`
	OrganizationID   string    `db:"organization_id" json:"organizationId"`
	WarehouseID      string    `db:"warehouse_id" json:"warehouseId"`
	SKU              string    `db:"sku" json:"sku"`
	Quantity         int64     `db:"quantity" json:"quantity"`
	ReservedQuantity int64     `db:"reserved_quantity" json:"reservedQuantity"`
	IsLocked         bool      `db:"is_locked" json:"isLocked"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Available is the sellable quantity: on hand minus reserved.
func (i *Item) Available() int64 { return i.Quantity - i.ReservedQuantity }

// Reservation is a promise of stock to an order. It consumes
// reserved_quantity of its backing item until released; once released it is
// immutable.
type Reservation struct {
	ID               string     `db:"id" json:"id"`
	OrganizationID   string     `db:"organization_id" json:"organizationId"`
	OrderID          string     `db:"order_id" json:"orderId"`
	SKU              string     `db:"sku" json:"sku"`
	WarehouseID      string     `db:"warehouse_id" json:"warehouseId"`
	QuantityReserved int64      `db:"quantity_reserved" json:"quantityReserved"`
	ReleasedAt       *time.Time `db:"released_at" json:"releasedAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
}

// MovementType enumerates the audited stock mutations.
type MovementType string

// Movement types.
const (
	Receive          MovementType = "RECEIVE"
	Ship             MovementType = "SHIP"
	Return           MovementType = "RETURN"
	TransferOut      MovementType = "TRANSFER_OUT"
	TransferIn       MovementType = "TRANSFER_IN"
	AdjustmentAdd    MovementType = "ADJUSTMENT_ADD"
	AdjustmentRemove MovementType = "ADJUSTMENT_REMOVE"
	Damage           MovementType = "DAMAGE"
)

// Direction of stock flow, derived from the movement type.
type Direction string

// Directions.
const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DirectionOf derives the stock-flow direction of |t|.
func DirectionOf(t MovementType) (Direction, error) {
	switch t {
	case Receive, Return, TransferIn, AdjustmentAdd:
		return Inbound, nil
	case Ship, TransferOut, AdjustmentRemove, Damage:
		return Outbound, nil
	default:
		return "", errs.Validation("INVALID_MOVEMENT_TYPE", "type",
			fmt.Sprintf("unknown movement type %q", t))
	}
}

// Signed returns the quantity delta this direction applies to on-hand stock.
func (d Direction) Signed(quantity int64) int64 {
	if d == Outbound {
		return -quantity
	}
	return quantity
}

// MovementStatus is the lifecycle state of a movement.
type MovementStatus string

// Movement statuses. Completed and Cancelled are terminal.
const (
	MovementPending   MovementStatus = "pending"
	MovementCompleted MovementStatus = "completed"
	MovementCancelled MovementStatus = "cancelled"
	MovementFailed    MovementStatus = "failed"
)

// Movement is one atomic, audited change to the stock of a single warehouse.
type Movement struct {
	ID               string         `db:"id" json:"id"`
	OrganizationID   string         `db:"organization_id" json:"organizationId"`
	WarehouseID      string         `db:"warehouse_id" json:"warehouseId"`
	SKU              string         `db:"sku" json:"sku"`
	Quantity         int64          `db:"quantity" json:"quantity"`
	Type             MovementType   `db:"type" json:"type"`
	Direction        Direction      `db:"direction" json:"direction"`
	Status           MovementStatus `db:"status" json:"status"`
	ReferenceType    *string        `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID      *string        `db:"reference_id" json:"referenceId,omitempty"`
	Reason           string         `db:"reason" json:"reason"`
	CancelReason     *string        `db:"cancel_reason" json:"cancelReason,omitempty"`
	LinkedMovementID *string        `db:"linked_movement_id" json:"linkedMovementId,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	ExecutedAt       *time.Time     `db:"executed_at" json:"executedAt,omitempty"`
	ExecutedBy       *string        `db:"executed_by" json:"executedBy,omitempty"`
}

// Movement quantity bounds.
const (
	MinMovementQuantity = 1
	MaxMovementQuantity = 10_000_000
)
