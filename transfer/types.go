// Package transfer implements the warehouse-to-warehouse transfer workflow:
// requests move through an approval state machine, and execution moves the
// backing reservation between warehouses inside a single transaction.
package transfer

import "time"

// Type selects how a transfer request enters the workflow.
type Type string

// Transfer types. IMMEDIATE requests skip the approval step; SCHEDULED
// requests wait for a future scheduled_at and are picked up by the worker.
const (
	TypeImmediate Type = "IMMEDIATE"
	TypePending   Type = "PENDING"
	TypeScheduled Type = "SCHEDULED"
)

// Status is the lifecycle state of a transfer request.
type Status string

// Transfer statuses.
const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// validTransitions holds the allowed edges of the status machine. Statuses
// absent from the map are terminal.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusInTransit, StatusCompleted, StatusCancelled, StatusFailed},
	StatusInTransit: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether the edge s -> to is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves |s|.
func (s Status) IsTerminal() bool { return len(validTransitions[s]) == 0 }

// IsActive reports whether |s| counts against the one-active-transfer-per-
// reservation invariant.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusApproved || s == StatusInTransit
}

// Priority orders due scheduled transfers for the worker.
type Priority string

// Priorities, least to most urgent.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ValidPriority reports whether |p| is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Transfer is one transfer request: a promise to move a reservation (and the
// stock backing it) from its source warehouse to a target warehouse.
type Transfer struct {
	ID                string     `db:"id" json:"id"`
	OrganizationID    string     `db:"organization_id" json:"organizationId"`
	ReservationID     string     `db:"reservation_id" json:"reservationId"`
	SourceWarehouseID string     `db:"source_warehouse_id" json:"sourceWarehouseId"`
	TargetWarehouseID string     `db:"target_warehouse_id" json:"targetWarehouseId"`
	SKU               string     `db:"sku" json:"sku"`
	Quantity          int64      `db:"quantity" json:"quantity"`
	Type              Type       `db:"transfer_type" json:"transferType"`
	Status            Status     `db:"status" json:"status"`
	Priority          Priority   `db:"priority" json:"priority"`
	ScheduledAt       *time.Time `db:"scheduled_at" json:"scheduledAt,omitempty"`
	Reason            string     `db:"reason" json:"reason"`
	RequestedBy       string     `db:"requested_by" json:"requestedBy"`
	ApprovedBy        *string    `db:"approved_by" json:"approvedBy,omitempty"`
	RejectedBy        *string    `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectionReason   *string    `db:"rejection_reason" json:"rejectionReason,omitempty"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
	CompletedAt       *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}
