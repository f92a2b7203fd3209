// Package audit persists the append-only inventory audit log: every stock
// mutation leaves an entry recording who changed what, by how much, and why.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/store"
)

// Actions of an audit entry.
const (
	ActionMovement   = "MOVEMENT"
	ActionAdjustment = "ADJUSTMENT"
	ActionTransfer   = "TRANSFER"
)

// Metadata is a free-form JSON object stored as TEXT.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(s, m)
	case string:
		return json.Unmarshal([]byte(s), m)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// Entry is one appended audit record. Quantity fields are pointers because
// not every action carries them.
type Entry struct {
	ID               string    `db:"id" json:"id"`
	OrganizationID   string    `db:"organization_id" json:"organizationId"`
	WarehouseID      string    `db:"warehouse_id" json:"warehouseId"`
	UserID           string    `db:"user_id" json:"userId"`
	SKU              string    `db:"sku" json:"sku"`
	Action           string    `db:"action" json:"action"`
	PreviousQuantity *int64    `db:"previous_quantity" json:"previousQuantity,omitempty"`
	NewQuantity      *int64    `db:"new_quantity" json:"newQuantity,omitempty"`
	Variance         *int64    `db:"variance" json:"variance,omitempty"`
	VariancePercent  *float64  `db:"variance_percent" json:"variancePercent,omitempty"`
	ReasonCode       string    `db:"reason_code" json:"reasonCode"`
	Notes            string    `db:"notes" json:"notes,omitempty"`
	Metadata         Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// Recorder appends and queries audit entries.
type Recorder struct {
	db *store.DB
}

// NewRecorder returns a Recorder over |db|.
func NewRecorder(db *store.DB) *Recorder { return &Recorder{db: db} }

var insertEntry = `
	INSERT INTO inventory_audit_log
		(id, organization_id, warehouse_id, user_id, sku, action,
		 previous_quantity, new_quantity, variance, variance_percent,
		 reason_code, notes, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record appends |entry| through |q|, which is typically the caller's open
// transaction so the entry commits together with the primary write.
func (r *Recorder) Record(ctx context.Context, q store.Querier, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var _, err = q.ExecContext(ctx, q.Rebind(insertEntry),
		entry.ID, entry.OrganizationID, entry.WarehouseID, entry.UserID,
		entry.SKU, entry.Action, entry.PreviousQuantity, entry.NewQuantity,
		entry.Variance, entry.VariancePercent, entry.ReasonCode, entry.Notes,
		entry.Metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// RecordBestEffort appends |entry| outside any transaction. Failures are
// logged and swallowed: an audit miss must never fail the primary operation.
func (r *Recorder) RecordBestEffort(ctx context.Context, entry *Entry) {
	if err := r.Record(ctx, r.db, entry); err != nil {
		log.WithFields(log.Fields{
			"error":  err,
			"org":    entry.OrganizationID,
			"sku":    entry.SKU,
			"action": entry.Action,
		}).Error("failed to write audit entry")
	}
}
