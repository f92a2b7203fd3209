package cyclecount

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Type selects how a session scopes its items.
type Type string

// Session types. FULL counts every stock level of the warehouse, PARTIAL
// counts a caller-supplied SKU list.
const (
	TypeFull    Type = "FULL"
	TypePartial Type = "PARTIAL"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Count is one counted quantity, merged into the session by SKU.
type Count struct {
	SKU             string    `json:"sku"`
	CountedQuantity int64     `json:"countedQuantity"`
	CountedBy       string    `json:"countedBy"`
	CountedAt       time.Time `json:"countedAt"`
}

// StringList is a JSON array stored as TEXT.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	var b, err = json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshaling sku list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return json.Unmarshal(b, l)
}

// CountSet is the merged counts of a session, stored as a JSON array sorted
// by SKU.
type CountSet []Count

// Value implements driver.Valuer.
func (c CountSet) Value() (driver.Value, error) {
	if c == nil {
		c = CountSet{}
	}
	var b, err = json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling counts: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *CountSet) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CountSet", src)
	}
	return json.Unmarshal(b, c)
}

// Get returns the count of |sku|, if one was submitted.
func (c CountSet) Get(sku string) (Count, bool) {
	for _, count := range c {
		if count.SKU == sku {
			return count, true
		}
	}
	return Count{}, false
}

// Session is one cycle count of a warehouse. Its SKU scope is frozen at
// creation; counts accumulate through submissions until completion applies
// them to the ledger.
type Session struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organizationId"`
	WarehouseID    string     `db:"warehouse_id" json:"warehouseId"`
	Type           Type       `db:"type" json:"type"`
	IsBlind        bool       `db:"is_blind" json:"isBlind"`
	LockItems      bool       `db:"lock_items" json:"lockItems"`
	Status         Status     `db:"status" json:"status"`
	ItemSKUs       StringList `db:"item_skus" json:"itemSkus"`
	Counts         CountSet   `db:"counts" json:"counts"`
	CreatedBy      string     `db:"created_by" json:"createdBy"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}
