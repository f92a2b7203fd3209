package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MovementFilter narrows a movement listing. Zero fields are not applied.
type MovementFilter struct {
	Type        MovementType
	Status      MovementStatus
	WarehouseID string
	SKU         string
	Start       time.Time
	End         time.Time
	Page        int // 1-based
	PageSize    int // default 50, max 500
}

// MovementStats summarize every movement matching the filter, ignoring
// paging. Quantity totals cover completed movements only.
type MovementStats struct {
	TotalCount       int64                    `json:"totalCount"`
	ByStatus         map[MovementStatus]int64 `json:"byStatus"`
	InboundQuantity  int64                    `json:"inboundQuantity"`
	OutboundQuantity int64                    `json:"outboundQuantity"`
}

// MovementPage is one page of a movement listing.
type MovementPage struct {
	Movements []Movement     `json:"movements"`
	Page      int            `json:"page"`
	PageSize  int            `json:"pageSize"`
	Stats     *MovementStats `json:"stats"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (f *MovementFilter) whereClause(orgID string) (string, []interface{}) {
	var clauses = []string{"organization_id = ?"}
	var args = []interface{}{orgID}

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.WarehouseID != "" {
		clauses = append(clauses, "warehouse_id = ?")
		args = append(args, f.WarehouseID)
	}
	if f.SKU != "" {
		clauses = append(clauses, "sku = ?")
		args = append(args, f.SKU)
	}
	if !f.Start.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.End.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

// ListMovements returns the page of movements matching |f|, newest first,
// with stats over the full match set.
func (s *Store) ListMovements(ctx context.Context, orgID string, f MovementFilter) (*MovementPage, error) {
	var page, pageSize = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	} else if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var where, args = f.whereClause(orgID)

	var movements = []Movement{}
	var query = fmt.Sprintf(
		`SELECT * FROM stock_movements WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where)
	var err = s.db.SelectContext(ctx, &movements, s.db.Rebind(query),
		append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("listing movements: %w", err)
	}

	var rows []struct {
		Status    MovementStatus `db:"status"`
		Direction Direction      `db:"direction"`
		Count     int64          `db:"count"`
		Quantity  int64          `db:"quantity"`
	}
	query = fmt.Sprintf(`
		SELECT status, direction, COUNT(*) AS count, COALESCE(SUM(quantity), 0) AS quantity
		FROM stock_movements WHERE %s GROUP BY status, direction`, where)
	if err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("computing movement stats: %w", err)
	}

	var stats = &MovementStats{ByStatus: make(map[MovementStatus]int64)}
	for _, row := range rows {
		stats.TotalCount += row.Count
		stats.ByStatus[row.Status] += row.Count
		if row.Status == MovementCompleted {
			if row.Direction == Inbound {
				stats.InboundQuantity += row.Quantity
			} else {
				stats.OutboundQuantity += row.Quantity
			}
		}
	}

	return &MovementPage{
		Movements: movements,
		Page:      page,
		PageSize:  pageSize,
		Stats:     stats,
	}, nil
}
