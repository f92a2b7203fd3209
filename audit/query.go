package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Query filters a listing of audit entries. Zero fields are not applied.
type Query struct {
	WarehouseID string
	SKU         string
	Action      string
	UserID      string
	Start       time.Time
	End         time.Time
	Page        int // 1-based
	PageSize    int // default 50, max 500
}

// Stats summarize the entries matching a Query, ignoring paging.
type Stats struct {
	TotalEntries int64            `json:"totalEntries"`
	ByAction     map[string]int64 `json:"byAction"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (q *Query) whereClause(orgID string) (string, []interface{}) {
	var clauses = []string{"organization_id = ?"}
	var args = []interface{}{orgID}

	if q.WarehouseID != "" {
		clauses = append(clauses, "warehouse_id = ?")
		args = append(args, q.WarehouseID)
	}
	if q.SKU != "" {
		clauses = append(clauses, "sku = ?")
		args = append(args, q.SKU)
	}
	if q.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, q.Action)
	}
	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if !q.Start.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Start.UTC())
	}
	if !q.End.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, q.End.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

// List returns the page of entries matching |q|, newest first, along with
// stats over the full match set.
func (r *Recorder) List(ctx context.Context, orgID string, q Query) ([]Entry, *Stats, error) {
	var page, pageSize = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	} else if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var where, args = q.whereClause(orgID)

	var entries []Entry
	var query = fmt.Sprintf(
		`SELECT * FROM inventory_audit_log WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where)
	var err = r.db.SelectContext(ctx, &entries, r.db.Rebind(query),
		append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, nil, fmt.Errorf("listing audit entries: %w", err)
	}

	var rows []struct {
		Action string `db:"action"`
		Count  int64  `db:"count"`
	}
	query = fmt.Sprintf(
		`SELECT action, COUNT(*) AS count FROM inventory_audit_log WHERE %s GROUP BY action`,
		where)
	if err = r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, nil, fmt.Errorf("computing audit stats: %w", err)
	}

	var stats = &Stats{ByAction: make(map[string]int64)}
	for _, row := range rows {
		stats.ByAction[row.Action] = row.Count
		stats.TotalEntries += row.Count
	}
	return entries, stats, nil
}
