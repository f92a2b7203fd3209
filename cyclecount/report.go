package cyclecount

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/inventory"
)

// ReportItem compares one counted SKU against its persisted quantity.
type ReportItem struct {
	SKU             string                  `json:"sku"`
	Expected        int64                   `json:"expected"`
	Counted         int64                   `json:"counted"`
	Variance        int64                   `json:"variance"`
	VariancePercent float64                 `json:"variancePercent"`
	Level           inventory.VarianceLevel `json:"varianceLevel"`
}

// Report summarizes the variance of a session's counts against the ledger at
// the time the report is built. Only counted SKUs get per-item rows.
type Report struct {
	SessionID         string       `json:"sessionId"`
	WarehouseID       string       `json:"warehouseId"`
	Type              Type         `json:"type"`
	Status            Status       `json:"status"`
	TotalItems        int          `json:"totalItems"`
	CountedItems      int          `json:"countedItems"`
	ItemsWithVariance int          `json:"itemsWithVariance"`
	TotalVariance     int64        `json:"totalVariance"`
	AbsoluteVariance  int64        `json:"absoluteVariance"`
	Items             []ReportItem `json:"items"`
}

// VarianceReport builds the report of a session. It can be taken at any point
// of the session lifecycle; after completion applied counts read back with
// zero variance.
func (s *Service) VarianceReport(ctx context.Context, sessionID string) (*Report, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, s.db, tenant.OrgID, sessionID)
	if err != nil {
		return nil, err
	}

	var report = &Report{
		SessionID:   session.ID,
		WarehouseID: session.WarehouseID,
		Type:        session.Type,
		Status:      session.Status,
		TotalItems:  len(session.ItemSKUs),
	}
	for _, count := range session.Counts {
		item, err := s.ledger.Store().GetItem(ctx, s.db, tenant.OrgID, session.WarehouseID, count.SKU)
		if err != nil {
			return nil, err
		}
		var v = s.ledger.Thresholds.Classify(item.Quantity, count.CountedQuantity)
		report.Items = append(report.Items, ReportItem{
			SKU:             count.SKU,
			Expected:        item.Quantity,
			Counted:         count.CountedQuantity,
			Variance:        v.Variance,
			VariancePercent: v.Percent,
			Level:           v.Level,
		})
		report.CountedItems++
		if v.Variance != 0 {
			report.ItemsWithVariance++
		}
		report.TotalVariance += v.Variance
		if v.Variance < 0 {
			report.AbsoluteVariance -= v.Variance
		} else {
			report.AbsoluteVariance += v.Variance
		}
	}
	return report, nil
}

// String renders the report as a fixed-width text block.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CYCLE COUNT VARIANCE REPORT\n")
	fmt.Fprintf(&b, "session %s (%s) in warehouse %s\n", r.SessionID, r.Type, r.WarehouseID)
	fmt.Fprintf(&b, "items %d, counted %d, with variance %d\n", r.TotalItems, r.CountedItems, r.ItemsWithVariance)
	fmt.Fprintf(&b, "total variance %+d, absolute variance %d\n\n", r.TotalVariance, r.AbsoluteVariance)
	fmt.Fprintf(&b, "%-12s %9s %9s %9s %9s  %s\n", "SKU", "EXPECTED", "COUNTED", "VARIANCE", "PERCENT", "LEVEL")
	for _, item := range r.Items {
		fmt.Fprintf(&b, "%-12s %9d %9d %9d %8.2f%%  %s\n",
			item.SKU, item.Expected, item.Counted, item.Variance, item.VariancePercent, item.Level)
	}
	return b.String()
}
