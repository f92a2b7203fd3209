package inventory

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
)

// UpdateMode selects how a quantity update is interpreted.
type UpdateMode string

// Update modes.
const (
	Absolute   UpdateMode = "ABSOLUTE"   // Quantity is the new on-hand count
	Adjustment UpdateMode = "ADJUSTMENT" // Quantity is a signed delta
)

// ReasonCodeCycleCount tags updates applied by cycle-count completion.
const ReasonCodeCycleCount = "CYCLE_COUNT"

// UpdateRequest sets or adjusts the on-hand quantity of one stock level.
type UpdateRequest struct {
	WarehouseID string
	SKU         string
	Mode        UpdateMode
	Quantity    int64
	ReasonCode  string // defaults to MANUAL
	Notes       string
}

// UpdateResult reports one applied or withheld update.
type UpdateResult struct {
	SKU              string        `json:"sku"`
	PreviousQuantity int64         `json:"previousQuantity"`
	NewQuantity      int64         `json:"newQuantity"`
	Variance         int64         `json:"variance"`
	VariancePercent  float64       `json:"variancePercent"`
	Level            VarianceLevel `json:"varianceLevel"`
	RequiresApproval bool          `json:"requiresApproval"`
	Applied          bool          `json:"applied"`
}

// ApplyUpdate computes and applies one quantity update in its own
// transaction. An update whose variance exceeds the auto-approval cut-off is
// returned unapplied with RequiresApproval set.
func (s *Service) ApplyUpdate(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var result *UpdateResult
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		result, txErr = s.applyUpdateInTx(ctx, tx, tenant, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BulkItemResult pairs one bulk request with its outcome.
type BulkItemResult struct {
	SKU    string        `json:"sku"`
	Result *UpdateResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BulkResult summarizes a bulk update.
type BulkResult struct {
	Applied int              `json:"applied"`
	Failed  int              `json:"failed"`
	Items   []BulkItemResult `json:"items"`
}

// BulkUpdate applies |reqs| either atomically (one transaction, the first
// failure rolls back everything) or best-effort (each request in its own
// transaction, failures recorded per item).
func (s *Service) BulkUpdate(ctx context.Context, reqs []UpdateRequest, atomic bool) (*BulkResult, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var bulk = &BulkResult{Items: make([]BulkItemResult, 0, len(reqs))}

	if atomic {
		err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, req := range reqs {
				var result, err = s.applyUpdateInTx(ctx, tx, tenant, req)
				if err != nil {
					return err
				}
				bulk.Items = append(bulk.Items, BulkItemResult{SKU: req.SKU, Result: result})
				if result.Applied {
					bulk.Applied++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return bulk, nil
	}

	for _, req := range reqs {
		var result, err = s.ApplyUpdate(ctx, req)
		if err != nil {
			bulk.Items = append(bulk.Items, BulkItemResult{SKU: req.SKU, Error: err.Error()})
			bulk.Failed++
			continue
		}
		bulk.Items = append(bulk.Items, BulkItemResult{SKU: req.SKU, Result: result})
		if result.Applied {
			bulk.Applied++
		}
	}
	return bulk, nil
}

func (s *Service) applyUpdateInTx(ctx context.Context, tx *sqlx.Tx, tenant auth.Tenant, req UpdateRequest) (*UpdateResult, error) {
	if req.Mode != Absolute && req.Mode != Adjustment {
		return nil, errs.Validation("INVALID_UPDATE_MODE", "mode",
			"mode must be ABSOLUTE or ADJUSTMENT")
	}
	var reasonCode = req.ReasonCode
	if reasonCode == "" {
		reasonCode = "MANUAL"
	}

	var item, err = s.store.GetItemForUpdate(ctx, tx, tenant.OrgID, req.WarehouseID, req.SKU)
	if err != nil {
		return nil, err
	}
	// Cycle-count completion writes through its own session lock.
	if item.IsLocked && reasonCode != ReasonCodeCycleCount {
		return nil, errs.Conflict("ITEM_LOCKED", "item is locked by an open cycle count")
	}

	var next int64
	switch req.Mode {
	case Absolute:
		next = req.Quantity
	case Adjustment:
		next = item.Quantity + req.Quantity
	}
	if next < 0 {
		return nil, errs.Validation("NEGATIVE_QUANTITY", "quantity",
			"update would drive on-hand quantity negative")
	}
	if next < item.ReservedQuantity {
		return nil, errs.Conflict("QUANTITY_BELOW_RESERVED",
			"update would drop quantity below the reserved amount")
	}

	var variance = s.Thresholds.Classify(item.Quantity, next)
	var result = &UpdateResult{
		SKU:              req.SKU,
		PreviousQuantity: item.Quantity,
		NewQuantity:      next,
		Variance:         variance.Variance,
		VariancePercent:  variance.Percent,
		Level:            variance.Level,
	}

	if s.Thresholds.RequiresApproval(variance) {
		result.RequiresApproval = true
		updatesAppliedCounter.WithLabelValues(string(variance.Level), "withheld").Inc()
		return result, nil
	}

	var previous = item.Quantity
	item.Quantity = next
	if err = s.store.SaveItemQuantities(ctx, tx, item); err != nil {
		return nil, err
	}

	err = s.auditor.Record(ctx, tx, &audit.Entry{
		OrganizationID:   tenant.OrgID,
		WarehouseID:      req.WarehouseID,
		UserID:           tenant.UserID,
		SKU:              req.SKU,
		Action:           audit.ActionAdjustment,
		PreviousQuantity: &previous,
		NewQuantity:      &next,
		Variance:         &variance.Variance,
		VariancePercent:  &variance.Percent,
		ReasonCode:       reasonCode,
		Notes:            req.Notes,
	})
	if err != nil {
		return nil, err
	}

	result.Applied = true
	updatesAppliedCounter.WithLabelValues(string(variance.Level), "applied").Inc()
	return result, nil
}
