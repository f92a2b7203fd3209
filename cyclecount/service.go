package cyclecount

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/inventory"
	"github.com/tidemark/keel/store"
)

// Service runs cycle count sessions: scope freezing and item locking at
// creation, count merging during the session, and ledger write-back on
// completion.
type Service struct {
	db     *store.DB
	store  *Store
	ledger *inventory.Service
}

// NewService wires a Service over |db|, applying completed counts through
// |ledger|.
func NewService(db *store.DB, ledger *inventory.Service) *Service {
	return &Service{db: db, store: NewStore(db), ledger: ledger}
}

// Store exposes the SQL layer for the API listing surface.
func (s *Service) Store() *Store { return s.store }

// CreateRequest are the caller-supplied fields of a new session.
type CreateRequest struct {
	WarehouseID string
	Type        Type
	SKUs        []string // PARTIAL only
	IsBlind     bool
	LockItems   bool
}

// Create opens a session. FULL freezes every SKU of the warehouse into the
// session scope; PARTIAL takes the caller's list, which must name existing
// stock levels. With LockItems the referenced rows are locked until
// completion. A warehouse holds at most one open session.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if req.Type != TypeFull && req.Type != TypePartial {
		return nil, errs.Validation("INVALID_SESSION_TYPE", "type",
			fmt.Sprintf("unknown session type %q", req.Type))
	}
	if _, err = s.ledger.Store().GetWarehouse(ctx, s.db, tenant.OrgID, req.WarehouseID); err != nil {
		return nil, err
	}

	active, err := s.store.HasActiveForWarehouse(ctx, s.db, tenant.OrgID, req.WarehouseID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errs.Conflict("ACTIVE_SESSION_EXISTS",
			"warehouse already has an open cycle count session")
	}

	var skus []string
	switch req.Type {
	case TypeFull:
		items, err := s.ledger.Store().ListItems(ctx, s.db, tenant.OrgID, req.WarehouseID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			skus = append(skus, item.SKU)
		}
		if len(skus) == 0 {
			return nil, errs.Validation("EMPTY_WAREHOUSE", "warehouseId",
				"warehouse has no stock levels to count")
		}
	case TypePartial:
		if len(req.SKUs) == 0 {
			return nil, errs.Validation("MISSING_SKUS", "skus",
				"a partial session requires at least one sku")
		}
		var seen = make(map[string]bool, len(req.SKUs))
		for _, sku := range req.SKUs {
			if sku == "" || seen[sku] {
				continue
			}
			if _, err = s.ledger.Store().GetItem(ctx, s.db, tenant.OrgID, req.WarehouseID, sku); err != nil {
				return nil, err
			}
			seen[sku] = true
			skus = append(skus, sku)
		}
		sort.Strings(skus)
	}

	var session = &Session{
		ID:             uuid.NewString(),
		OrganizationID: tenant.OrgID,
		WarehouseID:    req.WarehouseID,
		Type:           req.Type,
		IsBlind:        req.IsBlind,
		LockItems:      req.LockItems,
		Status:         StatusInProgress,
		ItemSKUs:       skus,
		Counts:         CountSet{},
		CreatedBy:      tenant.UserID,
		CreatedAt:      time.Now().UTC(),
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.Insert(ctx, tx, session); err != nil {
			return err
		}
		if session.LockItems {
			return s.ledger.Store().SetItemsLocked(
				ctx, tx, tenant.OrgID, session.WarehouseID, session.ItemSKUs, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sessionsCounter.WithLabelValues(string(session.Type)).Inc()
	return session, nil
}

// Get loads a session of the caller's organization.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, s.db, tenant.OrgID, sessionID)
}

// ItemView is one session SKU as shown to counters.
type ItemView struct {
	SKU              string `json:"sku"`
	ExpectedQuantity *int64 `json:"expectedQuantity,omitempty"`
	CountedQuantity  *int64 `json:"countedQuantity,omitempty"`
	CountedBy        string `json:"countedBy,omitempty"`
}

// View is the counter-facing session document.
type View struct {
	Session *Session   `json:"session"`
	Items   []ItemView `json:"items"`
}

// View builds the counter-facing document of a session. Blind sessions omit
// expected quantities.
func (s *Service) View(ctx context.Context, sessionID string) (*View, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, s.db, tenant.OrgID, sessionID)
	if err != nil {
		return nil, err
	}

	var view = &View{Session: session, Items: make([]ItemView, 0, len(session.ItemSKUs))}
	for _, sku := range session.ItemSKUs {
		var iv = ItemView{SKU: sku}
		if !session.IsBlind {
			item, err := s.ledger.Store().GetItem(ctx, s.db, tenant.OrgID, session.WarehouseID, sku)
			if err != nil {
				return nil, err
			}
			iv.ExpectedQuantity = &item.Quantity
		}
		if count, ok := session.Counts.Get(sku); ok {
			var counted = count.CountedQuantity
			iv.CountedQuantity = &counted
			iv.CountedBy = count.CountedBy
		}
		view.Items = append(view.Items, iv)
	}
	return view, nil
}

// CountSubmission is one incoming count.
type CountSubmission struct {
	SKU             string `json:"sku"`
	CountedQuantity int64  `json:"countedQuantity"`
}

// SubmitCounts merges |submissions| into an open session, by SKU with the
// last write winning. Every SKU must be in the session scope.
func (s *Service) SubmitCounts(ctx context.Context, sessionID string, submissions []CountSubmission) (*Session, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(submissions) == 0 {
		return nil, errs.Validation("MISSING_COUNTS", "counts", "no counts submitted")
	}
	session, err := s.store.Get(ctx, s.db, tenant.OrgID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusInProgress {
		return nil, notOpen(session.Status)
	}

	var inScope = make(map[string]bool, len(session.ItemSKUs))
	for _, sku := range session.ItemSKUs {
		inScope[sku] = true
	}

	var now = time.Now().UTC()
	var merged = make(map[string]Count, len(session.Counts))
	for _, count := range session.Counts {
		merged[count.SKU] = count
	}
	for _, sub := range submissions {
		if !inScope[sub.SKU] {
			return nil, errs.Validation("SKU_NOT_IN_SESSION", "sku",
				fmt.Sprintf("sku %s is not part of this session", sub.SKU))
		}
		if sub.CountedQuantity < 0 {
			return nil, errs.Validation("INVALID_COUNT", "countedQuantity",
				"counted quantity cannot be negative")
		}
		merged[sub.SKU] = Count{
			SKU:             sub.SKU,
			CountedQuantity: sub.CountedQuantity,
			CountedBy:       tenant.UserID,
			CountedAt:       now,
		}
	}

	var counts = make(CountSet, 0, len(merged))
	for _, count := range merged {
		counts = append(counts, count)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].SKU < counts[j].SKU })

	ok, err := s.store.SaveCounts(ctx, s.db, session.ID, counts)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("SESSION_NOT_OPEN", "session completed concurrently")
	}
	countsSubmittedCounter.Add(float64(len(submissions)))
	session.Counts = counts
	return session, nil
}

// CompletionResult pairs the completed session with the per-SKU write-back
// outcomes.
type CompletionResult struct {
	Session *Session              `json:"session"`
	Updates *inventory.BulkResult `json:"updates"`
}

// Complete applies every submitted count to the ledger as an absolute update
// tagged CYCLE_COUNT, then unlocks the session's items and marks it
// COMPLETED. Write-back is per SKU: one rejected count does not withhold the
// rest, and counts over the approval cut-off are reported unapplied.
func (s *Service) Complete(ctx context.Context, sessionID string) (*CompletionResult, error) {
	var tenant, err = auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, s.db, tenant.OrgID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusInProgress {
		return nil, notOpen(session.Status)
	}

	var reqs = make([]inventory.UpdateRequest, 0, len(session.Counts))
	for _, count := range session.Counts {
		reqs = append(reqs, inventory.UpdateRequest{
			WarehouseID: session.WarehouseID,
			SKU:         count.SKU,
			Mode:        inventory.Absolute,
			Quantity:    count.CountedQuantity,
			ReasonCode:  inventory.ReasonCodeCycleCount,
			Notes:       fmt.Sprintf("cycle count %s", session.ID),
		})
	}
	updates, err := s.ledger.BulkUpdate(ctx, reqs, false)
	if err != nil {
		return nil, err
	}
	if updates.Failed > 0 {
		log.WithFields(log.Fields{
			"session": session.ID,
			"failed":  updates.Failed,
		}).Warn("cycle count completed with rejected counts")
	}

	var now = time.Now().UTC()
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if session.LockItems {
			if err := s.ledger.Store().SetItemsLocked(
				ctx, tx, tenant.OrgID, session.WarehouseID, session.ItemSKUs, false); err != nil {
				return err
			}
		}
		ok, err := s.store.MarkCompleted(ctx, tx, session.ID, now)
		if err != nil {
			return err
		} else if !ok {
			return errs.Conflict("SESSION_NOT_OPEN", "session completed concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	completionsCounter.Inc()

	session.Status = StatusCompleted
	session.CompletedAt = &now
	return &CompletionResult{Session: session, Updates: updates}, nil
}

func notOpen(status Status) error {
	return errs.Conflict("SESSION_NOT_OPEN", fmt.Sprintf("session is %s", status))
}
