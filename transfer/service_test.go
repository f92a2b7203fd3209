package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/events"
	"github.com/tidemark/keel/inventory"
	"github.com/tidemark/keel/store"
)

func TestPendingTransferLifecycle(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	var order []string
	for _, name := range []string{events.TransferRequested, events.TransferApproved, events.TransferCompleted} {
		var name = name
		h.bus.Subscribe(name, func(_ context.Context, e events.Event) {
			order = append(order, name)
		})
	}

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          20,
		Type:              TypePending,
		Reason:            "rebalance stock",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, transfer.Status)
	require.Equal(t, PriorityNormal, transfer.Priority)
	require.Equal(t, "SKU-001", transfer.SKU)

	// A plain operator may not approve; a warehouse manager may.
	_, err = h.svc.Approve(h.operator, transfer.ID)
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))

	transfer, err = h.svc.Approve(h.manager, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, transfer.Status)
	require.Equal(t, "manager-1", *transfer.ApprovedBy)

	// Approving twice conflicts.
	_, err = h.svc.Approve(h.manager, transfer.ID)
	require.Equal(t, "TRANSFER_NOT_PENDING", errs.CodeOf(err))

	transfer, err = h.svc.Execute(h.operator, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, transfer.Status)
	require.NotNil(t, transfer.CompletedAt)

	// Reserved quantity moved from source to target; on-hand stock of each
	// warehouse is untouched (the physical leg rides on movement pairs).
	var source = h.item(t, "wh-A", "SKU-001")
	require.Equal(t, int64(100), source.Quantity)
	require.Equal(t, int64(0), source.ReservedQuantity)
	var target = h.item(t, "wh-B", "SKU-001")
	require.Equal(t, int64(50), target.Quantity)
	require.Equal(t, int64(20), target.ReservedQuantity)

	// The reservation follows the stock; its order linkage is preserved.
	reservation, err := h.inv.GetReservation(context.Background(), h.db, "org-1", "res-001")
	require.NoError(t, err)
	require.Equal(t, "wh-B", reservation.WarehouseID)
	require.Equal(t, "order-001", reservation.OrderID)

	// The audit trail records the transfer.
	entries, _, err := h.auditor.List(context.Background(), "org-1", audit.Query{Action: audit.ActionTransfer})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "SKU-001", entries[0].SKU)
	require.Equal(t, "wh-A", entries[0].WarehouseID)
	require.Equal(t, float64(20), entries[0].Metadata["quantity"])
	require.Equal(t, "res-001", entries[0].Metadata["reservationId"])
	require.Equal(t, int64(-20), *entries[0].Variance)

	require.Equal(t, []string{
		events.TransferRequested, events.TransferApproved, events.TransferCompleted,
	}, order)

	// Executing again conflicts, and COMPLETED frees the reservation for a
	// new transfer request.
	_, err = h.svc.Execute(h.operator, transfer.ID)
	require.Equal(t, "TRANSFER_NOT_APPROVED", errs.CodeOf(err))
}

func TestImmediateTransferAutoApproves(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          8,
		Type:              TypeImmediate,
		Reason:            "urgent rebalance",
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, transfer.Status)
	require.Equal(t, "operator-1", *transfer.ApprovedBy)

	_, err = h.svc.Execute(h.operator, transfer.ID)
	require.NoError(t, err)

	require.Equal(t, int64(12), h.item(t, "wh-A", "SKU-001").ReservedQuantity)
	require.Equal(t, int64(8), h.item(t, "wh-B", "SKU-001").ReservedQuantity)
}

func TestCreateValidation(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	var base = CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypePending,
		Reason:            "rebalance",
	}

	var cases = []struct {
		name   string
		mutate func(*CreateRequest)
		code   string
	}{
		{"zero quantity", func(r *CreateRequest) { r.Quantity = 0 }, "INVALID_QUANTITY"},
		{"empty reason", func(r *CreateRequest) { r.Reason = "<i></i>" }, "MISSING_REASON"},
		{"unknown type", func(r *CreateRequest) { r.Type = "EVENTUAL" }, "INVALID_TRANSFER_TYPE"},
		{"unknown priority", func(r *CreateRequest) { r.Priority = "MEH" }, "INVALID_PRIORITY"},
		{"unknown reservation", func(r *CreateRequest) { r.ReservationID = "res-404" }, "RESERVATION_NOT_FOUND"},
		{"wrong source", func(r *CreateRequest) { r.SourceWarehouseID = "wh-B"; r.TargetWarehouseID = "wh-A" }, "SOURCE_MISMATCH"},
		{"over reservation", func(r *CreateRequest) { r.Quantity = 21 }, "QUANTITY_EXCEEDS_RESERVATION"},
		{"same warehouse", func(r *CreateRequest) { r.TargetWarehouseID = "wh-A" }, "SAME_WAREHOUSE"},
		{"unknown target", func(r *CreateRequest) { r.TargetWarehouseID = "wh-404" }, "WAREHOUSE_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req = base
			tc.mutate(&req)
			var _, err = h.svc.Create(h.operator, req)
			require.Error(t, err)
			require.Equal(t, tc.code, errs.CodeOf(err))
		})
	}

	// Scheduled transfers require a future scheduled_at.
	var past = time.Now().Add(-time.Minute)
	var _, err = h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypeScheduled,
		ScheduledAt:       &past,
		Reason:            "rebalance",
	})
	require.Equal(t, "INVALID_SCHEDULE", errs.CodeOf(err))
}

func TestDuplicateActiveTransferRefused(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	first, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypePending,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	var req = CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          5,
		Type:              TypeImmediate,
		Reason:            "second attempt",
	}
	_, err = h.svc.Create(h.operator, req)
	require.Equal(t, "DUPLICATE_ACTIVE_TRANSFER", errs.CodeOf(err))

	// A rejected transfer is no longer active, so a new request is accepted.
	_, err = h.svc.Reject(h.manager, first.ID, "not now")
	require.NoError(t, err)
	_, err = h.svc.Create(h.operator, req)
	require.NoError(t, err)
}

func TestRejectRecordsRejecter(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypePending,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	_, err = h.svc.Reject(h.operator, transfer.ID, "no capacity")
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))

	transfer, err = h.svc.Reject(h.manager, transfer.ID, "no capacity")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, transfer.Status)
	require.Equal(t, "manager-1", *transfer.RejectedBy)
	require.Equal(t, "no capacity", *transfer.RejectionReason)

	// REJECTED is terminal.
	_, err = h.svc.Approve(h.manager, transfer.ID)
	require.Equal(t, "TRANSFER_NOT_PENDING", errs.CodeOf(err))
	_, err = h.svc.Execute(h.operator, transfer.ID)
	require.Equal(t, "TRANSFER_NOT_APPROVED", errs.CodeOf(err))
}

func TestCancelFromPendingAndApproved(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypePending,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	transfer, err = h.svc.Cancel(h.operator, transfer.ID, "plans changed")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, transfer.Status)
	require.Equal(t, "plans changed", *transfer.Notes)

	// Cancel works from APPROVED too, but not from COMPLETED.
	transfer, err = h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypeImmediate,
		Reason:            "rebalance",
	})
	require.NoError(t, err)
	_, err = h.svc.Cancel(h.operator, transfer.ID, "plans changed again")
	require.NoError(t, err)

	transfer, err = h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypeImmediate,
		Reason:            "rebalance",
	})
	require.NoError(t, err)
	_, err = h.svc.Execute(h.operator, transfer.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(h.operator, transfer.ID, "too late")
	require.Equal(t, "TRANSFER_NOT_CANCELLABLE", errs.CodeOf(err))
}

func TestRescheduleKeepsPending(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	var at = time.Now().Add(time.Hour)
	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypeScheduled,
		ScheduledAt:       &at,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	_, err = h.svc.Reschedule(h.operator, transfer.ID, time.Now().Add(-time.Minute))
	require.Equal(t, "INVALID_SCHEDULE", errs.CodeOf(err))

	var later = time.Now().Add(2 * time.Hour)
	transfer, err = h.svc.Reschedule(h.operator, transfer.ID, later)
	require.NoError(t, err)
	require.Equal(t, StatusPending, transfer.Status)
	require.WithinDuration(t, later.UTC(), *transfer.ScheduledAt, time.Second)

	// Only PENDING transfers reschedule.
	transfer, err = h.svc.Approve(h.manager, transfer.ID)
	require.NoError(t, err)
	_, err = h.svc.Reschedule(h.operator, transfer.ID, time.Now().Add(3*time.Hour))
	require.Equal(t, "TRANSFER_NOT_PENDING", errs.CodeOf(err))
}

func TestInTransitLeg(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypeImmediate,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	transfer, err = h.svc.MarkInTransit(h.operator, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, transfer.Status)

	// In-transit transfers still execute, but cannot be cancelled.
	_, err = h.svc.Cancel(h.operator, transfer.ID, "abort")
	require.Equal(t, "TRANSFER_NOT_CANCELLABLE", errs.CodeOf(err))
	transfer, err = h.svc.Execute(h.operator, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, transfer.Status)
}

func TestInsufficientTargetStockFailsExecution(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	// Target holds 50 with 45 already reserved: 20 more cannot fit.
	var target = h.item(t, "wh-B", "SKU-001")
	target.ReservedQuantity = 45
	require.NoError(t, h.inv.SaveItemQuantities(context.Background(), h.db, target))

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          20,
		Type:              TypeImmediate,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	_, err = h.svc.Execute(h.operator, transfer.ID)
	require.Equal(t, "INSUFFICIENT_TARGET_STOCK", errs.CodeOf(err))

	// The refusal rolled back: nothing moved, and the transfer stays
	// APPROVED for a later retry.
	require.Equal(t, int64(20), h.item(t, "wh-A", "SKU-001").ReservedQuantity)
	reloaded, err := h.svc.store.Get(context.Background(), h.db, "org-1", transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, reloaded.Status)
}

func TestTransferTenantIsolation(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          10,
		Type:              TypePending,
		Reason:            "rebalance",
	})
	require.NoError(t, err)

	var other = auth.WithTenant(context.Background(),
		auth.Tenant{OrgID: "org-2", UserID: "intruder", Role: auth.RoleAdmin})
	_, err = h.svc.Approve(other, transfer.ID)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
	_, err = h.svc.Execute(other, transfer.ID)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestListDueOrdering(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)
	var ctx = context.Background()

	var base = time.Now().Add(-time.Hour).UTC()
	var mk = func(id string, priority Priority, offset time.Duration) {
		var at = base.Add(offset)
		require.NoError(t, h.svc.store.Insert(ctx, h.db, &Transfer{
			ID:                id,
			OrganizationID:    "org-1",
			ReservationID:     "res-" + id,
			SourceWarehouseID: "wh-A",
			TargetWarehouseID: "wh-B",
			SKU:               "SKU-001",
			Quantity:          1,
			Type:              TypeScheduled,
			Status:            StatusPending,
			Priority:          priority,
			ScheduledAt:       &at,
			Reason:            "scheduled",
			RequestedBy:       "operator-1",
		}))
	}
	mk("t-low", PriorityLow, 0)
	mk("t-urgent-late", PriorityUrgent, 30*time.Minute)
	mk("t-urgent-early", PriorityUrgent, 10*time.Minute)
	mk("t-normal", PriorityNormal, 5*time.Minute)

	// A future transfer is not due.
	var future = time.Now().Add(time.Hour).UTC()
	require.NoError(t, h.svc.store.Insert(ctx, h.db, &Transfer{
		ID: "t-future", OrganizationID: "org-1", ReservationID: "res-f",
		SourceWarehouseID: "wh-A", TargetWarehouseID: "wh-B", SKU: "SKU-001",
		Quantity: 1, Type: TypeScheduled, Status: StatusPending,
		Priority: PriorityUrgent, ScheduledAt: &future,
		Reason: "scheduled", RequestedBy: "operator-1",
	}))

	due, err := h.svc.store.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)

	var ids = make([]string, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}
	require.Equal(t, []string{"t-urgent-early", "t-urgent-late", "t-normal", "t-low"}, ids)
}

func TestWorkerExecutesDueTransfers(t *testing.T) {
	var h = harnessForTest(t)
	h.seedScenario(t)

	var soon = time.Now().Add(25 * time.Millisecond)
	transfer, err := h.svc.Create(h.operator, CreateRequest{
		ReservationID:     "res-001",
		SourceWarehouseID: "wh-A",
		TargetWarehouseID: "wh-B",
		Quantity:          20,
		Type:              TypeScheduled,
		ScheduledAt:       &soon,
		Priority:          PriorityHigh,
		Reason:            "overnight rebalance",
	})
	require.NoError(t, err)

	var worker = NewWorker(h.svc, time.Minute)

	// Not yet due: a tick is a no-op.
	worker.Tick(context.Background())
	reloaded, err := h.svc.store.Get(context.Background(), h.db, "org-1", transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, reloaded.Status)

	time.Sleep(50 * time.Millisecond)
	worker.Tick(context.Background())

	reloaded, err = h.svc.store.Get(context.Background(), h.db, "org-1", transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, reloaded.Status)
	require.Equal(t, "system", *reloaded.ApprovedBy)
	require.Equal(t, int64(20), h.item(t, "wh-B", "SKU-001").ReservedQuantity)
}

// --- shared test plumbing ---

type harness struct {
	db       *store.DB
	inv      *inventory.Store
	auditor  *audit.Recorder
	bus      *events.Bus
	svc      *Service
	operator context.Context
	manager  context.Context
}

func harnessForTest(t *testing.T) *harness {
	t.Helper()
	var db, err = store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	var auditor = audit.NewRecorder(db)
	var bus = events.NewBus()
	var inv = inventory.NewStore(db)
	return &harness{
		db:      db,
		inv:     inv,
		auditor: auditor,
		bus:     bus,
		svc:     NewService(db, inv, auditor, bus),
		operator: auth.WithTenant(context.Background(),
			auth.Tenant{OrgID: "org-1", UserID: "operator-1", Role: auth.RoleOperator}),
		manager: auth.WithTenant(context.Background(),
			auth.Tenant{OrgID: "org-1", UserID: "manager-1", Role: auth.RoleWarehouseManager}),
	}
}

// seedScenario loads the shared fixture: reservation res-001 of 20 SKU-001
// in wh-A for order-001, with stock {100, reserved 20} at wh-A and
// {50, reserved 0} at wh-B.
func (h *harness) seedScenario(t *testing.T) {
	t.Helper()
	var ctx = context.Background()

	for _, id := range []string{"wh-A", "wh-B"} {
		require.NoError(t, h.inv.CreateWarehouse(ctx, h.db, &inventory.Warehouse{
			ID: id, OrganizationID: "org-1", Name: "Warehouse " + id,
		}))
	}
	require.NoError(t, h.inv.InsertItem(ctx, h.db, &inventory.Item{
		ID: "item-A", OrganizationID: "org-1", WarehouseID: "wh-A",
		SKU: "SKU-001", Quantity: 100, ReservedQuantity: 20,
	}))
	require.NoError(t, h.inv.InsertItem(ctx, h.db, &inventory.Item{
		ID: "item-B", OrganizationID: "org-1", WarehouseID: "wh-B",
		SKU: "SKU-001", Quantity: 50, ReservedQuantity: 0,
	}))
	require.NoError(t, h.inv.InsertReservation(ctx, h.db, &inventory.Reservation{
		ID: "res-001", OrganizationID: "org-1", OrderID: "order-001",
		SKU: "SKU-001", WarehouseID: "wh-A", QuantityReserved: 20,
	}))
}

func (h *harness) item(t *testing.T, warehouseID, sku string) *inventory.Item {
	t.Helper()
	var item, err = h.inv.GetItem(context.Background(), h.db, "org-1", warehouseID, sku)
	require.NoError(t, err)
	return item
}
