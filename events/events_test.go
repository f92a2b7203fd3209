package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/store"
)

func TestBusDeliversInOrder(t *testing.T) {
	var bus = NewBus()
	var got []string

	bus.Subscribe(TransferRequested, func(_ context.Context, e Event) {
		got = append(got, "first:"+e.OrganizationID)
	})
	bus.Subscribe(TransferRequested, func(_ context.Context, e Event) {
		got = append(got, "second:"+e.OrganizationID)
	})
	bus.Subscribe(TransferCompleted, func(_ context.Context, e Event) {
		got = append(got, "completed")
	})

	bus.Publish(context.Background(), Event{Name: TransferRequested, OrganizationID: "org-1"})
	bus.Publish(context.Background(), Event{Name: TransferCompleted, OrganizationID: "org-1"})

	require.Equal(t, []string{"first:org-1", "second:org-1", "completed"}, got)
}

func TestConfigDefaultsAndPatch(t *testing.T) {
	var db = openForTest(t)
	var configs = NewConfigStore(db)
	var ctx = context.Background()

	config, err := configs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)

	config, err = configs.Patch(ctx, "org-1", []byte(`{"transferRejected": false}`))
	require.NoError(t, err)
	require.False(t, config.TransferRejected)
	require.True(t, config.TransferRequested)

	// The patch is persisted, and further patches stack.
	config, err = configs.Patch(ctx, "org-1", []byte(`{"movementCompleted": false}`))
	require.NoError(t, err)
	require.False(t, config.TransferRejected)
	require.False(t, config.MovementCompleted)

	config, err = configs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.False(t, config.TransferRejected)
	require.False(t, config.MovementCompleted)
	require.True(t, config.TransferCompleted)
}

func TestConfigPatchRejectsUnknownFields(t *testing.T) {
	var db = openForTest(t)
	var configs = NewConfigStore(db)

	var _, err = configs.Patch(context.Background(), "org-1", []byte(`{"smokeSignals": true}`))
	require.Error(t, err)

	_, err = configs.Patch(context.Background(), "org-1", []byte(`not json`))
	require.Error(t, err)
}

func TestNotifierHonorsConfig(t *testing.T) {
	var db = openForTest(t)
	var bus = NewBus()
	var configs = NewConfigStore(db)
	NewNotifier(bus, configs)

	var ctx = context.Background()
	var batches, sends []Event
	bus.Subscribe(NotificationBatch, func(_ context.Context, e Event) { batches = append(batches, e) })
	bus.Subscribe(NotificationSend, func(_ context.Context, e Event) { sends = append(sends, e) })

	bus.Publish(ctx, Event{
		Name:           TransferRequested,
		OrganizationID: "org-1",
		Payload:        map[string]interface{}{"transferId": "tr-1"},
	})
	bus.Publish(ctx, Event{
		Name:           TransferCompleted,
		OrganizationID: "org-1",
		Payload:        map[string]interface{}{"transferId": "tr-1", "orderId": "order-1"},
	})

	require.Len(t, batches, 1)
	require.Equal(t, "warehouse_managers", batches[0].Payload["audience"])
	require.Equal(t, "tr-1", batches[0].Payload["transferId"])
	require.Len(t, sends, 1)
	require.Equal(t, "order_owner", sends[0].Payload["audience"])
	require.Equal(t, "order-1", sends[0].Payload["orderId"])

	// Disable completion fan-out; requested fan-out still fires.
	var _, err = configs.Patch(ctx, "org-1", []byte(`{"transferCompleted": false}`))
	require.NoError(t, err)

	bus.Publish(ctx, Event{Name: TransferCompleted, OrganizationID: "org-1"})
	bus.Publish(ctx, Event{Name: TransferRequested, OrganizationID: "org-1"})

	require.Len(t, sends, 1)
	require.Len(t, batches, 2)
}

func openForTest(t *testing.T) *store.DB {
	t.Helper()
	var db, err = store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return db
}
