package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/audit"
)

func TestAuditListOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)
	var token = h.operatorToken(t)

	for _, upd := range []map[string]interface{}{
		{"warehouseId": "wh-A", "sku": "SKU-001", "mode": "ABSOLUTE", "quantity": 97, "reasonCode": "RECOUNT"},
		{"warehouseId": "wh-B", "sku": "SKU-001", "mode": "ADJUSTMENT", "quantity": 5, "reasonCode": "FOUND"},
	} {
		var rec = h.do(t, "POST", "/api/v1/inventory/updates", token, upd)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var rec = h.do(t, "POST", "/api/v1/inventory/movements", token, map[string]interface{}{
		"type": "RECEIVE", "sku": "SKU-001", "warehouseId": "wh-A",
		"quantity": 30, "reason": "restock delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var movement struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &movement)
	rec = h.do(t, "POST", "/api/v1/inventory/movements/"+movement.ID+"/execute", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Entries []audit.Entry `json:"entries"`
		Stats   audit.Stats   `json:"stats"`
	}
	rec = h.do(t, "GET", "/api/v1/inventory/audit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &out)
	require.Equal(t, int64(3), out.Stats.TotalEntries)
	require.Equal(t, int64(2), out.Stats.ByAction[audit.ActionAdjustment])
	require.Equal(t, int64(1), out.Stats.ByAction[audit.ActionMovement])

	rec = h.do(t, "GET", "/api/v1/inventory/audit?action=ADJUSTMENT&warehouseId=wh-B", token, nil)
	decodeBody(t, rec, &out)
	require.Len(t, out.Entries, 1)
	require.Equal(t, "FOUND", out.Entries[0].ReasonCode)
	require.Equal(t, "operator-1", out.Entries[0].UserID)

	// Stats span the full match set even when the page is smaller.
	rec = h.do(t, "GET", "/api/v1/inventory/audit?pageSize=2", token, nil)
	decodeBody(t, rec, &out)
	require.Len(t, out.Entries, 2)
	require.Equal(t, int64(3), out.Stats.TotalEntries)

	rec = h.do(t, "GET", "/api/v1/inventory/audit?startDate=yesterday", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	require.Equal(t, "INVALID_DATE", body.Error.Code)
}

func TestNotificationConfigOverHTTP(t *testing.T) {
	var h = newHarness(t)
	var token = h.operatorToken(t)

	var rec = h.do(t, "GET", "/api/v1/notifications/config", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requireJSON(t, rec, `{
		"transferRequested": true,
		"transferApproved": true,
		"transferRejected": true,
		"transferCompleted": true,
		"movementCompleted": true
	}`)

	rec = h.do(t, "PATCH", "/api/v1/notifications/config", token,
		`{"transferCompleted": false, "movementCompleted": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireJSON(t, rec, `{
		"transferRequested": true,
		"transferApproved": true,
		"transferRejected": true,
		"transferCompleted": false,
		"movementCompleted": false
	}`)

	// The merged config is persisted, not just echoed.
	rec = h.do(t, "GET", "/api/v1/notifications/config", token, nil)
	var cfg struct {
		TransferCompleted bool `json:"transferCompleted"`
		TransferApproved  bool `json:"transferApproved"`
	}
	decodeBody(t, rec, &cfg)
	require.False(t, cfg.TransferCompleted)
	require.True(t, cfg.TransferApproved)

	var body errorBody
	rec = h.do(t, "PATCH", "/api/v1/notifications/config", token, `{"shipmentLost": true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "INVALID_PATCH", body.Error.Code)

	rec = h.do(t, "PATCH", "/api/v1/notifications/config", token, `not a patch`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "INVALID_PATCH", body.Error.Code)
}
