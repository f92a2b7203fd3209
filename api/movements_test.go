package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/inventory"
)

func TestMovementLifecycleOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)
	var token = h.operatorToken(t)

	var rec = h.do(t, "POST", "/api/v1/inventory/movements", token, map[string]interface{}{
		"type":        "RECEIVE",
		"sku":         "SKU-001",
		"warehouseId": "wh-A",
		"quantity":    30,
		"reason":      "restock delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var movement inventory.Movement
	decodeBody(t, rec, &movement)
	require.Equal(t, inventory.MovementPending, movement.Status)

	rec = h.do(t, "POST", "/api/v1/inventory/movements/"+movement.ID+"/execute", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &movement)
	require.Equal(t, inventory.MovementCompleted, movement.Status)
	require.EqualValues(t, 130, h.item(t, "wh-A", "SKU-001").Quantity)

	// Executing a completed movement is a state conflict.
	rec = h.do(t, "POST", "/api/v1/inventory/movements/"+movement.ID+"/execute", token, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, "GET", "/api/v1/inventory/movements/"+movement.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, "GET",
		"/api/v1/inventory/movements?type=RECEIVE&status=completed&warehouseId=wh-A", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page inventory.MovementPage
	decodeBody(t, rec, &page)
	require.Len(t, page.Movements, 1)
	require.EqualValues(t, 1, page.Stats.TotalCount)
	require.EqualValues(t, 30, page.Stats.InboundQuantity)
}

func TestMovementCancelOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)
	var token = h.operatorToken(t)

	var rec = h.do(t, "POST", "/api/v1/inventory/movements", token, map[string]interface{}{
		"type":        "SHIP",
		"sku":         "SKU-001",
		"warehouseId": "wh-A",
		"quantity":    5,
		"reason":      "order fulfilment",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var movement inventory.Movement
	decodeBody(t, rec, &movement)

	rec = h.do(t, "POST", "/api/v1/inventory/movements/"+movement.ID+"/cancel", token,
		map[string]string{"reason": "picked in error"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &movement)
	require.Equal(t, inventory.MovementCancelled, movement.Status)

	// Stock is untouched by a cancelled movement.
	require.EqualValues(t, 100, h.item(t, "wh-A", "SKU-001").Quantity)
}

func TestMovementValidationOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)
	var token = h.operatorToken(t)

	// Shape failures are caught before the ledger sees the request.
	var rec = h.do(t, "POST", "/api/v1/inventory/movements", token, map[string]interface{}{
		"type":        "RECEIVE",
		"sku":         "SKU-001",
		"warehouseId": "wh-A",
		"quantity":    30,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Code  string `json:"code"`
			Field string `json:"field"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	require.Equal(t, "reason", body.Error.Field)

	// Domain failures keep their ledger codes.
	rec = h.do(t, "POST", "/api/v1/inventory/movements", token, map[string]interface{}{
		"type":        "RECEIVE",
		"sku":         "SKU-001",
		"warehouseId": "wh-A",
		"quantity":    -3,
		"reason":      "restock",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "INVALID_QUANTITY", body.Error.Code)

	rec = h.do(t, "POST", "/api/v1/inventory/movements/nope/execute", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, "GET", "/api/v1/inventory/movements?startDate=bogus", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "INVALID_DATE", body.Error.Code)
}

func TestMovementTenantIsolationOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)

	var rec = h.do(t, "POST", "/api/v1/inventory/movements", h.operatorToken(t),
		map[string]interface{}{
			"type":        "RECEIVE",
			"sku":         "SKU-001",
			"warehouseId": "wh-A",
			"quantity":    10,
			"reason":      "restock",
		})
	require.Equal(t, http.StatusCreated, rec.Code)
	var movement inventory.Movement
	decodeBody(t, rec, &movement)

	// Another organization sees 404, never 403.
	var foreign = h.token(t, auth.Tenant{OrgID: "org-2", UserID: "spy-1", Role: auth.RoleAdmin})
	rec = h.do(t, "GET", "/api/v1/inventory/movements/"+movement.ID, foreign, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, "POST", "/api/v1/inventory/movements/"+movement.ID+"/execute", foreign, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStockUpdatesOverHTTP(t *testing.T) {
	var h = newHarness(t)
	h.seedInventory(t)
	var token = h.operatorToken(t)

	var rec = h.do(t, "POST", "/api/v1/inventory/updates", token, map[string]interface{}{
		"warehouseId": "wh-A",
		"sku":         "SKU-001",
		"mode":        "ABSOLUTE",
		"quantity":    97,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result inventory.UpdateResult
	decodeBody(t, rec, &result)
	require.True(t, result.Applied)
	require.EqualValues(t, 97, result.NewQuantity)
	require.EqualValues(t, 97, h.item(t, "wh-A", "SKU-001").Quantity)

	rec = h.do(t, "POST", "/api/v1/inventory/updates/bulk", token, map[string]interface{}{
		"atomic": true,
		"updates": []map[string]interface{}{
			{"warehouseId": "wh-A", "sku": "SKU-001", "mode": "ADJUSTMENT", "quantity": 3},
			{"warehouseId": "wh-B", "sku": "SKU-001", "mode": "ABSOLUTE", "quantity": 55},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bulk inventory.BulkResult
	decodeBody(t, rec, &bulk)
	require.Equal(t, 2, bulk.Applied)
	require.EqualValues(t, 100, h.item(t, "wh-A", "SKU-001").Quantity)
	require.EqualValues(t, 55, h.item(t, "wh-B", "SKU-001").Quantity)

	rec = h.do(t, "POST", "/api/v1/inventory/updates/bulk", token,
		map[string]interface{}{"updates": []map[string]interface{}{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
