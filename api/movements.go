package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/inventory"
)

type movementRequest struct {
	Type              string `json:"type" validate:"required"`
	SKU               string `json:"sku" validate:"required"`
	WarehouseID       string `json:"warehouseId" validate:"required"`
	Quantity          int64  `json:"quantity" validate:"required"`
	Reason            string `json:"reason" validate:"required"`
	ReferenceType     string `json:"referenceType"`
	ReferenceID       string `json:"referenceId"`
	TargetWarehouseID string `json:"targetWarehouseId"`
}

func (s *Server) handleCreateMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var movement, err = s.ledger.CreateMovement(r.Context(), inventory.CreateMovementRequest{
		WarehouseID:       req.WarehouseID,
		SKU:               req.SKU,
		Quantity:          req.Quantity,
		Type:              inventory.MovementType(req.Type),
		Reason:            req.Reason,
		ReferenceType:     req.ReferenceType,
		ReferenceID:       req.ReferenceID,
		TargetWarehouseID: req.TargetWarehouseID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, movement)
}

func (s *Server) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	movement, err := s.ledger.Store().GetMovement(r.Context(), s.db, tenant.OrgID,
		chi.URLParam(r, "movementID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, movement)
}

func (s *Server) handleExecuteMovement(w http.ResponseWriter, r *http.Request) {
	var movement, err = s.ledger.ExecuteMovement(r.Context(), chi.URLParam(r, "movementID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, movement)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) handleCancelMovement(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var movement, err = s.ledger.CancelMovement(r.Context(), chi.URLParam(r, "movementID"), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, movement)
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	var q = r.URL.Query()
	var filter = inventory.MovementFilter{
		Type:        inventory.MovementType(q.Get("type")),
		Status:      inventory.MovementStatus(q.Get("status")),
		WarehouseID: q.Get("warehouseId"),
		SKU:         q.Get("skuId"),
		Page:        intParam(q, "page"),
		PageSize:    intParam(q, "pageSize"),
	}
	if filter.Start, err = timeParam(q, "startDate"); err != nil {
		respondError(w, r, err)
		return
	}
	if filter.End, err = timeParam(q, "endDate"); err != nil {
		respondError(w, r, err)
		return
	}

	page, err := s.ledger.Store().ListMovements(r.Context(), tenant.OrgID, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

type updateRequest struct {
	WarehouseID string `json:"warehouseId" validate:"required"`
	SKU         string `json:"sku" validate:"required"`
	Mode        string `json:"mode" validate:"required"`
	Quantity    int64  `json:"quantity"`
	ReasonCode  string `json:"reasonCode"`
	Notes       string `json:"notes"`
}

func (u updateRequest) domain() inventory.UpdateRequest {
	return inventory.UpdateRequest{
		WarehouseID: u.WarehouseID,
		SKU:         u.SKU,
		Mode:        inventory.UpdateMode(u.Mode),
		Quantity:    u.Quantity,
		ReasonCode:  u.ReasonCode,
		Notes:       u.Notes,
	}
}

func (s *Server) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var result, err = s.ledger.ApplyUpdate(r.Context(), req.domain())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

type bulkUpdateRequest struct {
	Updates []updateRequest `json:"updates" validate:"required,min=1,dive"`
	Atomic  bool            `json:"atomic"`
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var updates = make([]inventory.UpdateRequest, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, u.domain())
	}
	var result, err = s.ledger.BulkUpdate(r.Context(), updates, req.Atomic)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func intParam(q url.Values, name string) int {
	var n, _ = strconv.Atoi(q.Get(name))
	return n
}

// timeParam parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func timeParam(q url.Values, name string) (time.Time, error) {
	var raw = q.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	var t, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.Parse("2006-01-02", raw); err != nil {
			return time.Time{}, errs.Validation("INVALID_DATE", name,
				"expected an RFC 3339 timestamp or YYYY-MM-DD date")
		}
	}
	return t, nil
}
