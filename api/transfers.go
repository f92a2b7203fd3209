package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/transfer"
)

type transferRequest struct {
	ReservationID     string     `json:"reservationId" validate:"required"`
	SourceWarehouseID string     `json:"sourceWarehouseId" validate:"required"`
	TargetWarehouseID string     `json:"targetWarehouseId" validate:"required"`
	Quantity          int64      `json:"quantity" validate:"required"`
	TransferType      string     `json:"transferType" validate:"required"`
	Priority          string     `json:"priority"`
	ScheduledAt       *time.Time `json:"scheduledAt"`
	Reason            string     `json:"reason" validate:"required"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var created, err = s.transfers.Create(r.Context(), transfer.CreateRequest{
		ReservationID:     req.ReservationID,
		SourceWarehouseID: req.SourceWarehouseID,
		TargetWarehouseID: req.TargetWarehouseID,
		Quantity:          req.Quantity,
		Type:              transfer.Type(req.TransferType),
		Priority:          transfer.Priority(req.Priority),
		ScheduledAt:       req.ScheduledAt,
		Reason:            req.Reason,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, created)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	found, err := s.transfers.Store().Get(r.Context(), s.db, tenant.OrgID,
		chi.URLParam(r, "transferID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, found)
}

func (s *Server) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	var approved, err = s.transfers.Approve(r.Context(), chi.URLParam(r, "transferID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, approved)
}

func (s *Server) handleRejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var rejected, err = s.transfers.Reject(r.Context(), chi.URLParam(r, "transferID"), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, rejected)
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var cancelled, err = s.transfers.Cancel(r.Context(), chi.URLParam(r, "transferID"), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, cancelled)
}

func (s *Server) handleTransferInTransit(w http.ResponseWriter, r *http.Request) {
	var moved, err = s.transfers.MarkInTransit(r.Context(), chi.URLParam(r, "transferID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, moved)
}

func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var completed, err = s.transfers.Execute(r.Context(), chi.URLParam(r, "transferID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, completed)
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

func (s *Server) handleRescheduleTransfer(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var moved, err = s.transfers.Reschedule(r.Context(), chi.URLParam(r, "transferID"), req.ScheduledAt)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, moved)
}

func (s *Server) handleListDueTransfers(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	var limit = intParam(r.URL.Query(), "limit")
	if limit < 1 || limit > 500 {
		limit = 100
	}
	due, err := s.transfers.Store().ListDue(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	// The store query spans organizations for the worker; the API surfaces
	// only the caller's rows.
	var scoped = []transfer.Transfer{}
	for _, t := range due {
		if t.OrganizationID == tenant.OrgID {
			scoped = append(scoped, t)
		}
	}
	respond(w, http.StatusOK, map[string]interface{}{"transfers": scoped})
}
