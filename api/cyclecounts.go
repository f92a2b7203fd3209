package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidemark/keel/cyclecount"
)

type cycleCountRequest struct {
	WarehouseID string   `json:"warehouseId" validate:"required"`
	Type        string   `json:"type" validate:"required"`
	SKUs        []string `json:"skus"`
	IsBlind     bool     `json:"isBlind"`
	LockItems   bool     `json:"lockItems"`
}

func (s *Server) handleCreateCycleCount(w http.ResponseWriter, r *http.Request) {
	var req cycleCountRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var session, err = s.counts.Create(r.Context(), cyclecount.CreateRequest{
		WarehouseID: req.WarehouseID,
		Type:        cyclecount.Type(req.Type),
		SKUs:        req.SKUs,
		IsBlind:     req.IsBlind,
		LockItems:   req.LockItems,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, session)
}

func (s *Server) handleGetCycleCount(w http.ResponseWriter, r *http.Request) {
	var view, err = s.counts.View(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, view)
}

type countsRequest struct {
	Counts []cyclecount.CountSubmission `json:"counts" validate:"required,min=1"`
}

func (s *Server) handleSubmitCounts(w http.ResponseWriter, r *http.Request) {
	var req countsRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var session, err = s.counts.SubmitCounts(r.Context(), chi.URLParam(r, "sessionID"), req.Counts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, session)
}

func (s *Server) handleCompleteCycleCount(w http.ResponseWriter, r *http.Request) {
	var result, err = s.counts.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (s *Server) handleCycleCountVariance(w http.ResponseWriter, r *http.Request) {
	var report, err = s.counts.VarianceReport(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, report)
}
