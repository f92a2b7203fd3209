package api

import (
	"io"
	"net/http"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
)

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	var q = r.URL.Query()
	var query = audit.Query{
		WarehouseID: q.Get("warehouseId"),
		SKU:         q.Get("skuId"),
		Action:      q.Get("action"),
		UserID:      q.Get("userId"),
		Page:        intParam(q, "page"),
		PageSize:    intParam(q, "pageSize"),
	}
	if query.Start, err = timeParam(q, "startDate"); err != nil {
		respondError(w, r, err)
		return
	}
	if query.End, err = timeParam(q, "endDate"); err != nil {
		respondError(w, r, err)
		return
	}

	entries, stats, err := s.auditor.List(r.Context(), tenant.OrgID, query)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"stats":   stats,
	})
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	cfg, err := s.notify.Get(r.Context(), tenant.OrgID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, cfg)
}

func (s *Server) handlePatchNotifications(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	patch, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		respondError(w, r, errs.Validation("UNREADABLE_BODY", "", "request body could not be read"))
		return
	}
	cfg, err := s.notify.Patch(r.Context(), tenant.OrgID, patch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, cfg)
}
