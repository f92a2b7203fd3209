package api

import (
	"net/http"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/oauth"
)

type oauthStartRequest struct {
	Provider    string            `json:"provider" validate:"required"`
	RedirectURL string            `json:"redirectUrl"`
	Metadata    map[string]string `json:"metadata"`
}

// handleOAuthStart issues the anti-CSRF state for a provider authorization
// round-trip. A requested redirect target must be allow-listed up front, so
// a bad target fails here rather than after the provider hop.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	var tenant, err = auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req oauthStartRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.RedirectURL != "" {
		if err := s.redirects.Allowed(req.RedirectURL); err != nil {
			respondError(w, r, err)
			return
		}
	}
	state, err := s.states.Issue(r.Context(), oauth.StatePayload{
		OrganizationID: tenant.OrgID,
		Provider:       req.Provider,
		RedirectURL:    req.RedirectURL,
		Metadata:       req.Metadata,
		IP:             ClientIP(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"state": state})
}

// handleOAuthCallback lands the provider redirect: rate limit, transport
// check, then single-use state redemption, in that order. On success the
// browser is sent to the redirect target stored at issue time, never to a
// caller-controlled one.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Allow(r.Context(), ClientIP(r)); err != nil {
		respondError(w, r, err)
		return
	}
	if err := oauth.RequireHTTPS(r, s.production); err != nil {
		respondError(w, r, err)
		return
	}
	var payload, err = s.states.Consume(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	http.Redirect(w, r, s.redirects.SafeRedirect(payload.RedirectURL), http.StatusFound)
}
