package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidemark/keel/webhook"
)

// handleWebhook authenticates one storefront delivery by its HMAC signature.
// The raw captured body is what gets verified; duplicates within the dedup
// window are acknowledged without reprocessing so retried deliveries stay
// idempotent.
func (s *Server) handleWebhook(channelType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload = CapturedBody(r.Context())

		var result = s.verifier.Verify(r.Context(), webhook.VerifyRequest{
			ChannelID:   chi.URLParam(r, "channelID"),
			ChannelType: channelType,
			Signature:   webhook.SignatureFromHeader(r.Header, channelType),
			Payload:     payload,
		})
		if !result.Valid {
			respond(w, result.StatusCode, errorBody{Error: errorDetail{
				Code:    "WEBHOOK_REJECTED",
				Message: result.Err,
			}})
			return
		}

		if s.dedup.Seen(result.ChannelID, payload) {
			respond(w, http.StatusOK, map[string]interface{}{
				"received":  true,
				"duplicate": true,
			})
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{
			"received":       true,
			"channelId":      result.ChannelID,
			"organizationId": result.OrganizationID,
		})
	}
}
