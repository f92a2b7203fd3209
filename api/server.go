// Package api mounts the HTTP surface of keel: the tenant-facing inventory
// API behind bearer-token auth, the signature-authed storefront webhook
// intake, and the hardened OAuth callback flow.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/cyclecount"
	"github.com/tidemark/keel/events"
	"github.com/tidemark/keel/inventory"
	"github.com/tidemark/keel/oauth"
	"github.com/tidemark/keel/store"
	"github.com/tidemark/keel/transfer"
	"github.com/tidemark/keel/webhook"
)

// Config wires the services a Server fronts.
type Config struct {
	DB         *store.DB
	Ledger     *inventory.Service
	Transfers  *transfer.Service
	Counts     *cyclecount.Service
	Auditor    *audit.Recorder
	Verifier   *webhook.Verifier
	Dedup      *webhook.Dedup
	States     *oauth.StateStore
	Limiter    *oauth.Limiter
	Redirects  *oauth.RedirectPolicy
	Notify     *events.ConfigStore
	JWTKey     []byte
	Production bool
}

// Server holds the handler dependencies.
type Server struct {
	db         *store.DB
	ledger     *inventory.Service
	transfers  *transfer.Service
	counts     *cyclecount.Service
	auditor    *audit.Recorder
	verifier   *webhook.Verifier
	dedup      *webhook.Dedup
	states     *oauth.StateStore
	limiter    *oauth.Limiter
	redirects  *oauth.RedirectPolicy
	notify     *events.ConfigStore
	jwtKey     []byte
	production bool
}

// NewServer returns a Server over |cfg|.
func NewServer(cfg Config) *Server {
	return &Server{
		db:         cfg.DB,
		ledger:     cfg.Ledger,
		transfers:  cfg.Transfers,
		counts:     cfg.Counts,
		auditor:    cfg.Auditor,
		verifier:   cfg.Verifier,
		dedup:      cfg.Dedup,
		states:     cfg.States,
		limiter:    cfg.Limiter,
		redirects:  cfg.Redirects,
		notify:     cfg.Notify,
		jwtKey:     cfg.JWTKey,
		production: cfg.Production,
	}
}

// Routes builds the router. Webhook routes are signature-authed with the raw
// body captured for verification; everything under /api/v1 requires a bearer
// token.
func (s *Server) Routes() http.Handler {
	var r = chi.NewRouter()
	r.Use(RequestLogger)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(CaptureBody)
		r.Post("/shopify/{channelID}", s.handleWebhook(webhook.TypeShopify))
		r.Post("/woocommerce/{channelID}", s.handleWebhook(webhook.TypeWooCommerce))
	})

	r.Get("/oauth/callback", s.handleOAuthCallback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticator(s.jwtKey))

		r.Route("/inventory", func(r chi.Router) {
			r.Route("/movements", func(r chi.Router) {
				r.Post("/", s.handleCreateMovement)
				r.Get("/", s.handleListMovements)
				r.Get("/{movementID}", s.handleGetMovement)
				r.Post("/{movementID}/execute", s.handleExecuteMovement)
				r.Post("/{movementID}/cancel", s.handleCancelMovement)
			})
			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", s.handleCreateTransfer)
				r.Get("/due", s.handleListDueTransfers)
				r.Get("/{transferID}", s.handleGetTransfer)
				r.Post("/{transferID}/approve", s.handleApproveTransfer)
				r.Post("/{transferID}/reject", s.handleRejectTransfer)
				r.Post("/{transferID}/cancel", s.handleCancelTransfer)
				r.Post("/{transferID}/transit", s.handleTransferInTransit)
				r.Post("/{transferID}/complete", s.handleCompleteTransfer)
				r.Post("/{transferID}/reschedule", s.handleRescheduleTransfer)
			})
			r.Route("/cycle-counts", func(r chi.Router) {
				r.Post("/", s.handleCreateCycleCount)
				r.Get("/{sessionID}", s.handleGetCycleCount)
				r.Post("/{sessionID}/counts", s.handleSubmitCounts)
				r.Post("/{sessionID}/complete", s.handleCompleteCycleCount)
				r.Get("/{sessionID}/variance", s.handleCycleCountVariance)
			})
			r.Post("/updates", s.handleApplyUpdate)
			r.Post("/updates/bulk", s.handleBulkUpdate)
			r.Get("/audit", s.handleAuditList)
		})

		r.Get("/notifications/config", s.handleGetNotifications)
		r.Patch("/notifications/config", s.handlePatchNotifications)

		r.Post("/oauth/start", s.handleOAuthStart)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
