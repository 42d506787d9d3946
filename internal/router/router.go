package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/internal/options"
	"github.com/carebook/paydesk/internal/reconciliation"
	"github.com/carebook/paydesk/internal/refund"
	"github.com/carebook/paydesk/internal/reversal"
	"github.com/carebook/paydesk/internal/server"
	"github.com/carebook/paydesk/internal/topup"
)

type Handlers struct {
	Refund         *refund.RefundHandler
	Reversal       *reversal.ReversalHandler
	TopUp          *topup.TopUpHandler
	Options        *options.OptionsHandler
	Reconciliation *reconciliation.ReconciliationHandler
	Audit          *audit.AuditHandler
}

func NewRouter(s *server.Server, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	mw := middleware.NewMiddlewares(s)

	// Apply middleware in order
	r.Use(middleware.RequestID)
	r.Use(mw.Tracing.NewRelicMiddleware())
	r.Use(mw.Tracing.EnhanceTracing)
	r.Use(mw.ContextEnhancer.EnhanceContext)
	r.Use(mw.Global.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/refunds", func(r chi.Router) {
			r.Post("/", h.Refund.Initiate)
			r.Get("/", h.Refund.List)
			r.Get("/{id}", h.Refund.Get)
			r.Post("/{id}/approve", h.Refund.Approve)
			r.Post("/{id}/reject", h.Refund.Reject)
			r.Post("/{id}/process", h.Refund.Process)
		})

		r.Route("/reversals", func(r chi.Router) {
			r.Post("/", h.Reversal.Initiate)
			r.Get("/", h.Reversal.List)
			r.Get("/{id}", h.Reversal.Get)
			r.Post("/{id}/process", h.Reversal.Process)
		})

		r.Route("/topups", func(r chi.Router) {
			r.Post("/", h.TopUp.Create)
			r.Get("/", h.TopUp.List)
			r.Get("/{id}", h.TopUp.Get)
			r.Post("/{id}/approve", h.TopUp.Approve)
		})

		r.Route("/payment-options", func(r chi.Router) {
			r.Put("/", h.Options.Update)
			r.Get("/members/{memberID}", h.Options.ListByMember)
		})

		r.Route("/reconciliations", func(r chi.Router) {
			r.Post("/", h.Reconciliation.Run)
			r.Get("/", h.Reconciliation.List)
			r.Get("/{id}", h.Reconciliation.Get)
		})

		r.Get("/audit-log", h.Audit.List)
	})

	return r
}
