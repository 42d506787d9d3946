package audit

import (
	"net/http"

	"github.com/carebook/paydesk/internal/httpx"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/types"
)

// AuditHandler exposes the read-only trail. There are no write endpoints;
// entries are only ever produced by the workflows themselves.
type AuditHandler struct {
	Repo Repository
}

func NewHandler(repo Repository) *AuditHandler {
	return &AuditHandler{
		Repo: repo,
	}
}

func (ah *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	query := types.AuditLogQuery{Page: httpx.ParsePage(r)}
	if raw := r.URL.Query().Get("action"); raw != "" {
		action := model.AuditAction(raw)
		query.Action = &action
	}
	actorID, err := httpx.QueryUUID(r, "actor_id")
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	query.ActorID = actorID
	paymentID, err := httpx.QueryUUID(r, "payment_id")
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	query.PaymentID = paymentID
	if query.StartDate, err = httpx.QueryTime(r, "start_date"); err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	if query.EndDate, err = httpx.QueryTime(r, "end_date"); err != nil {
		httpx.RespondError(w, logger, err)
		return
	}

	entries, err := ah.Repo.List(ctx, query)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"items": entries, "page": query.Page})
}
