package reconciliation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/httpx"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/pkg/types"
)

type ReconciliationHandler struct {
	Service *Service
}

func NewHandler(service *Service) *ReconciliationHandler {
	return &ReconciliationHandler{
		Service: service,
	}
}

var validate = validator.New()

func (rh *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	actor, err := middleware.GetActor(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	key, err := httpx.IdempotencyKey(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}

	var req types.RunReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode reconciliation request")
		httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("validation error: %v", err))
		return
	}

	result, err := rh.Service.Run(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func (rh *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, logger, errs.Validation("invalid id %q", raw))
		return
	}
	result, err := rh.Service.GetByID(ctx, id)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (rh *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	results, err := rh.Service.List(ctx, httpx.ParsePage(r))
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"items": results})
}
