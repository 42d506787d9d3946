package options

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

type OptionsHandler struct {
	Service *Service
}

func NewHandler(service *Service) *OptionsHandler {
	return &OptionsHandler{
		Service: service,
	}
}

var validate = validator.New()

func (oh *OptionsHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	var req types.UpdatePaymentOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode payment options request")
		httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("validation error: %v", err))
		return
	}

	result, err := oh.Service.Update(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (oh *OptionsHandler) ListByMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	raw := chi.URLParam(r, "memberID")
	memberID, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, logger, errs.Validation("invalid member id %q", raw))
		return
	}

	results, err := oh.Service.ListByMember(ctx, memberID)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"items": results})
}
