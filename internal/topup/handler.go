package topup

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/httpx"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/types"
)

type TopUpHandler struct {
	Service *Service
}

func NewHandler(service *Service) *TopUpHandler {
	return &TopUpHandler{
		Service: service,
	}
}

var validate = validator.New()

func (th *TopUpHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req types.CreateTopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode top-up request")
		httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("validation error: %v", err))
		return
	}

	result, err := th.Service.Create(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func (th *TopUpHandler) Approve(w http.ResponseWriter, r *http.Request) {
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
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}

	req := types.ApproveTopUpRequest{TopUpID: id}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
			return
		}
		req.TopUpID = id
	}

	result, err := th.Service.Approve(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (th *TopUpHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	result, err := th.Service.GetByID(ctx, id)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (th *TopUpHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	query := types.TopUpQuery{Page: httpx.ParsePage(r)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.TopUpStatus(raw)
		query.Status = &status
	}
	memberID, err := httpx.QueryUUID(r, "member_id")
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	query.MemberID = memberID
	if query.StartDate, err = httpx.QueryTime(r, "start_date"); err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	if query.EndDate, err = httpx.QueryTime(r, "end_date"); err != nil {
		httpx.RespondError(w, logger, err)
		return
	}

	results, err := th.Service.List(ctx, query)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"items": results, "page": query.Page})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Validation("invalid id %q", raw)
	}
	return id, nil
}
