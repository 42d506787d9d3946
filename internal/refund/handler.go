package refund

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

type RefundHandler struct {
	Service *Service
}

func NewHandler(service *Service) *RefundHandler {
	return &RefundHandler{
		Service: service,
	}
}

var validate = validator.New()

func (rh *RefundHandler) Initiate(w http.ResponseWriter, r *http.Request) {
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

	var req types.InitiateRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode refund initiation request")
		httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("validation error: %v", err))
		return
	}

	result, err := rh.Service.Initiate(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func (rh *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	rh.decide(w, r, "approve")
}

func (rh *RefundHandler) Reject(w http.ResponseWriter, r *http.Request) {
	rh.decide(w, r, "reject")
}

// decide handles the approve/reject pair; both bind the path ID and differ
// only in the command dispatched.
func (rh *RefundHandler) decide(w http.ResponseWriter, r *http.Request, verb string) {
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

	var result *model.RefundRequest
	switch verb {
	case "approve":
		req := types.ApproveRefundRequest{RefundRequestID: id}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
				return
			}
			req.RefundRequestID = id
		}
		result, err = rh.Service.Approve(ctx, &req, actor, key)
	case "reject":
		var req types.RejectRefundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
			return
		}
		req.RefundRequestID = id
		result, err = rh.Service.Reject(ctx, &req, actor, key)
	}
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (rh *RefundHandler) Process(w http.ResponseWriter, r *http.Request) {
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

	var req types.ProcessRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("invalid request payload"))
		return
	}
	req.RefundRequestID = id
	if err := validate.Struct(&req); err != nil {
		httpx.RespondError(w, logger, errs.Validation("validation error: %v", err))
		return
	}

	result, err := rh.Service.Process(ctx, &req, actor, key)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (rh *RefundHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	result, err := rh.Service.GetByID(ctx, id)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (rh *RefundHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	query := types.RefundQuery{Page: httpx.ParsePage(r)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.RefundStatus(raw)
		query.Status = &status
	}
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

	results, err := rh.Service.List(ctx, query)
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
