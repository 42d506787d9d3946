package refund

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/idempotency"
	"github.com/carebook/paydesk/internal/metrics"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/internal/payment"
	"github.com/carebook/paydesk/pkg/constants"
	"github.com/carebook/paydesk/pkg/types"
)

// Service drives the refund state machine:
// REQUESTED -> PENDING_APPROVAL -> APPROVED -> PROCESSING -> COMPLETED,
// with REJECTED, CANCELLED and FAILED as terminal side branches.
type Service struct {
	repo     Repository
	payments payment.Repository
	guard    *idempotency.Guard
	recorder *audit.Recorder
}

func NewService(repo Repository, payments payment.Repository, guard *idempotency.Guard, recorder *audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		payments: payments,
		guard:    guard,
		recorder: recorder,
	}
}

func (s *Service) Initiate(ctx context.Context, req *types.InitiateRefundRequest, actor model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	logger := middleware.GetLogger(ctx)

	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceRefund, idempotencyKey,
		func(ctx context.Context) (*model.RefundRequest, error) {
			return s.initiate(ctx, req, actor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceRefund).Inc()
		logger.Info().Str("idempotency_key", idempotencyKey).Msg("Returning recorded refund request for replayed key")
	}
	s.count("InitiateRefund", err)
	return result, err
}

func (s *Service) initiate(ctx context.Context, req *types.InitiateRefundRequest, actor model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	logger := middleware.GetLogger(ctx)

	if existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Info().Str("request_number", existing.RequestNumber).Msg("Idempotent refund request found")
		return existing, nil
	}

	pay, err := s.payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	if req.RefundAmount <= 0 {
		return nil, errs.Validation("refund amount must be positive")
	}
	if req.RefundAmount > pay.Amount {
		return nil, errs.Validation("refund amount %d exceeds original payment amount %d", req.RefundAmount, pay.Amount)
	}
	if pay.Status != model.PaymentCompleted {
		return nil, errs.InvalidTransition("cannot refund payment with status %s", pay.Status)
	}

	open, err := s.payments.HasOpenAdminRequests(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, errs.Conflict("a refund or reversal request is already in progress for payment %s", req.PaymentID)
	}

	method := req.RefundMethod
	if method == "" {
		method = model.RefundOriginalMethod
	}

	rr := &model.RefundRequest{
		PaymentID:      pay.ID,
		OriginalAmount: pay.Amount,
		RefundAmount:   req.RefundAmount,
		RefundType:     req.RefundType,
		RefundMethod:   method,
		Reason:         req.Reason,
		Status:         model.RefundRequested,
		RequestedBy:    actor,
		IdempotencyKey: idempotencyKey,
	}

	if err := s.repo.Create(ctx, rr); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost the creation race; return the winner's row.
			winner, findErr := s.repo.FindByIdempotencyKey(ctx, idempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:          model.ActionInitiateRefund,
		PaymentID:       &rr.PaymentID,
		RefundRequestID: &rr.ID,
		Actor:           actor,
		Amount:          rr.RefundAmount,
		Reason:          rr.Reason,
		PreviousState:   audit.Snapshot(map[string]any{"paymentStatus": pay.Status}),
		NewState:        audit.Snapshot(map[string]any{"refundStatus": model.RefundRequested}),
		IdempotencyKey:  idempotencyKey,
	})

	logger.Info().
		Str("request_number", rr.RequestNumber).
		Str("payment_id", rr.PaymentID.String()).
		Int64("amount", rr.RefundAmount).
		Msg("Refund request initiated")

	return rr, nil
}

func (s *Service) Approve(ctx context.Context, req *types.ApproveRefundRequest, approver model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceRefund, idempotencyKey,
		func(ctx context.Context) (*model.RefundRequest, error) {
			return s.approve(ctx, req, approver, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceRefund).Inc()
	}
	s.count("ApproveRefund", err)
	return result, err
}

func (s *Service) approve(ctx context.Context, req *types.ApproveRefundRequest, approver model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	logger := middleware.GetLogger(ctx)

	if replayed, err := s.replayedRequest(ctx, req.RefundRequestID, idempotencyKey); replayed != nil || err != nil {
		return replayed, err
	}

	rr, err := s.mustFind(ctx, req.RefundRequestID)
	if err != nil {
		return nil, err
	}

	if !rr.Status.Approvable() {
		return nil, errs.InvalidTransition("cannot approve refund with status %s", rr.Status)
	}
	if rr.RequestedBy.ID == approver.ID {
		return nil, errs.SelfApproval("cannot approve your own refund request")
	}

	previousStatus := rr.Status

	updated, err := s.repo.Approve(ctx, rr.ID, approver, time.Now().UTC())
	if errors.Is(err, ErrNoTransition) {
		// Status moved between read and write; report against the fresh row.
		return nil, s.staleTransition(ctx, rr.ID, "approve")
	}
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:          model.ActionApproveRefund,
		PaymentID:       &updated.PaymentID,
		RefundRequestID: &updated.ID,
		Actor:           approver,
		Amount:          updated.RefundAmount,
		PreviousState:   audit.Snapshot(map[string]any{"status": previousStatus}),
		NewState:        audit.Snapshot(map[string]any{"status": model.RefundApproved}),
		IdempotencyKey:  idempotencyKey,
	})

	logger.Info().Str("request_number", updated.RequestNumber).Str("approved_by", approver.Email).Msg("Refund approved")
	return updated, nil
}

func (s *Service) Reject(ctx context.Context, req *types.RejectRefundRequest, rejecter model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceRefund, idempotencyKey,
		func(ctx context.Context) (*model.RefundRequest, error) {
			return s.reject(ctx, req, rejecter, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceRefund).Inc()
	}
	s.count("RejectRefund", err)
	return result, err
}

func (s *Service) reject(ctx context.Context, req *types.RejectRefundRequest, rejecter model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	logger := middleware.GetLogger(ctx)

	if req.RejectionReason == "" {
		return nil, errs.Validation("rejection reason is required")
	}

	if replayed, err := s.replayedRequest(ctx, req.RefundRequestID, idempotencyKey); replayed != nil || err != nil {
		return replayed, err
	}

	rr, err := s.mustFind(ctx, req.RefundRequestID)
	if err != nil {
		return nil, err
	}

	if !rr.Status.Rejectable() {
		return nil, errs.InvalidTransition("cannot reject refund with status %s", rr.Status)
	}

	previousStatus := rr.Status

	updated, err := s.repo.Reject(ctx, rr.ID, rejecter, req.RejectionReason, time.Now().UTC())
	if errors.Is(err, ErrNoTransition) {
		return nil, s.staleTransition(ctx, rr.ID, "reject")
	}
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:          model.ActionRejectRefund,
		PaymentID:       &updated.PaymentID,
		RefundRequestID: &updated.ID,
		Actor:           rejecter,
		Amount:          updated.RefundAmount,
		Reason:          req.RejectionReason,
		PreviousState:   audit.Snapshot(map[string]any{"status": previousStatus}),
		NewState:        audit.Snapshot(map[string]any{"status": model.RefundRejected}),
		IdempotencyKey:  idempotencyKey,
	})

	logger.Info().Str("request_number", updated.RequestNumber).Str("reason", req.RejectionReason).Msg("Refund rejected")
	return updated, nil
}

func (s *Service) Process(ctx context.Context, req *types.ProcessRefundRequest, processor model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceRefund, idempotencyKey,
		func(ctx context.Context) (*model.RefundRequest, error) {
			return s.process(ctx, req, processor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceRefund).Inc()
	}
	s.count("ProcessRefund", err)
	return result, err
}

func (s *Service) process(ctx context.Context, req *types.ProcessRefundRequest, processor model.Actor, idempotencyKey string) (*model.RefundRequest, error) {
	logger := middleware.GetLogger(ctx)

	if replayed, err := s.replayedRequest(ctx, req.RefundRequestID, idempotencyKey); replayed != nil || err != nil {
		return replayed, err
	}

	rr, err := s.mustFind(ctx, req.RefundRequestID)
	if err != nil {
		return nil, err
	}

	if rr.Status != model.RefundApproved {
		return nil, errs.InvalidTransition("cannot process refund with status %s", rr.Status)
	}

	now := time.Now().UTC()

	if _, err := s.repo.MarkProcessing(ctx, rr.ID, processor, now); err != nil {
		if errors.Is(err, ErrNoTransition) {
			return nil, s.staleTransition(ctx, rr.ID, "process")
		}
		return nil, err
	}

	// Refund completion and the ledger's REFUNDED write are one atomic unit.
	updated, err := s.repo.CompleteWithPayment(ctx, rr.ID, req.GatewayRefundID, req.GatewayResponse, now)
	if err != nil {
		if errors.Is(err, ErrNoTransition) {
			return nil, s.staleTransition(ctx, rr.ID, "complete")
		}
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:          model.ActionCompleteRefund,
		PaymentID:       &updated.PaymentID,
		RefundRequestID: &updated.ID,
		Actor:           processor,
		Amount:          updated.RefundAmount,
		PreviousState:   audit.Snapshot(map[string]any{"status": model.RefundApproved}),
		NewState: audit.Snapshot(map[string]any{
			"status":        model.RefundCompleted,
			"paymentStatus": model.PaymentRefunded,
		}),
		Metadata:       audit.Snapshot(map[string]any{"gatewayRefundId": req.GatewayRefundID}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().
		Str("request_number", updated.RequestNumber).
		Str("gateway_refund_id", req.GatewayRefundID).
		Msg("Refund completed")

	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.RefundRequest, error) {
	return s.mustFind(ctx, id)
}

func (s *Service) List(ctx context.Context, query types.RefundQuery) ([]model.RefundRequest, error) {
	return s.repo.List(ctx, query)
}

// replayedRequest answers approve/reject/process replays from the audit
// trail: a prior entry under the same key means the transition already
// happened once.
func (s *Service) replayedRequest(ctx context.Context, id uuid.UUID, idempotencyKey string) (*model.RefundRequest, error) {
	entry, err := s.recorder.Replayed(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	metrics.IdempotentReplays.WithLabelValues(constants.NamespaceRefund).Inc()
	return s.mustFind(ctx, id)
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*model.RefundRequest, error) {
	rr, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rr == nil {
		return nil, errs.NotFound("refund request %s not found", id)
	}
	return rr, nil
}

func (s *Service) staleTransition(ctx context.Context, id uuid.UUID, action string) error {
	rr, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rr == nil {
		return errs.NotFound("refund request %s not found", id)
	}
	return errs.InvalidTransition("cannot %s refund with status %s", action, rr.Status)
}

func (s *Service) count(command string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind := errs.KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()
}
