package reversal

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

// Service drives the reversal state machine:
// PENDING -> IN_PROGRESS -> COMPLETED, with FAILED and CANCELLED terminal.
// There is no approval step; reversals may be system-detected or manual.
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

func (s *Service) Initiate(ctx context.Context, req *types.InitiateReversalRequest, actor model.Actor, idempotencyKey string) (*model.ReversalRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceReversal, idempotencyKey,
		func(ctx context.Context) (*model.ReversalRequest, error) {
			return s.initiate(ctx, req, actor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceReversal).Inc()
	}
	s.count("InitiateReversal", err)
	return result, err
}

func (s *Service) initiate(ctx context.Context, req *types.InitiateReversalRequest, actor model.Actor, idempotencyKey string) (*model.ReversalRequest, error) {
	logger := middleware.GetLogger(ctx)

	if existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Info().Str("request_number", existing.RequestNumber).Msg("Idempotent reversal request found")
		return existing, nil
	}

	pay, err := s.payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	open, err := s.payments.HasOpenAdminRequests(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, errs.Conflict("a refund or reversal request is already in progress for payment %s", req.PaymentID)
	}

	rev := &model.ReversalRequest{
		PaymentID:      pay.ID,
		OriginalAmount: pay.Amount,
		ReversalType:   req.ReversalType,
		Reason:         req.Reason,
		AutoDetected:   req.AutoDetected,
		Status:         model.ReversalPending,
		RequestedBy:    actor,
		IdempotencyKey: idempotencyKey,
	}

	if err := s.repo.Create(ctx, rev); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
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
		Action:            model.ActionInitiateReversal,
		PaymentID:         &rev.PaymentID,
		ReversalRequestID: &rev.ID,
		Actor:             actor,
		Amount:            rev.OriginalAmount,
		Reason:            rev.Reason,
		PreviousState:     audit.Snapshot(map[string]any{"paymentStatus": pay.Status}),
		NewState:          audit.Snapshot(map[string]any{"reversalStatus": model.ReversalPending}),
		IdempotencyKey:    idempotencyKey,
	})

	logger.Info().
		Str("request_number", rev.RequestNumber).
		Str("reversal_type", string(rev.ReversalType)).
		Bool("auto_detected", rev.AutoDetected).
		Msg("Reversal request initiated")

	return rev, nil
}

func (s *Service) Process(ctx context.Context, req *types.ProcessReversalRequest, processor model.Actor, idempotencyKey string) (*model.ReversalRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceReversal, idempotencyKey,
		func(ctx context.Context) (*model.ReversalRequest, error) {
			return s.process(ctx, req, processor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceReversal).Inc()
	}
	s.count("ProcessReversal", err)
	return result, err
}

func (s *Service) process(ctx context.Context, req *types.ProcessReversalRequest, processor model.Actor, idempotencyKey string) (*model.ReversalRequest, error) {
	logger := middleware.GetLogger(ctx)

	entry, err := s.recorder.Replayed(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceReversal).Inc()
		return s.mustFind(ctx, req.ReversalRequestID)
	}

	rev, err := s.mustFind(ctx, req.ReversalRequestID)
	if err != nil {
		return nil, err
	}

	if rev.Status != model.ReversalPending {
		return nil, errs.InvalidTransition("cannot process reversal with status %s", rev.Status)
	}

	now := time.Now().UTC()

	if _, err := s.repo.MarkInProgress(ctx, rev.ID, processor, now); err != nil {
		if errors.Is(err, ErrNoTransition) {
			return nil, s.staleTransition(ctx, rev.ID)
		}
		return nil, err
	}

	// Reversal completion and the ledger's CANCELLED write are one atomic unit.
	updated, err := s.repo.CompleteWithPayment(ctx, rev.ID, req.GatewayReversalID, req.GatewayResponse, now)
	if err != nil {
		if errors.Is(err, ErrNoTransition) {
			return nil, s.staleTransition(ctx, rev.ID)
		}
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:            model.ActionCompleteReversal,
		PaymentID:         &updated.PaymentID,
		ReversalRequestID: &updated.ID,
		Actor:             processor,
		Amount:            updated.OriginalAmount,
		PreviousState:     audit.Snapshot(map[string]any{"status": model.ReversalPending}),
		NewState: audit.Snapshot(map[string]any{
			"status":        model.ReversalCompleted,
			"paymentStatus": model.PaymentCancelled,
		}),
		Metadata:       audit.Snapshot(map[string]any{"gatewayReversalId": req.GatewayReversalID}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().Str("request_number", updated.RequestNumber).Msg("Reversal completed")
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.ReversalRequest, error) {
	return s.mustFind(ctx, id)
}

func (s *Service) List(ctx context.Context, query types.ReversalQuery) ([]model.ReversalRequest, error) {
	return s.repo.List(ctx, query)
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*model.ReversalRequest, error) {
	rev, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, errs.NotFound("reversal request %s not found", id)
	}
	return rev, nil
}

func (s *Service) staleTransition(ctx context.Context, id uuid.UUID) error {
	rev, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rev == nil {
		return errs.NotFound("reversal request %s not found", id)
	}
	return errs.InvalidTransition("cannot process reversal with status %s", rev.Status)
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
