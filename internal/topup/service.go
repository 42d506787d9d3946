package topup

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
	"github.com/carebook/paydesk/pkg/constants"
	"github.com/carebook/paydesk/pkg/types"
)

// Options gates top-ups on the member's payment option configuration.
type Options interface {
	CheckAllowed(ctx context.Context, memberID uuid.UUID, memberType model.MemberType, method model.PaymentMethod, amount int64) error
}

// Service drives the top-up state machine:
// PENDING -> (PENDING_APPROVAL) -> COMPLETED, with REJECTED, FAILED and
// CANCELLED terminal.
type Service struct {
	repo     Repository
	balances BalanceSource
	options  Options
	guard    *idempotency.Guard
	recorder *audit.Recorder
}

func NewService(repo Repository, balances BalanceSource, options Options, guard *idempotency.Guard, recorder *audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		balances: balances,
		options:  options,
		guard:    guard,
		recorder: recorder,
	}
}

func (s *Service) Create(ctx context.Context, req *types.CreateTopUpRequest, actor model.Actor, idempotencyKey string) (*model.TopUpRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceTopUp, idempotencyKey,
		func(ctx context.Context) (*model.TopUpRequest, error) {
			return s.create(ctx, req, actor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceTopUp).Inc()
	}
	s.count("CreateTopUp", err)
	return result, err
}

func (s *Service) create(ctx context.Context, req *types.CreateTopUpRequest, actor model.Actor, idempotencyKey string) (*model.TopUpRequest, error) {
	logger := middleware.GetLogger(ctx)

	if existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Info().Str("request_number", existing.RequestNumber).Msg("Idempotent top-up found")
		return existing, nil
	}

	if req.Amount <= 0 {
		return nil, errs.Validation("top-up amount must be positive")
	}

	if s.options != nil {
		if method, ok := paymentMethodFor(req.Method); ok {
			if err := s.options.CheckAllowed(ctx, req.MemberID, req.MemberType, method, req.Amount); err != nil {
				return nil, err
			}
		}
	}

	previousBalance, err := s.balances.Balance(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	newBalance := previousBalance + req.Amount

	tu := &model.TopUpRequest{
		MemberID:        req.MemberID,
		MemberType:      req.MemberType,
		Amount:          req.Amount,
		PreviousBalance: previousBalance,
		NewBalance:      newBalance,
		Method:          req.Method,
		Reason:          req.Reason,
		Status:          model.TopUpPending,
		ProcessedBy:     actor,
		IdempotencyKey:  idempotencyKey,
	}

	if err := s.repo.Create(ctx, tu); err != nil {
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
		Action:         model.ActionTopUpMember,
		TopUpRequestID: &tu.ID,
		Actor:          actor,
		Amount:         tu.Amount,
		Reason:         tu.Reason,
		PreviousState:  audit.Snapshot(map[string]any{"balance": previousBalance}),
		NewState:       audit.Snapshot(map[string]any{"balance": newBalance, "status": model.TopUpPending}),
		Metadata: audit.Snapshot(map[string]any{
			"memberId":   tu.MemberID,
			"memberType": tu.MemberType,
			"method":     tu.Method,
		}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().
		Str("request_number", tu.RequestNumber).
		Str("member_id", tu.MemberID.String()).
		Int64("amount", tu.Amount).
		Msg("Top-up created")

	return tu, nil
}

func (s *Service) Approve(ctx context.Context, req *types.ApproveTopUpRequest, approver model.Actor, idempotencyKey string) (*model.TopUpRequest, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceTopUp, idempotencyKey,
		func(ctx context.Context) (*model.TopUpRequest, error) {
			return s.approve(ctx, req, approver, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceTopUp).Inc()
	}
	s.count("ApproveTopUp", err)
	return result, err
}

func (s *Service) approve(ctx context.Context, req *types.ApproveTopUpRequest, approver model.Actor, idempotencyKey string) (*model.TopUpRequest, error) {
	logger := middleware.GetLogger(ctx)

	entry, err := s.recorder.Replayed(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceTopUp).Inc()
		return s.mustFind(ctx, req.TopUpID)
	}

	tu, err := s.mustFind(ctx, req.TopUpID)
	if err != nil {
		return nil, err
	}

	if !tu.Status.Approvable() {
		return nil, errs.InvalidTransition("cannot approve top-up with status %s", tu.Status)
	}
	if tu.ProcessedBy.ID == approver.ID {
		return nil, errs.SelfApproval("cannot approve your own top-up")
	}

	previousStatus := tu.Status

	// Completion and the member-balance credit are one unit of work.
	updated, err := s.repo.ApproveAndCredit(ctx, tu.ID, approver, time.Now().UTC())
	if errors.Is(err, ErrNoTransition) {
		fresh, findErr := s.repo.FindByID(ctx, tu.ID)
		if findErr != nil {
			return nil, findErr
		}
		if fresh == nil {
			return nil, errs.NotFound("top-up %s not found", tu.ID)
		}
		return nil, errs.InvalidTransition("cannot approve top-up with status %s", fresh.Status)
	}
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:         model.ActionApproveTopUp,
		TopUpRequestID: &updated.ID,
		Actor:          approver,
		Amount:         updated.Amount,
		PreviousState:  audit.Snapshot(map[string]any{"status": previousStatus}),
		NewState:       audit.Snapshot(map[string]any{"status": model.TopUpCompleted}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().Str("request_number", updated.RequestNumber).Str("approved_by", approver.Email).Msg("Top-up approved")
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.TopUpRequest, error) {
	return s.mustFind(ctx, id)
}

func (s *Service) List(ctx context.Context, query types.TopUpQuery) ([]model.TopUpRequest, error) {
	return s.repo.List(ctx, query)
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*model.TopUpRequest, error) {
	tu, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tu == nil {
		return nil, errs.NotFound("top-up %s not found", id)
	}
	return tu, nil
}

// paymentMethodFor maps top-up methods onto the payment methods the options
// registry is keyed by. Cheque and internal adjustments have no counterpart
// and are never gated.
func paymentMethodFor(method model.TopUpMethod) (model.PaymentMethod, bool) {
	switch method {
	case model.TopUpBankTransfer:
		return model.MethodBankTransfer, true
	case model.TopUpCash:
		return model.MethodCash, true
	case model.TopUpCreditCard:
		return model.MethodCreditCard, true
	case model.TopUpDebitCard:
		return model.MethodDebitCard, true
	}
	return "", false
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
