package options

import (
	"context"

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

// Service owns the per-member payment option registry. Options are plain
// configuration, not a state machine; workflows consult them before moving
// money.
type Service struct {
	repo     Repository
	guard    *idempotency.Guard
	recorder *audit.Recorder
}

func NewService(repo Repository, guard *idempotency.Guard, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, guard: guard, recorder: recorder}
}

func (s *Service) Update(ctx context.Context, req *types.UpdatePaymentOptionsRequest, actor model.Actor, idempotencyKey string) (*model.PaymentOption, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceOptions, idempotencyKey,
		func(ctx context.Context) (*model.PaymentOption, error) {
			return s.update(ctx, req, actor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceOptions).Inc()
	}
	s.count("UpdatePaymentOptions", err)
	return result, err
}

func (s *Service) update(ctx context.Context, req *types.UpdatePaymentOptionsRequest, actor model.Actor, idempotencyKey string) (*model.PaymentOption, error) {
	logger := middleware.GetLogger(ctx)

	previous, err := s.repo.Find(ctx, req.MemberID, req.Method)
	if err != nil {
		return nil, err
	}

	opt := &model.PaymentOption{
		MemberID:            req.MemberID,
		MemberType:          req.MemberType,
		Method:              req.Method,
		Enabled:             req.Enabled,
		Default:             req.Default,
		MaxTransactionLimit: req.MaxTransactionLimit,
		DailyLimit:          req.DailyLimit,
		MonthlyLimit:        req.MonthlyLimit,
		ConfiguredBy:        actor,
	}
	if previous != nil {
		opt.ID = previous.ID
	}

	if err := s.repo.Upsert(ctx, opt); err != nil {
		return nil, err
	}

	previousState := map[string]any{"configured": false}
	if previous != nil {
		previousState = map[string]any{
			"configured":          true,
			"enabled":             previous.Enabled,
			"default":             previous.Default,
			"maxTransactionLimit": previous.MaxTransactionLimit,
			"dailyLimit":          previous.DailyLimit,
			"monthlyLimit":        previous.MonthlyLimit,
		}
	}

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action:        model.ActionUpdatePaymentOptions,
		Actor:         actor,
		PreviousState: audit.Snapshot(previousState),
		NewState: audit.Snapshot(map[string]any{
			"enabled":             opt.Enabled,
			"default":             opt.Default,
			"maxTransactionLimit": opt.MaxTransactionLimit,
			"dailyLimit":          opt.DailyLimit,
			"monthlyLimit":        opt.MonthlyLimit,
		}),
		Metadata: audit.Snapshot(map[string]any{
			"memberId":   opt.MemberID,
			"memberType": opt.MemberType,
			"method":     opt.Method,
		}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().
		Str("member_id", opt.MemberID.String()).
		Str("method", string(opt.Method)).
		Bool("enabled", opt.Enabled).
		Msg("Payment options updated")

	return opt, nil
}

func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID) ([]model.PaymentOption, error) {
	return s.repo.ListByMember(ctx, memberID)
}

// CheckAllowed reports whether a transaction of the given amount may use the
// method for this member. Unconfigured methods are allowed; disabling is an
// explicit act.
func (s *Service) CheckAllowed(ctx context.Context, memberID uuid.UUID, memberType model.MemberType, method model.PaymentMethod, amount int64) error {
	opt, err := s.repo.Find(ctx, memberID, method)
	if err != nil {
		return err
	}
	if opt == nil {
		return nil
	}
	if !opt.Enabled {
		return errs.Validation("payment method %s is disabled for member %s", method, memberID)
	}
	if opt.MaxTransactionLimit > 0 && amount > opt.MaxTransactionLimit {
		return errs.Validation("amount %d exceeds the per-transaction limit %d for method %s", amount, opt.MaxTransactionLimit, method)
	}
	return nil
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
