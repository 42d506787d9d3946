package reconciliation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/idempotency"
	"github.com/carebook/paydesk/internal/kafka"
	"github.com/carebook/paydesk/internal/metrics"
	"github.com/carebook/paydesk/internal/middleware"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/internal/payment"
	"github.com/carebook/paydesk/pkg/constants"
	"github.com/carebook/paydesk/pkg/types"
)

// Service compares the ledger's payments against the engine's own completed
// workflows over a date window and files the result as a run. Runs are
// read-only towards payments; discrepancies are reported, never auto-fixed.
type Service struct {
	repo           Repository
	payments       payment.Repository
	guard          *idempotency.Guard
	recorder       *audit.Recorder
	events         audit.Enqueuer
	transactionCap int
}

func NewService(repo Repository, payments payment.Repository, guard *idempotency.Guard, recorder *audit.Recorder, events audit.Enqueuer, transactionCap int) *Service {
	return &Service{
		repo:           repo,
		payments:       payments,
		guard:          guard,
		recorder:       recorder,
		events:         events,
		transactionCap: transactionCap,
	}
}

func (s *Service) Run(ctx context.Context, req *types.RunReconciliationRequest, actor model.Actor, idempotencyKey string) (*model.ReconciliationRun, error) {
	result, replayed, err := idempotency.Execute(ctx, s.guard, constants.NamespaceReconciliation, idempotencyKey,
		func(ctx context.Context) (*model.ReconciliationRun, error) {
			return s.run(ctx, req, actor, idempotencyKey)
		})
	if replayed {
		metrics.IdempotentReplays.WithLabelValues(constants.NamespaceReconciliation).Inc()
	}
	s.count("RunReconciliation", err)
	return result, err
}

func (s *Service) run(ctx context.Context, req *types.RunReconciliationRequest, actor model.Actor, idempotencyKey string) (*model.ReconciliationRun, error) {
	logger := middleware.GetLogger(ctx)

	// An invalid range fails before any row is written.
	if !req.EndDate.After(req.StartDate) {
		return nil, errs.Validation("end date must be after start date")
	}

	run := &model.ReconciliationRun{
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Status:      model.ReconciliationInProgress,
		PerformedBy: actor,
	}

	payments, err := s.payments.FindWindow(ctx, req.StartDate, req.EndDate, s.transactionCap)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	ids := make([]uuid.UUID, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
	}
	expected, err := s.repo.ExpectedStatuses(ctx, ids)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	classify(run, payments, expected)

	now := time.Now().UTC()
	run.CompletedAt = &now

	if err := s.repo.Save(ctx, run); err != nil {
		return nil, err
	}

	for _, d := range run.Discrepancies {
		metrics.ReconciliationDiscrepancies.WithLabelValues(string(d.Type)).Inc()
		s.emit(ctx, kafka.EventDiscrepancyDetected, run.RunNumber, d)
	}
	s.emit(ctx, kafka.EventReconciliationDone, run.RunNumber, run)

	s.recorder.Record(ctx, &model.AuditLogEntry{
		Action: model.ActionRunReconciliation,
		Actor:  actor,
		NewState: audit.Snapshot(map[string]any{
			"runNumber":   run.RunNumber,
			"status":      run.Status,
			"total":       run.TotalTransactions,
			"matched":     run.MatchedTransactions,
			"mismatched":  run.MismatchedTransactions,
			"incomplete":  run.IncompleteTransactions,
			"successRate": run.SuccessRate,
		}),
		Metadata: audit.Snapshot(map[string]any{
			"startDate": run.StartDate,
			"endDate":   run.EndDate,
		}),
		IdempotencyKey: idempotencyKey,
	})

	logger.Info().
		Str("run_number", run.RunNumber).
		Str("status", string(run.Status)).
		Int("total", run.TotalTransactions).
		Int("discrepancies", len(run.Discrepancies)).
		Msg("Reconciliation run completed")

	return run, nil
}

// classify buckets each payment. Matched requires a settled status and a
// settlement reference; everything short of that is a discrepancy. A payment
// stuck in PENDING files as INCOMPLETE, every other deviation (FAILED,
// settled without a reference, ledger status contradicting a completed
// workflow) files as STATUS_MISMATCH.
func classify(run *model.ReconciliationRun, payments []model.Payment, expected map[uuid.UUID]model.PaymentStatus) {
	for _, p := range payments {
		run.TotalTransactions++
		run.TotalAmount += p.Amount

		switch p.Status {
		case model.PaymentPending:
			run.IncompleteTransactions++
			run.Discrepancies = append(run.Discrepancies, discrepancy(p, model.PaymentCompleted,
				model.DiscrepancyIncomplete, "transaction never reached a settled state"))
			continue
		case model.PaymentFailed, model.PaymentUnpaid:
			run.IncompleteTransactions++
			run.Discrepancies = append(run.Discrepancies, discrepancy(p, model.PaymentCompleted,
				model.DiscrepancyStatusMismatch, "transaction never reached a settled state"))
			continue
		}

		if p.TransactionID == "" {
			run.MismatchedTransactions++
			run.Discrepancies = append(run.Discrepancies, discrepancy(p, p.Status,
				model.DiscrepancyStatusMismatch, "settled without a settlement reference"))
			continue
		}

		if want, ok := expected[p.ID]; ok && p.Status != want {
			run.MismatchedTransactions++
			run.Discrepancies = append(run.Discrepancies, discrepancy(p, want,
				model.DiscrepancyStatusMismatch, "ledger status disagrees with the completed workflow outcome"))
			continue
		}

		run.MatchedTransactions++
		run.MatchedAmount += p.Amount
	}

	// Every amount that failed the matched check counts as mismatched, so
	// the two buckets always sum to the window total.
	run.MismatchedAmount = run.TotalAmount - run.MatchedAmount

	if run.TotalTransactions > 0 {
		run.SuccessRate = float64(run.MatchedTransactions) / float64(run.TotalTransactions) * 100
	}

	if len(run.Discrepancies) == 0 {
		run.Status = model.ReconciliationCompleted
	} else {
		run.Status = model.ReconciliationWithDiscrepancies
	}
}

func discrepancy(p model.Payment, want model.PaymentStatus, kind model.DiscrepancyType, details string) model.Discrepancy {
	return model.Discrepancy{
		PaymentID:      p.ID,
		TransactionID:  p.TransactionID,
		ExpectedStatus: want,
		ActualStatus:   p.Status,
		ExpectedAmount: p.Amount,
		ActualAmount:   p.Amount,
		Type:           kind,
		Details:        details,
	}
}

// fail files the run as FAILED so the attempt is visible, then returns the
// original error. The save itself is best-effort.
func (s *Service) fail(ctx context.Context, run *model.ReconciliationRun, cause error) error {
	logger := middleware.GetLogger(ctx)

	run.Status = model.ReconciliationFailed
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := s.repo.Save(ctx, run); err != nil {
		logger.Error().Err(err).Msg("failed to record FAILED reconciliation run")
	}
	return cause
}

func (s *Service) emit(ctx context.Context, eventType, runNumber string, payload any) {
	if s.events == nil {
		return
	}
	logger := middleware.GetLogger(ctx)
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode reconciliation event payload")
		return
	}
	if err := s.events.Enqueue(ctx, eventType, runNumber, raw); err != nil {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to enqueue reconciliation event")
	}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.ReconciliationRun, error) {
	run, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errs.NotFound("reconciliation run %s not found", id)
	}
	return run, nil
}

func (s *Service) List(ctx context.Context, page types.Page) ([]model.ReconciliationRun, error) {
	return s.repo.List(ctx, page)
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
