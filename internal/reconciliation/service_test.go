package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/idempotency"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/types"
)

type fakeRunRepo struct {
	mu       sync.Mutex
	runs     []model.ReconciliationRun
	expected map[uuid.UUID]model.PaymentStatus
	seq      int
}

func (r *fakeRunRepo) Save(ctx context.Context, run *model.ReconciliationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	run.ID = uuid.New()
	run.RunNumber = fmt.Sprintf("REC-%d-%06d", time.Now().Year(), r.seq)
	r.runs = append(r.runs, *run)
	return nil
}

func (r *fakeRunRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReconciliationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID == id {
			clone := r.runs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeRunRepo) List(ctx context.Context, page types.Page) ([]model.ReconciliationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ReconciliationRun(nil), r.runs...), nil
}

func (r *fakeRunRepo) ExpectedStatuses(ctx context.Context, paymentIDs []uuid.UUID) (map[uuid.UUID]model.PaymentStatus, error) {
	out := make(map[uuid.UUID]model.PaymentStatus)
	for _, id := range paymentIDs {
		if want, ok := r.expected[id]; ok {
			out[id] = want
		}
	}
	return out, nil
}

type fakeWindowRepo struct {
	payments []model.Payment
	err      error
}

func (f *fakeWindowRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return nil, errs.NotFound("payment %s not found", id)
}

func (f *fakeWindowRepo) HasOpenAdminRequests(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeWindowRepo) FindWindow(ctx context.Context, start, end time.Time, cap int) ([]model.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.payments) > cap {
		return f.payments[:cap], nil
	}
	return f.payments, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (a *fakeAuditRepo) Insert(ctx context.Context, entry *model.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *fakeAuditRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.AuditLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.entries {
		if a.entries[i].IdempotencyKey == key {
			clone := a.entries[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (a *fakeAuditRepo) List(ctx context.Context, query types.AuditLogQuery) ([]model.AuditLogEntry, error) {
	return append([]model.AuditLogEntry(nil), a.entries...), nil
}

func newService(t *testing.T, repo *fakeRunRepo, payments *fakeWindowRepo) (*Service, *fakeAuditRepo) {
	t.Helper()
	auditLog := &fakeAuditRepo{}
	log := zerolog.Nop()
	recorder := audit.NewRecorder(auditLog, nil, &log)
	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), time.Hour, &log)
	return NewService(repo, payments, guard, recorder, nil, 10000), auditLog
}

func paymentWith(status model.PaymentStatus, amount int64) model.Payment {
	return model.Payment{
		ID:       uuid.New(),
		MemberID: uuid.New(),
		Amount:   amount,
		Currency: "LKR",
		Method:   model.MethodCreditCard,
		Status:   status,
	}
}

// settled is a completed payment carrying its gateway settlement reference.
func settled(amount int64) model.Payment {
	p := paymentWith(model.PaymentCompleted, amount)
	p.TransactionID = "GW-" + uuid.NewString()
	return p
}

func actor() model.Actor {
	return model.Actor{ID: uuid.New(), Email: "ops@carebook.example", Role: "FINANCE_ADMIN"}
}

func window() *types.RunReconciliationRequest {
	end := time.Now().UTC()
	return &types.RunReconciliationRequest{StartDate: end.Add(-24 * time.Hour), EndDate: end}
}

func TestRunReconciliationCleanWindow(t *testing.T) {
	var payments []model.Payment
	for i := 0; i < 5; i++ {
		payments = append(payments, settled(100))
	}
	repo := &fakeRunRepo{}
	svc, auditLog := newService(t, repo, &fakeWindowRepo{payments: payments})

	run, err := svc.Run(context.Background(), window(), actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, model.ReconciliationCompleted, run.Status)
	assert.Equal(t, 5, run.TotalTransactions)
	assert.Equal(t, 5, run.MatchedTransactions)
	assert.Empty(t, run.Discrepancies)
	assert.Equal(t, float64(100), run.SuccessRate)
	assert.Equal(t, int64(500), run.TotalAmount)
	assert.Equal(t, run.TotalAmount, run.MatchedAmount)
	assert.Zero(t, run.MismatchedAmount)
	assert.Contains(t, run.RunNumber, "REC-")

	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, model.ActionRunReconciliation, auditLog.entries[0].Action)
}

func TestRunReconciliationClassifiesDiscrepancies(t *testing.T) {
	var payments []model.Payment
	for i := 0; i < 7; i++ {
		payments = append(payments, settled(100))
	}
	pending := paymentWith(model.PaymentPending, 40)
	failed := paymentWith(model.PaymentFailed, 60)
	// Refund workflow finished but the ledger still says COMPLETED.
	staleLedger := settled(250)
	payments = append(payments, pending, failed, staleLedger)

	repo := &fakeRunRepo{expected: map[uuid.UUID]model.PaymentStatus{
		staleLedger.ID: model.PaymentRefunded,
	}}
	svc, _ := newService(t, repo, &fakeWindowRepo{payments: payments})

	run, err := svc.Run(context.Background(), window(), actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, model.ReconciliationWithDiscrepancies, run.Status)
	assert.Equal(t, 10, run.TotalTransactions)
	assert.Equal(t, 7, run.MatchedTransactions)
	assert.Equal(t, 2, run.IncompleteTransactions)
	assert.Equal(t, 1, run.MismatchedTransactions)
	assert.InDelta(t, 70.0, run.SuccessRate, 0.001)

	assert.Equal(t, int64(1050), run.TotalAmount)
	assert.Equal(t, int64(700), run.MatchedAmount)
	assert.Equal(t, run.TotalAmount-run.MatchedAmount, run.MismatchedAmount)

	require.Len(t, run.Discrepancies, 3)
	byType := map[model.DiscrepancyType]int{}
	byPayment := map[uuid.UUID]model.Discrepancy{}
	for _, d := range run.Discrepancies {
		byType[d.Type]++
		byPayment[d.PaymentID] = d
	}
	// Only a transaction still in flight is INCOMPLETE; a failed one is a
	// mismatch against the settled state it should have reached.
	assert.Equal(t, 1, byType[model.DiscrepancyIncomplete])
	assert.Equal(t, 2, byType[model.DiscrepancyStatusMismatch])
	assert.Equal(t, model.DiscrepancyIncomplete, byPayment[pending.ID].Type)
	assert.Equal(t, model.DiscrepancyStatusMismatch, byPayment[failed.ID].Type)

	stale := byPayment[staleLedger.ID]
	assert.Equal(t, model.DiscrepancyStatusMismatch, stale.Type)
	assert.Equal(t, model.PaymentRefunded, stale.ExpectedStatus)
	assert.Equal(t, model.PaymentCompleted, stale.ActualStatus)
}

func TestRunReconciliationRequiresSettlementReference(t *testing.T) {
	var payments []model.Payment
	for i := 0; i < 7; i++ {
		payments = append(payments, settled(100))
	}
	pending1 := paymentWith(model.PaymentPending, 40)
	pending2 := paymentWith(model.PaymentPending, 60)
	// Completed in the ledger but no gateway reference was ever recorded.
	unreferenced := paymentWith(model.PaymentCompleted, 150)
	payments = append(payments, pending1, pending2, unreferenced)

	repo := &fakeRunRepo{}
	svc, _ := newService(t, repo, &fakeWindowRepo{payments: payments})

	run, err := svc.Run(context.Background(), window(), actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, model.ReconciliationWithDiscrepancies, run.Status)
	assert.Equal(t, 10, run.TotalTransactions)
	assert.Equal(t, 7, run.MatchedTransactions)
	assert.Equal(t, 2, run.IncompleteTransactions)
	assert.Equal(t, 1, run.MismatchedTransactions)

	assert.Equal(t, int64(700), run.MatchedAmount)
	assert.Equal(t, run.TotalAmount, run.MatchedAmount+run.MismatchedAmount)

	require.Len(t, run.Discrepancies, 3)
	byType := map[model.DiscrepancyType]int{}
	for _, d := range run.Discrepancies {
		byType[d.Type]++
		if d.PaymentID == unreferenced.ID {
			assert.Equal(t, model.DiscrepancyStatusMismatch, d.Type)
			assert.Equal(t, model.PaymentCompleted, d.ActualStatus)
		}
	}
	assert.Equal(t, 2, byType[model.DiscrepancyIncomplete])
	assert.Equal(t, 1, byType[model.DiscrepancyStatusMismatch])
}

func TestRunReconciliationInvalidRangeWritesNothing(t *testing.T) {
	repo := &fakeRunRepo{}
	svc, auditLog := newService(t, repo, &fakeWindowRepo{})

	now := time.Now().UTC()
	_, err := svc.Run(context.Background(), &types.RunReconciliationRequest{
		StartDate: now,
		EndDate:   now.Add(-time.Hour),
	}, actor(), "K1")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Empty(t, repo.runs, "an invalid range must not produce a run record")
	assert.Empty(t, auditLog.entries)
}

func TestRunReconciliationPersistsFailedRun(t *testing.T) {
	repo := &fakeRunRepo{}
	svc, _ := newService(t, repo, &fakeWindowRepo{err: errors.New("ledger unreachable")})

	_, err := svc.Run(context.Background(), window(), actor(), "K1")
	require.Error(t, err)

	require.Len(t, repo.runs, 1)
	assert.Equal(t, model.ReconciliationFailed, repo.runs[0].Status)
}

func TestRunReconciliationReplaySameKey(t *testing.T) {
	repo := &fakeRunRepo{}
	svc, _ := newService(t, repo, &fakeWindowRepo{payments: []model.Payment{settled(100)}})

	req := window()
	first, err := svc.Run(context.Background(), req, actor(), "K1")
	require.NoError(t, err)

	second, err := svc.Run(context.Background(), req, actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, first.RunNumber, second.RunNumber)
	assert.Len(t, repo.runs, 1, "replay must not execute a second run")
}

func TestRunReconciliationHonorsCap(t *testing.T) {
	var payments []model.Payment
	for i := 0; i < 20; i++ {
		payments = append(payments, settled(10))
	}
	repo := &fakeRunRepo{}
	auditLog := &fakeAuditRepo{}
	log := zerolog.Nop()
	recorder := audit.NewRecorder(auditLog, nil, &log)
	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), time.Hour, &log)
	svc := NewService(repo, &fakeWindowRepo{payments: payments}, guard, recorder, nil, 5)

	run, err := svc.Run(context.Background(), window(), actor(), "K1")
	require.NoError(t, err)
	assert.Equal(t, 5, run.TotalTransactions)
}
