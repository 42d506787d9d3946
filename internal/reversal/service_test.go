package reversal

import (
	"context"
	"encoding/json"
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

type fakeStore struct {
	mu        sync.Mutex
	reversals map[uuid.UUID]*model.ReversalRequest
	payments  map[uuid.UUID]*model.Payment
	seq       int
}

type fakeReversalRepo struct {
	store *fakeStore
}

func (r *fakeReversalRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReversalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rev, ok := r.store.reversals[id]; ok {
		clone := *rev
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeReversalRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.ReversalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rev := range r.store.reversals {
		if rev.IdempotencyKey == key {
			clone := *rev
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeReversalRepo) Create(ctx context.Context, req *model.ReversalRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rev := range r.store.reversals {
		if rev.IdempotencyKey == req.IdempotencyKey {
			return ErrDuplicateKey
		}
	}
	r.store.seq++
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("REV-%d-%06d", time.Now().Year(), r.store.seq)
	clone := *req
	r.store.reversals[req.ID] = &clone
	return nil
}

func (r *fakeReversalRepo) MarkInProgress(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.ReversalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rev, ok := r.store.reversals[id]
	if !ok || rev.Status != model.ReversalPending {
		return nil, ErrNoTransition
	}
	rev.Status = model.ReversalInProgress
	rev.ProcessedBy = &processor
	rev.ProcessedAt = &at
	clone := *rev
	return &clone, nil
}

func (r *fakeReversalRepo) CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayReversalID string, gatewayResponse json.RawMessage, at time.Time) (*model.ReversalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rev, ok := r.store.reversals[id]
	if !ok || rev.Status != model.ReversalInProgress {
		return nil, ErrNoTransition
	}
	pay, ok := r.store.payments[rev.PaymentID]
	if !ok || pay.Status != model.PaymentCompleted {
		return nil, ErrNoTransition
	}
	rev.Status = model.ReversalCompleted
	rev.CompletedAt = &at
	rev.GatewayReversalID = gatewayReversalID
	rev.GatewayResponse = gatewayResponse
	pay.Status = model.PaymentCancelled
	clone := *rev
	return &clone, nil
}

func (r *fakeReversalRepo) List(ctx context.Context, query types.ReversalQuery) ([]model.ReversalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []model.ReversalRequest
	for _, rev := range r.store.reversals {
		out = append(out, *rev)
	}
	return out, nil
}

type fakePaymentRepo struct {
	store *fakeStore
}

func (p *fakePaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if pay, ok := p.store.payments[id]; ok {
		clone := *pay
		return &clone, nil
	}
	return nil, errs.NotFound("payment %s not found", id)
}

func (p *fakePaymentRepo) HasOpenAdminRequests(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, rev := range p.store.reversals {
		if rev.PaymentID == paymentID && !rev.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePaymentRepo) FindWindow(ctx context.Context, start, end time.Time, cap int) ([]model.Payment, error) {
	return nil, nil
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

func newService(t *testing.T) (*Service, *fakeStore, *fakeAuditRepo) {
	t.Helper()
	store := &fakeStore{
		reversals: make(map[uuid.UUID]*model.ReversalRequest),
		payments:  make(map[uuid.UUID]*model.Payment),
	}
	auditLog := &fakeAuditRepo{}
	log := zerolog.Nop()
	recorder := audit.NewRecorder(auditLog, nil, &log)
	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), time.Hour, &log)
	return NewService(&fakeReversalRepo{store: store}, &fakePaymentRepo{store: store}, guard, recorder), store, auditLog
}

func addPayment(store *fakeStore, amount int64, status model.PaymentStatus) *model.Payment {
	pay := &model.Payment{
		ID:       uuid.New(),
		MemberID: uuid.New(),
		Amount:   amount,
		Currency: "LKR",
		Method:   model.MethodCreditCard,
		Status:   status,
	}
	store.mu.Lock()
	store.payments[pay.ID] = pay
	store.mu.Unlock()
	return pay
}

func actor() model.Actor {
	return model.Actor{ID: uuid.New(), Email: "ops@carebook.example", Role: "FINANCE_ADMIN"}
}

func TestInitiateReversal(t *testing.T) {
	svc, store, auditLog := newService(t)
	pay := addPayment(store, 2500, model.PaymentCompleted)

	rev, err := svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID:    pay.ID,
		ReversalType: model.ReversalDuplicatePayment,
		Reason:       "charged twice",
		AutoDetected: true,
	}, actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, model.ReversalPending, rev.Status)
	assert.Equal(t, int64(2500), rev.OriginalAmount)
	assert.True(t, rev.AutoDetected)
	assert.Contains(t, rev.RequestNumber, "REV-")

	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, model.ActionInitiateReversal, auditLog.entries[0].Action)
}

func TestInitiateReversalConflictsWithOpenReversal(t *testing.T) {
	svc, store, _ := newService(t)
	pay := addPayment(store, 2500, model.PaymentCompleted)

	_, err := svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID: pay.ID, ReversalType: model.ReversalSystemError, Reason: "first",
	}, actor(), "K1")
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID: pay.ID, ReversalType: model.ReversalFraud, Reason: "second",
	}, actor(), "K2")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestProcessReversalCompletesAndCancelsPayment(t *testing.T) {
	svc, store, auditLog := newService(t)
	pay := addPayment(store, 2500, model.PaymentCompleted)

	rev, err := svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID: pay.ID, ReversalType: model.ReversalChargeback, Reason: "chargeback received",
	}, actor(), "K1")
	require.NoError(t, err)

	done, err := svc.Process(context.Background(), &types.ProcessReversalRequest{
		ReversalRequestID: rev.ID,
		GatewayReversalID: "gw-rev-12",
	}, actor(), "K2")
	require.NoError(t, err)

	assert.Equal(t, model.ReversalCompleted, done.Status)
	assert.Equal(t, "gw-rev-12", done.GatewayReversalID)
	assert.Equal(t, model.PaymentCancelled, store.payments[pay.ID].Status)

	require.Len(t, auditLog.entries, 2)
	assert.Equal(t, model.ActionCompleteReversal, auditLog.entries[1].Action)
}

func TestProcessReversalOnlyFromPending(t *testing.T) {
	svc, store, _ := newService(t)
	pay := addPayment(store, 2500, model.PaymentCompleted)

	rev, err := svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID: pay.ID, ReversalType: model.ReversalOther, Reason: "r",
	}, actor(), "K1")
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), &types.ProcessReversalRequest{
		ReversalRequestID: rev.ID, GatewayReversalID: "gw-1",
	}, actor(), "K2")
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), &types.ProcessReversalRequest{
		ReversalRequestID: rev.ID, GatewayReversalID: "gw-2",
	}, actor(), "K3")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestProcessReversalReplaySameKey(t *testing.T) {
	svc, store, auditLog := newService(t)
	pay := addPayment(store, 2500, model.PaymentCompleted)

	rev, err := svc.Initiate(context.Background(), &types.InitiateReversalRequest{
		PaymentID: pay.ID, ReversalType: model.ReversalOther, Reason: "r",
	}, actor(), "K1")
	require.NoError(t, err)

	first, err := svc.Process(context.Background(), &types.ProcessReversalRequest{
		ReversalRequestID: rev.ID, GatewayReversalID: "gw-1",
	}, actor(), "K2")
	require.NoError(t, err)

	second, err := svc.Process(context.Background(), &types.ProcessReversalRequest{
		ReversalRequestID: rev.ID, GatewayReversalID: "gw-1",
	}, actor(), "K2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, auditLog.entries, 2, "replay must not append audit entries")
}
