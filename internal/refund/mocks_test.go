package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/idempotency"
	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/types"
)

// fakeStore backs both the refund repository and the payment view so status
// writes that span both are visible to each other, as they are in Postgres.
type fakeStore struct {
	mu       sync.Mutex
	refunds  map[uuid.UUID]*model.RefundRequest
	payments map[uuid.UUID]*model.Payment
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		refunds:  make(map[uuid.UUID]*model.RefundRequest),
		payments: make(map[uuid.UUID]*model.Payment),
	}
}

func (f *fakeStore) addPayment(p *model.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = p
}

type fakeRefundRepo struct {
	store *fakeStore
}

func (r *fakeRefundRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.RefundRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rr, ok := r.store.refunds[id]; ok {
		clone := *rr
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeRefundRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.RefundRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rr := range r.store.refunds {
		if rr.IdempotencyKey == key {
			clone := *rr
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeRefundRepo) Create(ctx context.Context, req *model.RefundRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rr := range r.store.refunds {
		if rr.IdempotencyKey == req.IdempotencyKey {
			return ErrDuplicateKey
		}
	}
	r.store.seq++
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("REF-%d-%06d", time.Now().Year(), r.store.seq)
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	clone := *req
	r.store.refunds[req.ID] = &clone
	return nil
}

func (r *fakeRefundRepo) cas(id uuid.UUID, allowed []model.RefundStatus, mutate func(*model.RefundRequest)) (*model.RefundRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rr, ok := r.store.refunds[id]
	if !ok {
		return nil, ErrNoTransition
	}
	legal := false
	for _, s := range allowed {
		if rr.Status == s {
			legal = true
		}
	}
	if !legal {
		return nil, ErrNoTransition
	}
	mutate(rr)
	rr.UpdatedAt = time.Now().UTC()
	clone := *rr
	return &clone, nil
}

func (r *fakeRefundRepo) Approve(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.RefundRequest, error) {
	return r.cas(id, []model.RefundStatus{model.RefundRequested, model.RefundPendingApproval}, func(rr *model.RefundRequest) {
		rr.Status = model.RefundApproved
		rr.ApprovedBy = &approver
		rr.ApprovedAt = &at
	})
}

func (r *fakeRefundRepo) Reject(ctx context.Context, id uuid.UUID, rejecter model.Actor, reason string, at time.Time) (*model.RefundRequest, error) {
	return r.cas(id, []model.RefundStatus{model.RefundRequested, model.RefundPendingApproval, model.RefundApproved}, func(rr *model.RefundRequest) {
		rr.Status = model.RefundRejected
		rr.RejectedBy = &rejecter
		rr.RejectedAt = &at
		rr.RejectionReason = reason
	})
}

func (r *fakeRefundRepo) MarkProcessing(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.RefundRequest, error) {
	return r.cas(id, []model.RefundStatus{model.RefundApproved}, func(rr *model.RefundRequest) {
		rr.Status = model.RefundProcessing
		rr.ProcessedBy = &processor
		rr.ProcessedAt = &at
	})
}

func (r *fakeRefundRepo) CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayRefundID string, gatewayResponse json.RawMessage, at time.Time) (*model.RefundRequest, error) {
	updated, err := r.cas(id, []model.RefundStatus{model.RefundProcessing}, func(rr *model.RefundRequest) {
		rr.Status = model.RefundCompleted
		rr.CompletedAt = &at
		rr.GatewayRefundID = gatewayRefundID
		rr.GatewayResponse = gatewayResponse
	})
	if err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	pay, ok := r.store.payments[updated.PaymentID]
	if !ok || pay.Status != model.PaymentCompleted {
		return nil, ErrNoTransition
	}
	pay.Status = model.PaymentRefunded
	pay.RefundedAt = &at
	pay.RefundAmount = updated.RefundAmount
	return updated, nil
}

func (r *fakeRefundRepo) List(ctx context.Context, query types.RefundQuery) ([]model.RefundRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []model.RefundRequest
	for _, rr := range r.store.refunds {
		if query.Status != nil && rr.Status != *query.Status {
			continue
		}
		out = append(out, *rr)
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
	for _, rr := range p.store.refunds {
		if rr.PaymentID == paymentID && !rr.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePaymentRepo) FindWindow(ctx context.Context, start, end time.Time, cap int) ([]model.Payment, error) {
	return nil, nil
}

type fakeAuditRepo struct {
	mu         sync.Mutex
	entries    []model.AuditLogEntry
	failInsert bool
}

func (a *fakeAuditRepo) Insert(ctx context.Context, entry *model.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failInsert {
		return fmt.Errorf("audit store down")
	}
	entry.ID = int64(len(a.entries) + 1)
	entry.CreatedAt = time.Now().UTC()
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
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuditLogEntry(nil), a.entries...), nil
}

type harness struct {
	store    *fakeStore
	refunds  *fakeRefundRepo
	payments *fakePaymentRepo
	auditLog *fakeAuditRepo
	service  *Service
}

func newHarness() *harness {
	store := newFakeStore()
	refunds := &fakeRefundRepo{store: store}
	payments := &fakePaymentRepo{store: store}
	auditLog := &fakeAuditRepo{}

	log := zerolog.Nop()
	recorder := audit.NewRecorder(auditLog, nil, &log)
	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), time.Hour, &log)

	return &harness{
		store:    store,
		refunds:  refunds,
		payments: payments,
		auditLog: auditLog,
		service:  NewService(refunds, payments, guard, recorder),
	}
}

func (h *harness) completedPayment(amount int64) *model.Payment {
	pay := &model.Payment{
		ID:       uuid.New(),
		MemberID: uuid.New(),
		Amount:   amount,
		Currency: "LKR",
		Method:   model.MethodCreditCard,
		Status:   model.PaymentCompleted,
	}
	h.store.addPayment(pay)
	return pay
}
