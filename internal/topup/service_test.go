package topup

import (
	"context"
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

type fakeTopUpStore struct {
	mu       sync.Mutex
	topups   map[uuid.UUID]*model.TopUpRequest
	balances map[uuid.UUID]int64
	seq      int
}

type fakeTopUpRepo struct {
	store *fakeTopUpStore
}

func (r *fakeTopUpRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.TopUpRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if tu, ok := r.store.topups[id]; ok {
		clone := *tu
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeTopUpRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.TopUpRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, tu := range r.store.topups {
		if tu.IdempotencyKey == key {
			clone := *tu
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeTopUpRepo) Create(ctx context.Context, req *model.TopUpRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, tu := range r.store.topups {
		if tu.IdempotencyKey == req.IdempotencyKey {
			return ErrDuplicateKey
		}
	}
	r.store.seq++
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("TOP-%d-%06d", time.Now().Year(), r.store.seq)
	clone := *req
	r.store.topups[req.ID] = &clone
	return nil
}

func (r *fakeTopUpRepo) ApproveAndCredit(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.TopUpRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	tu, ok := r.store.topups[id]
	if !ok || !tu.Status.Approvable() {
		return nil, ErrNoTransition
	}
	tu.Status = model.TopUpCompleted
	tu.ApprovedBy = &approver
	tu.ApprovedAt = &at
	tu.CompletedAt = &at
	r.store.balances[tu.MemberID] += tu.Amount
	clone := *tu
	return &clone, nil
}

func (r *fakeTopUpRepo) List(ctx context.Context, query types.TopUpQuery) ([]model.TopUpRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []model.TopUpRequest
	for _, tu := range r.store.topups {
		out = append(out, *tu)
	}
	return out, nil
}

type fakeBalances struct {
	store *fakeTopUpStore
}

func (b *fakeBalances) Balance(ctx context.Context, memberID uuid.UUID) (int64, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return b.store.balances[memberID], nil
}

type fakeOptions struct {
	err error
}

func (o *fakeOptions) CheckAllowed(ctx context.Context, memberID uuid.UUID, memberType model.MemberType, method model.PaymentMethod, amount int64) error {
	return o.err
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

func newService(t *testing.T, options Options) (*Service, *fakeTopUpStore, *fakeAuditRepo) {
	t.Helper()
	store := &fakeTopUpStore{
		topups:   make(map[uuid.UUID]*model.TopUpRequest),
		balances: make(map[uuid.UUID]int64),
	}
	auditLog := &fakeAuditRepo{}
	log := zerolog.Nop()
	recorder := audit.NewRecorder(auditLog, nil, &log)
	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), time.Hour, &log)
	svc := NewService(&fakeTopUpRepo{store: store}, &fakeBalances{store: store}, options, guard, recorder)
	return svc, store, auditLog
}

func actor() model.Actor {
	return model.Actor{ID: uuid.New(), Email: "ops@carebook.example", Role: "FINANCE_ADMIN"}
}

func TestCreateTopUp(t *testing.T) {
	svc, store, auditLog := newService(t, &fakeOptions{})
	memberID := uuid.New()
	store.balances[memberID] = 300

	tu, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   memberID,
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpBankTransfer,
		Reason:     "account credit",
	}, actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, model.TopUpPending, tu.Status)
	assert.Equal(t, int64(300), tu.PreviousBalance)
	assert.Equal(t, int64(800), tu.NewBalance)
	assert.Contains(t, tu.RequestNumber, "TOP-")

	// Creation records the intent; the balance only moves on approval.
	assert.Equal(t, int64(300), store.balances[memberID])

	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, model.ActionTopUpMember, auditLog.entries[0].Action)
}

func TestCreateTopUpBlockedByOptions(t *testing.T) {
	svc, _, _ := newService(t, &fakeOptions{err: errs.Validation("payment method disabled")})

	_, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   uuid.New(),
		MemberType: model.MemberDoctor,
		Amount:     500,
		Method:     model.TopUpCreditCard,
		Reason:     "r",
	}, actor(), "K1")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCreateTopUpOptionsNotConsultedForCheque(t *testing.T) {
	// Cheque has no payment-option counterpart, so even a deny-all registry
	// must not block it.
	svc, _, _ := newService(t, &fakeOptions{err: errs.Validation("deny all")})

	_, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   uuid.New(),
		MemberType: model.MemberAgent,
		Amount:     500,
		Method:     model.TopUpCheque,
		Reason:     "r",
	}, actor(), "K1")
	require.NoError(t, err)
}

func TestCreateTopUpReplaySameKey(t *testing.T) {
	svc, _, auditLog := newService(t, &fakeOptions{})
	req := &types.CreateTopUpRequest{
		MemberID:   uuid.New(),
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpCash,
		Reason:     "r",
	}

	first, err := svc.Create(context.Background(), req, actor(), "K1")
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), req, actor(), "K1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, auditLog.entries, 1)
}

func TestApproveTopUpCreditsBalance(t *testing.T) {
	svc, store, auditLog := newService(t, &fakeOptions{})
	memberID := uuid.New()
	creator := actor()
	approver := actor()

	tu, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   memberID,
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpCash,
		Reason:     "r",
	}, creator, "K1")
	require.NoError(t, err)

	done, err := svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, approver, "K2")
	require.NoError(t, err)

	assert.Equal(t, model.TopUpCompleted, done.Status)
	require.NotNil(t, done.ApprovedBy)
	assert.Equal(t, approver.ID, done.ApprovedBy.ID)
	assert.Equal(t, int64(500), store.balances[memberID])

	require.Len(t, auditLog.entries, 2)
	assert.Equal(t, model.ActionApproveTopUp, auditLog.entries[1].Action)
}

func TestApproveTopUpSelfApprovalRejected(t *testing.T) {
	svc, store, _ := newService(t, &fakeOptions{})
	creator := actor()

	tu, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   uuid.New(),
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpCash,
		Reason:     "r",
	}, creator, "K1")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, creator, "K2")
	require.Error(t, err)
	assert.Equal(t, errs.KindSelfApproval, errs.KindOf(err))
	assert.Equal(t, int64(0), store.balances[tu.MemberID])
}

func TestApproveTopUpReplayDoesNotDoubleCredit(t *testing.T) {
	svc, store, _ := newService(t, &fakeOptions{})
	memberID := uuid.New()
	approver := actor()

	tu, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   memberID,
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpCash,
		Reason:     "r",
	}, actor(), "K1")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, approver, "K2")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, approver, "K2")
	require.NoError(t, err)

	assert.Equal(t, int64(500), store.balances[memberID], "replay must not credit twice")
}

func TestApproveCompletedTopUpRejected(t *testing.T) {
	svc, _, _ := newService(t, &fakeOptions{})
	approver := actor()

	tu, err := svc.Create(context.Background(), &types.CreateTopUpRequest{
		MemberID:   uuid.New(),
		MemberType: model.MemberPatient,
		Amount:     500,
		Method:     model.TopUpCash,
		Reason:     "r",
	}, actor(), "K1")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, approver, "K2")
	require.NoError(t, err)

	// A second approver with a fresh key hits the state machine, not the
	// replay path.
	_, err = svc.Approve(context.Background(), &types.ApproveTopUpRequest{TopUpID: tu.ID}, actor(), "K3")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}
