package topup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/constants"
	"github.com/carebook/paydesk/pkg/types"
)

var (
	ErrDuplicateKey = errors.New("top-up idempotency key already used")
	ErrNoTransition = errors.New("top-up status transition did not apply")
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.TopUpRequest, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.TopUpRequest, error)
	Create(ctx context.Context, req *model.TopUpRequest) error
	// ApproveAndCredit moves the request to COMPLETED and applies the
	// balance change to the member-balance store in one unit of work.
	ApproveAndCredit(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.TopUpRequest, error)
	List(ctx context.Context, query types.TopUpQuery) ([]model.TopUpRequest, error)
}

// BalanceSource reads the member's current balance when a top-up is created.
// The balance store itself is owned externally.
type BalanceSource interface {
	Balance(ctx context.Context, memberID uuid.UUID) (int64, error)
}

type TopUpRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *TopUpRepo {
	return &TopUpRepo{db: db}
}

const topUpColumns = `id, request_number, member_id, member_type, amount, previous_balance, new_balance,
	method, reason, status,
	processed_by_id, processed_by_email, processed_by_role,
	approved_by_id, approved_by_email, approved_at, completed_at,
	idempotency_key, created_at, updated_at`

func (tr *TopUpRepo) Create(ctx context.Context, req *model.TopUpRequest) error {
	var seq int64
	if err := tr.db.QueryRow(ctx, `SELECT COUNT(*) + 1 FROM topup_requests`).Scan(&seq); err != nil {
		return err
	}
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("%s-%d-%06d", constants.TopUpPrefix, time.Now().Year(), seq)

	sql := `INSERT INTO topup_requests
		(id, request_number, member_id, member_type, amount, previous_balance, new_balance,
		 method, reason, status, processed_by_id, processed_by_email, processed_by_role, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := tr.db.QueryRow(ctx, sql,
		req.ID, req.RequestNumber, req.MemberID, req.MemberType, req.Amount,
		req.PreviousBalance, req.NewBalance, req.Method, req.Reason, req.Status,
		req.ProcessedBy.ID, req.ProcessedBy.Email, req.ProcessedBy.Role,
		req.IdempotencyKey,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (tr *TopUpRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.TopUpRequest, error) {
	row := tr.db.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topup_requests WHERE id = $1`, id)
	req, err := scanTopUp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (tr *TopUpRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.TopUpRequest, error) {
	row := tr.db.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topup_requests WHERE idempotency_key = $1`, key)
	req, err := scanTopUp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (tr *TopUpRepo) ApproveAndCredit(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.TopUpRequest, error) {
	tx, err := tr.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := `UPDATE topup_requests
		SET status = $1, approved_by_id = $2, approved_by_email = $3, approved_at = $4,
		    completed_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = ANY($6)
		RETURNING ` + topUpColumns

	row := tx.QueryRow(ctx, sql,
		model.TopUpCompleted, approver.ID, approver.Email, at, id,
		[]model.TopUpStatus{model.TopUpPending, model.TopUpPendingApproval})
	req, err := scanTopUp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO member_balances (member_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (member_id) DO UPDATE SET balance = member_balances.balance + $2, updated_at = NOW()`,
		req.MemberID, req.Amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return req, nil
}

func (tr *TopUpRepo) List(ctx context.Context, query types.TopUpQuery) ([]model.TopUpRequest, error) {
	sql := `SELECT ` + topUpColumns + ` FROM topup_requests
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::uuid IS NULL OR member_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`

	rows, err := tr.db.Query(ctx, sql,
		query.Status, query.MemberID, query.StartDate, query.EndDate,
		query.Page.Limit(), query.Page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.TopUpRequest
	for rows.Next() {
		req, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// Balances reads member balances from the shared store. It satisfies
// BalanceSource for deployments where the balance store is co-located.
type Balances struct {
	db *pgxpool.Pool
}

func NewBalances(db *pgxpool.Pool) *Balances {
	return &Balances{db: db}
}

func (b *Balances) Balance(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var balance int64
	err := b.db.QueryRow(ctx, `SELECT balance FROM member_balances WHERE member_id = $1`, memberID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopUp(row rowScanner) (*model.TopUpRequest, error) {
	var req model.TopUpRequest
	var approvedID *uuid.UUID
	var approvedEmail *string

	err := row.Scan(
		&req.ID, &req.RequestNumber, &req.MemberID, &req.MemberType, &req.Amount,
		&req.PreviousBalance, &req.NewBalance, &req.Method, &req.Reason, &req.Status,
		&req.ProcessedBy.ID, &req.ProcessedBy.Email, &req.ProcessedBy.Role,
		&approvedID, &approvedEmail, &req.ApprovedAt, &req.CompletedAt,
		&req.IdempotencyKey, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if approvedID != nil {
		email := ""
		if approvedEmail != nil {
			email = *approvedEmail
		}
		req.ApprovedBy = &model.Actor{ID: *approvedID, Email: email}
	}
	return &req, nil
}
