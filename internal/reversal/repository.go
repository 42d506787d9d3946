package reversal

import (
	"context"
	"encoding/json"
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
	ErrDuplicateKey = errors.New("reversal idempotency key already used")
	ErrNoTransition = errors.New("reversal status transition did not apply")
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.ReversalRequest, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.ReversalRequest, error)
	Create(ctx context.Context, req *model.ReversalRequest) error
	MarkInProgress(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.ReversalRequest, error)
	CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayReversalID string, gatewayResponse json.RawMessage, at time.Time) (*model.ReversalRequest, error)
	List(ctx context.Context, query types.ReversalQuery) ([]model.ReversalRequest, error)
}

type ReversalRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *ReversalRepo {
	return &ReversalRepo{db: db}
}

const reversalColumns = `id, request_number, payment_id, original_amount, reversal_type, reason,
	auto_detected, status,
	requested_by_id, requested_by_email, requested_by_role,
	processed_by_id, processed_by_email, processed_at, completed_at,
	COALESCE(gateway_reversal_id, ''), gateway_response, idempotency_key, created_at, updated_at`

func (rr *ReversalRepo) Create(ctx context.Context, req *model.ReversalRequest) error {
	var seq int64
	if err := rr.db.QueryRow(ctx, `SELECT COUNT(*) + 1 FROM reversal_requests`).Scan(&seq); err != nil {
		return err
	}
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("%s-%d-%06d", constants.ReversalPrefix, time.Now().Year(), seq)

	sql := `INSERT INTO reversal_requests
		(id, request_number, payment_id, original_amount, reversal_type, reason, auto_detected,
		 status, requested_by_id, requested_by_email, requested_by_role, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err := rr.db.QueryRow(ctx, sql,
		req.ID, req.RequestNumber, req.PaymentID, req.OriginalAmount, req.ReversalType,
		req.Reason, req.AutoDetected, req.Status,
		req.RequestedBy.ID, req.RequestedBy.Email, req.RequestedBy.Role,
		req.IdempotencyKey,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (rr *ReversalRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReversalRequest, error) {
	row := rr.db.QueryRow(ctx, `SELECT `+reversalColumns+` FROM reversal_requests WHERE id = $1`, id)
	req, err := scanReversal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (rr *ReversalRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.ReversalRequest, error) {
	row := rr.db.QueryRow(ctx, `SELECT `+reversalColumns+` FROM reversal_requests WHERE idempotency_key = $1`, key)
	req, err := scanReversal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (rr *ReversalRepo) MarkInProgress(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.ReversalRequest, error) {
	sql := `UPDATE reversal_requests
		SET status = $1, processed_by_id = $2, processed_by_email = $3, processed_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
		RETURNING ` + reversalColumns

	row := rr.db.QueryRow(ctx, sql,
		model.ReversalInProgress, processor.ID, processor.Email, at, id, model.ReversalPending)
	req, err := scanReversal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	return req, err
}

// CompleteWithPayment commits the reversal completion and the ledger's
// COMPLETED -> CANCELLED transition as one unit.
func (rr *ReversalRepo) CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayReversalID string, gatewayResponse json.RawMessage, at time.Time) (*model.ReversalRequest, error) {
	tx, err := rr.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := `UPDATE reversal_requests
		SET status = $1, completed_at = $2, gateway_reversal_id = $3, gateway_response = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
		RETURNING ` + reversalColumns

	row := tx.QueryRow(ctx, sql,
		model.ReversalCompleted, at, gatewayReversalID, gatewayResponse, id, model.ReversalInProgress)
	req, err := scanReversal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `UPDATE payments
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		model.PaymentCancelled, req.PaymentID, model.PaymentCompleted)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNoTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return req, nil
}

func (rr *ReversalRepo) List(ctx context.Context, query types.ReversalQuery) ([]model.ReversalRequest, error) {
	sql := `SELECT ` + reversalColumns + ` FROM reversal_requests
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::uuid IS NULL OR payment_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`

	rows, err := rr.db.Query(ctx, sql,
		query.Status, query.PaymentID, query.StartDate, query.EndDate,
		query.Page.Limit(), query.Page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.ReversalRequest
	for rows.Next() {
		req, err := scanReversal(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReversal(row rowScanner) (*model.ReversalRequest, error) {
	var req model.ReversalRequest
	var processedID *uuid.UUID
	var processedEmail *string

	err := row.Scan(
		&req.ID, &req.RequestNumber, &req.PaymentID, &req.OriginalAmount, &req.ReversalType,
		&req.Reason, &req.AutoDetected, &req.Status,
		&req.RequestedBy.ID, &req.RequestedBy.Email, &req.RequestedBy.Role,
		&processedID, &processedEmail, &req.ProcessedAt, &req.CompletedAt,
		&req.GatewayReversalID, &req.GatewayResponse, &req.IdempotencyKey,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if processedID != nil {
		email := ""
		if processedEmail != nil {
			email = *processedEmail
		}
		req.ProcessedBy = &model.Actor{ID: *processedID, Email: email}
	}
	return &req, nil
}
