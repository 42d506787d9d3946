package refund

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
	// ErrDuplicateKey means another request already created a row with the
	// same idempotency key; the caller should return that row instead.
	ErrDuplicateKey = errors.New("refund idempotency key already used")
	// ErrNoTransition means the conditional status update matched no row:
	// either the id is unknown or the status moved concurrently.
	ErrNoTransition = errors.New("refund status transition did not apply")
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.RefundRequest, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.RefundRequest, error)
	Create(ctx context.Context, rr *model.RefundRequest) error
	Approve(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.RefundRequest, error)
	Reject(ctx context.Context, id uuid.UUID, rejecter model.Actor, reason string, at time.Time) (*model.RefundRequest, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.RefundRequest, error)
	CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayRefundID string, gatewayResponse json.RawMessage, at time.Time) (*model.RefundRequest, error)
	List(ctx context.Context, query types.RefundQuery) ([]model.RefundRequest, error)
}

type RefundRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RefundRepo {
	return &RefundRepo{db: db}
}

const refundColumns = `id, request_number, payment_id, original_amount, refund_amount, refund_type,
	refund_method, reason, status,
	requested_by_id, requested_by_email, requested_by_role,
	approved_by_id, approved_by_email, approved_at,
	rejected_by_id, rejected_by_email, rejected_at, COALESCE(rejection_reason, ''),
	processed_by_id, processed_by_email, processed_at, completed_at,
	COALESCE(gateway_refund_id, ''), gateway_response, idempotency_key, created_at, updated_at`

func (rr *RefundRepo) Create(ctx context.Context, req *model.RefundRequest) error {
	var seq int64
	if err := rr.db.QueryRow(ctx, `SELECT COUNT(*) + 1 FROM refund_requests`).Scan(&seq); err != nil {
		return err
	}
	req.ID = uuid.New()
	req.RequestNumber = fmt.Sprintf("%s-%d-%06d", constants.RefundPrefix, time.Now().Year(), seq)

	sql := `INSERT INTO refund_requests
		(id, request_number, payment_id, original_amount, refund_amount, refund_type, refund_method,
		 reason, status, requested_by_id, requested_by_email, requested_by_role, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := rr.db.QueryRow(ctx, sql,
		req.ID, req.RequestNumber, req.PaymentID, req.OriginalAmount, req.RefundAmount,
		req.RefundType, req.RefundMethod, req.Reason, req.Status,
		req.RequestedBy.ID, req.RequestedBy.Email, req.RequestedBy.Role,
		req.IdempotencyKey,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (rr *RefundRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.RefundRequest, error) {
	row := rr.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id)
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (rr *RefundRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.RefundRequest, error) {
	row := rr.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE idempotency_key = $1`, key)
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// Approve is a compare-and-swap on status: only one of two concurrent
// approvals can match the WHERE clause.
func (rr *RefundRepo) Approve(ctx context.Context, id uuid.UUID, approver model.Actor, at time.Time) (*model.RefundRequest, error) {
	sql := `UPDATE refund_requests
		SET status = $1, approved_by_id = $2, approved_by_email = $3, approved_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = ANY($6)
		RETURNING ` + refundColumns

	row := rr.db.QueryRow(ctx, sql,
		model.RefundApproved, approver.ID, approver.Email, at, id,
		[]model.RefundStatus{model.RefundRequested, model.RefundPendingApproval})
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	return req, err
}

func (rr *RefundRepo) Reject(ctx context.Context, id uuid.UUID, rejecter model.Actor, reason string, at time.Time) (*model.RefundRequest, error) {
	sql := `UPDATE refund_requests
		SET status = $1, rejected_by_id = $2, rejected_by_email = $3, rejected_at = $4,
		    rejection_reason = $5, updated_at = NOW()
		WHERE id = $6 AND status = ANY($7)
		RETURNING ` + refundColumns

	row := rr.db.QueryRow(ctx, sql,
		model.RefundRejected, rejecter.ID, rejecter.Email, at, reason, id,
		[]model.RefundStatus{model.RefundRequested, model.RefundPendingApproval, model.RefundApproved})
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	return req, err
}

func (rr *RefundRepo) MarkProcessing(ctx context.Context, id uuid.UUID, processor model.Actor, at time.Time) (*model.RefundRequest, error) {
	sql := `UPDATE refund_requests
		SET status = $1, processed_by_id = $2, processed_by_email = $3, processed_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
		RETURNING ` + refundColumns

	row := rr.db.QueryRow(ctx, sql,
		model.RefundProcessing, processor.ID, processor.Email, at, id, model.RefundApproved)
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	return req, err
}

// CompleteWithPayment commits the refund completion and the ledger's
// COMPLETED -> REFUNDED transition as one unit. Neither write is visible
// without the other.
func (rr *RefundRepo) CompleteWithPayment(ctx context.Context, id uuid.UUID, gatewayRefundID string, gatewayResponse json.RawMessage, at time.Time) (*model.RefundRequest, error) {
	tx, err := rr.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := `UPDATE refund_requests
		SET status = $1, completed_at = $2, gateway_refund_id = $3, gateway_response = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
		RETURNING ` + refundColumns

	row := tx.QueryRow(ctx, sql,
		model.RefundCompleted, at, gatewayRefundID, gatewayResponse, id, model.RefundProcessing)
	req, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTransition
	}
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `UPDATE payments
		SET status = $1, refunded_at = $2, refund_amount = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		model.PaymentRefunded, at, req.RefundAmount, req.PaymentID, model.PaymentCompleted)
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

func (rr *RefundRepo) List(ctx context.Context, query types.RefundQuery) ([]model.RefundRequest, error) {
	sql := `SELECT ` + refundColumns + ` FROM refund_requests
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

	var reqs []model.RefundRequest
	for rows.Next() {
		req, err := scanRefund(rows)
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

func scanRefund(row rowScanner) (*model.RefundRequest, error) {
	var req model.RefundRequest
	var approvedID, rejectedID, processedID *uuid.UUID
	var approvedEmail, rejectedEmail, processedEmail *string

	err := row.Scan(
		&req.ID, &req.RequestNumber, &req.PaymentID, &req.OriginalAmount, &req.RefundAmount,
		&req.RefundType, &req.RefundMethod, &req.Reason, &req.Status,
		&req.RequestedBy.ID, &req.RequestedBy.Email, &req.RequestedBy.Role,
		&approvedID, &approvedEmail, &req.ApprovedAt,
		&rejectedID, &rejectedEmail, &req.RejectedAt, &req.RejectionReason,
		&processedID, &processedEmail, &req.ProcessedAt, &req.CompletedAt,
		&req.GatewayRefundID, &req.GatewayResponse, &req.IdempotencyKey,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if approvedID != nil {
		req.ApprovedBy = &model.Actor{ID: *approvedID, Email: deref(approvedEmail)}
	}
	if rejectedID != nil {
		req.RejectedBy = &model.Actor{ID: *rejectedID, Email: deref(rejectedEmail)}
	}
	if processedID != nil {
		req.ProcessedBy = &model.Actor{ID: *processedID, Email: deref(processedEmail)}
	}
	return &req, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
