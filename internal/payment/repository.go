// Package payment is the engine's view of the externally owned transaction
// ledger: reads, window scans for reconciliation, and the cross-workflow
// mutual exclusion check. Status writes happen inside the owning workflow's
// transaction.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/model"
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	// HasOpenAdminRequests reports whether any non-terminal refund or
	// reversal exists for the payment. Only one of the two may be open at a
	// time, so initiate checks both kinds.
	HasOpenAdminRequests(ctx context.Context, paymentID uuid.UUID) (bool, error)
	// FindWindow returns payments created within [start, end], capped.
	FindWindow(ctx context.Context, start, end time.Time, cap int) ([]model.Payment, error)
}

type PaymentRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const paymentColumns = `id, COALESCE(transaction_id, ''), COALESCE(appointment_id, ''), member_id,
	COALESCE(member_type, ''), amount, currency, method, status, COALESCE(refund_amount, 0),
	refunded_at, created_at, updated_at`

func (pr *PaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var p model.Payment
	err := pr.db.QueryRow(ctx, sql, id).Scan(
		&p.ID, &p.TransactionID, &p.AppointmentID, &p.MemberID, &p.MemberType,
		&p.Amount, &p.Currency, &p.Method, &p.Status, &p.RefundAmount,
		&p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("payment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (pr *PaymentRepo) HasOpenAdminRequests(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	sql := `SELECT
		EXISTS(SELECT 1 FROM refund_requests
			WHERE payment_id = $1 AND status NOT IN ('COMPLETED', 'REJECTED', 'FAILED', 'CANCELLED'))
		OR
		EXISTS(SELECT 1 FROM reversal_requests
			WHERE payment_id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED'))`

	var open bool
	if err := pr.db.QueryRow(ctx, sql, paymentID).Scan(&open); err != nil {
		return false, err
	}
	return open, nil
}

func (pr *PaymentRepo) FindWindow(ctx context.Context, start, end time.Time, cap int) ([]model.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := pr.db.Query(ctx, sql, start, end, cap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(
			&p.ID, &p.TransactionID, &p.AppointmentID, &p.MemberID, &p.MemberType,
			&p.Amount, &p.Currency, &p.Method, &p.Status, &p.RefundAmount,
			&p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
