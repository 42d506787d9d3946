package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/constants"
	"github.com/carebook/paydesk/pkg/types"
)

type Repository interface {
	// Save persists a finished run, discrepancies included, as one row.
	// Failed runs are saved too so operators can see what was attempted.
	Save(ctx context.Context, run *model.ReconciliationRun) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ReconciliationRun, error)
	List(ctx context.Context, page types.Page) ([]model.ReconciliationRun, error)
	// ExpectedStatuses derives the status each payment should carry from the
	// engine's own completed workflows: a completed refund implies REFUNDED,
	// a completed reversal implies CANCELLED.
	ExpectedStatuses(ctx context.Context, paymentIDs []uuid.UUID) (map[uuid.UUID]model.PaymentStatus, error)
}

type ReconciliationRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

const runColumns = `id, run_number, start_date, end_date,
	total_transactions, matched_transactions, mismatched_transactions, incomplete_transactions,
	total_amount, matched_amount, mismatched_amount,
	status, discrepancies, success_rate,
	performed_by_id, performed_by_email, performed_by_role,
	completed_at, created_at, updated_at`

func (rr *ReconciliationRepo) Save(ctx context.Context, run *model.ReconciliationRun) error {
	var seq int64
	if err := rr.db.QueryRow(ctx, `SELECT COUNT(*) + 1 FROM reconciliation_runs`).Scan(&seq); err != nil {
		return err
	}
	run.ID = uuid.New()
	run.RunNumber = fmt.Sprintf("%s-%d-%06d", constants.ReconciliationPrefix, time.Now().Year(), seq)

	discrepancies, err := json.Marshal(run.Discrepancies)
	if err != nil {
		return err
	}

	sql := `INSERT INTO reconciliation_runs
		(id, run_number, start_date, end_date,
		 total_transactions, matched_transactions, mismatched_transactions, incomplete_transactions,
		 total_amount, matched_amount, mismatched_amount,
		 status, discrepancies, success_rate,
		 performed_by_id, performed_by_email, performed_by_role, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at`

	return rr.db.QueryRow(ctx, sql,
		run.ID, run.RunNumber, run.StartDate, run.EndDate,
		run.TotalTransactions, run.MatchedTransactions, run.MismatchedTransactions, run.IncompleteTransactions,
		run.TotalAmount, run.MatchedAmount, run.MismatchedAmount,
		run.Status, discrepancies, run.SuccessRate,
		run.PerformedBy.ID, run.PerformedBy.Email, run.PerformedBy.Role, run.CompletedAt,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (rr *ReconciliationRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReconciliationRun, error) {
	row := rr.db.QueryRow(ctx, `SELECT `+runColumns+` FROM reconciliation_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (rr *ReconciliationRepo) List(ctx context.Context, page types.Page) ([]model.ReconciliationRun, error) {
	sql := `SELECT ` + runColumns + ` FROM reconciliation_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := rr.db.Query(ctx, sql, page.Limit(), page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.ReconciliationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (rr *ReconciliationRepo) ExpectedStatuses(ctx context.Context, paymentIDs []uuid.UUID) (map[uuid.UUID]model.PaymentStatus, error) {
	expected := make(map[uuid.UUID]model.PaymentStatus, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return expected, nil
	}

	sql := `SELECT payment_id, 'REFUNDED' FROM refund_requests
			WHERE payment_id = ANY($1) AND status = 'COMPLETED'
		UNION ALL
		SELECT payment_id, 'CANCELLED' FROM reversal_requests
			WHERE payment_id = ANY($1) AND status = 'COMPLETED'`

	rows, err := rr.db.Query(ctx, sql, paymentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var status model.PaymentStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		expected[id] = status
	}
	return expected, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.ReconciliationRun, error) {
	var run model.ReconciliationRun
	var discrepancies []byte

	err := row.Scan(
		&run.ID, &run.RunNumber, &run.StartDate, &run.EndDate,
		&run.TotalTransactions, &run.MatchedTransactions, &run.MismatchedTransactions, &run.IncompleteTransactions,
		&run.TotalAmount, &run.MatchedAmount, &run.MismatchedAmount,
		&run.Status, &discrepancies, &run.SuccessRate,
		&run.PerformedBy.ID, &run.PerformedBy.Email, &run.PerformedBy.Role,
		&run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(discrepancies) > 0 {
		if err := json.Unmarshal(discrepancies, &run.Discrepancies); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
