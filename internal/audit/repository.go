package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/paydesk/internal/model"
	"github.com/carebook/paydesk/pkg/types"
)

// ErrDuplicateEntry means an entry with the same idempotency key already
// exists: a raced duplicate of a recorded decision, not a write failure.
var ErrDuplicateEntry = errors.New("audit entry idempotency key already used")

type Repository interface {
	Insert(ctx context.Context, entry *model.AuditLogEntry) error
	FindByIdempotencyKey(ctx context.Context, key string) (*model.AuditLogEntry, error)
	List(ctx context.Context, query types.AuditLogQuery) ([]model.AuditLogEntry, error)
}

type AuditRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{db: db}
}

func (ar *AuditRepo) Insert(ctx context.Context, entry *model.AuditLogEntry) error {
	sql := `INSERT INTO audit_log
		(action, payment_id, refund_request_id, reversal_request_id, top_up_request_id,
		 actor_id, actor_email, actor_role, previous_state, new_state, amount, reason, metadata, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''))
		RETURNING id, created_at`

	err := ar.db.QueryRow(ctx, sql,
		entry.Action,
		entry.PaymentID,
		entry.RefundRequestID,
		entry.ReversalRequestID,
		entry.TopUpRequestID,
		entry.Actor.ID,
		entry.Actor.Email,
		entry.Actor.Role,
		entry.PreviousState,
		entry.NewState,
		entry.Amount,
		entry.Reason,
		entry.Metadata,
		entry.IdempotencyKey,
	).Scan(&entry.ID, &entry.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEntry
	}
	return err
}

func (ar *AuditRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.AuditLogEntry, error) {
	sql := `SELECT id, action, payment_id, refund_request_id, reversal_request_id, top_up_request_id,
		actor_id, actor_email, actor_role, previous_state, new_state, amount, reason, metadata,
		COALESCE(idempotency_key, ''), created_at
		FROM audit_log WHERE idempotency_key = $1`

	entry, err := scanEntry(ar.db.QueryRow(ctx, sql, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (ar *AuditRepo) List(ctx context.Context, query types.AuditLogQuery) ([]model.AuditLogEntry, error) {
	sql := `SELECT id, action, payment_id, refund_request_id, reversal_request_id, top_up_request_id,
		actor_id, actor_email, actor_role, previous_state, new_state, amount, reason, metadata,
		COALESCE(idempotency_key, ''), created_at
		FROM audit_log
		WHERE ($1::text IS NULL OR action = $1)
		  AND ($2::uuid IS NULL OR actor_id = $2)
		  AND ($3::uuid IS NULL OR payment_id = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`

	rows, err := ar.db.Query(ctx, sql,
		query.Action, query.ActorID, query.PaymentID, query.StartDate, query.EndDate,
		query.Page.Limit(), query.Page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.AuditLogEntry, error) {
	var entry model.AuditLogEntry
	err := row.Scan(
		&entry.ID,
		&entry.Action,
		&entry.PaymentID,
		&entry.RefundRequestID,
		&entry.ReversalRequestID,
		&entry.TopUpRequestID,
		&entry.Actor.ID,
		&entry.Actor.Email,
		&entry.Actor.Role,
		&entry.PreviousState,
		&entry.NewState,
		&entry.Amount,
		&entry.Reason,
		&entry.Metadata,
		&entry.IdempotencyKey,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
