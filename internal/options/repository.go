package options

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/paydesk/internal/model"
)

type Repository interface {
	Find(ctx context.Context, memberID uuid.UUID, method model.PaymentMethod) (*model.PaymentOption, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]model.PaymentOption, error)
	// Upsert writes the full configuration row for (member, method),
	// replacing any previous configuration.
	Upsert(ctx context.Context, opt *model.PaymentOption) error
}

type OptionsRepo struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *OptionsRepo {
	return &OptionsRepo{db: db}
}

const optionColumns = `id, member_id, member_type, method, enabled, is_default,
	max_transaction_limit, daily_limit, monthly_limit,
	configured_by_id, configured_by_email, configured_by_role, created_at, updated_at`

func (or *OptionsRepo) Find(ctx context.Context, memberID uuid.UUID, method model.PaymentMethod) (*model.PaymentOption, error) {
	row := or.db.QueryRow(ctx,
		`SELECT `+optionColumns+` FROM payment_options WHERE member_id = $1 AND method = $2`,
		memberID, method)
	opt, err := scanOption(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return opt, err
}

func (or *OptionsRepo) ListByMember(ctx context.Context, memberID uuid.UUID) ([]model.PaymentOption, error) {
	rows, err := or.db.Query(ctx,
		`SELECT `+optionColumns+` FROM payment_options WHERE member_id = $1 ORDER BY method`,
		memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []model.PaymentOption
	for rows.Next() {
		opt, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		opts = append(opts, *opt)
	}
	return opts, rows.Err()
}

func (or *OptionsRepo) Upsert(ctx context.Context, opt *model.PaymentOption) error {
	if opt.ID == uuid.Nil {
		opt.ID = uuid.New()
	}

	sql := `INSERT INTO payment_options
		(id, member_id, member_type, method, enabled, is_default,
		 max_transaction_limit, daily_limit, monthly_limit,
		 configured_by_id, configured_by_email, configured_by_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (member_id, method) DO UPDATE SET
			member_type = EXCLUDED.member_type,
			enabled = EXCLUDED.enabled,
			is_default = EXCLUDED.is_default,
			max_transaction_limit = EXCLUDED.max_transaction_limit,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			configured_by_id = EXCLUDED.configured_by_id,
			configured_by_email = EXCLUDED.configured_by_email,
			configured_by_role = EXCLUDED.configured_by_role,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return or.db.QueryRow(ctx, sql,
		opt.ID, opt.MemberID, opt.MemberType, opt.Method, opt.Enabled, opt.Default,
		opt.MaxTransactionLimit, opt.DailyLimit, opt.MonthlyLimit,
		opt.ConfiguredBy.ID, opt.ConfiguredBy.Email, opt.ConfiguredBy.Role,
	).Scan(&opt.ID, &opt.CreatedAt, &opt.UpdatedAt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOption(row rowScanner) (*model.PaymentOption, error) {
	var opt model.PaymentOption
	err := row.Scan(
		&opt.ID, &opt.MemberID, &opt.MemberType, &opt.Method, &opt.Enabled, &opt.Default,
		&opt.MaxTransactionLimit, &opt.DailyLimit, &opt.MonthlyLimit,
		&opt.ConfiguredBy.ID, &opt.ConfiguredBy.Email, &opt.ConfiguredBy.Role,
		&opt.CreatedAt, &opt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &opt, nil
}
