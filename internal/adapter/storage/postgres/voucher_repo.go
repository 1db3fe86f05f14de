package postgres

import (
	"context"
	"errors"
	"fmt"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// VoucherRepo implements ports.VoucherRepository. Redemptions live in a
// separate table keyed (code, account_id) so the once-per-account rule is a
// primary key, not application logic.
type VoucherRepo struct {
	pool Pool
}

// NewVoucherRepo creates a new VoucherRepo.
func NewVoucherRepo(pool Pool) *VoucherRepo {
	return &VoucherRepo{pool: pool}
}

func (r *VoucherRepo) Create(ctx context.Context, v *domain.Voucher) error {
	query := `INSERT INTO vouchers (code, credit_amount, usage_limit, used_count, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		v.Code, v.CreditAmount, v.UsageLimit, v.UsedCount, v.IsActive, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.Validation("voucher code already exists")
		}
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

// GetByCodeForUpdate locks the voucher row for the duration of a redemption.
func (r *VoucherRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Voucher, error) {
	query := `SELECT code, credit_amount, usage_limit, used_count, is_active, expires_at, created_at
		FROM vouchers WHERE code = $1 FOR UPDATE`

	v := &domain.Voucher{}
	err := tx.QueryRow(ctx, query, code).Scan(
		&v.Code, &v.CreditAmount, &v.UsageLimit, &v.UsedCount, &v.IsActive, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get voucher for update: %w", err)
	}
	return v, nil
}

func (r *VoucherRepo) HasRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM voucher_redemptions WHERE code = $1 AND account_id = $2)`,
		code, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check voucher redemption: %w", err)
	}
	return exists, nil
}

// RecordRedemption appends the account to the redemption set and bumps
// used_count. The (code, account_id) primary key backstops HasRedemption
// under concurrent redemptions of the same code.
func (r *VoucherRepo) RecordRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO voucher_redemptions (code, account_id, redeemed_at) VALUES ($1, $2, NOW())`,
		code, accountID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.ErrVoucherAlreadyRedeemed()
		}
		return fmt.Errorf("record voucher redemption: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE vouchers SET used_count = used_count + 1 WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("increment voucher used_count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment voucher used_count: voucher %s vanished", code)
	}
	return nil
}
