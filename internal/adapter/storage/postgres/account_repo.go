package postgres

import (
	"context"
	"errors"
	"fmt"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Get fetches an account without locking. Returns nil for unseen IDs — a new
// account is not an error, it simply has balance zero.
func (r *AccountRepo) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT account_id, balance, total_purchased, created_at, updated_at
		FROM accounts WHERE account_id = $1`

	a := &domain.Account{}
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&a.AccountID, &a.Balance, &a.TotalPurchased, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// UpsertForUpdate inserts a zero-balance row for an unseen account, then
// locks and returns the row. MUST be called within a transaction; the row
// lock is held until commit and serializes all mutations on this account.
func (r *AccountRepo) UpsertForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (*domain.Account, error) {
	insert := `INSERT INTO accounts (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`
	if _, err := tx.Exec(ctx, insert, accountID); err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}

	query := `SELECT account_id, balance, total_purchased, created_at, updated_at
		FROM accounts WHERE account_id = $1 FOR UPDATE`

	a := &domain.Account{}
	err := tx.QueryRow(ctx, query, accountID).Scan(
		&a.AccountID, &a.Balance, &a.TotalPurchased, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isWriteConflict(err) {
			return nil, apperror.ErrWriteConflict(err)
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return a, nil
}

// UpdateBalance writes the new balance and totalPurchased within a transaction.
func (r *AccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, accountID string, balance, totalPurchased decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1, total_purchased = $2, updated_at = NOW() WHERE account_id = $3`

	tag, err := tx.Exec(ctx, query, balance, totalPurchased, accountID)
	if err != nil {
		if isWriteConflict(err) {
			return apperror.ErrWriteConflict(err)
		}
		return fmt.Errorf("update account balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	return nil
}

// ListIDs pages account IDs in lexical order, for the reconciliation sweep.
func (r *AccountRepo) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `SELECT account_id FROM accounts WHERE account_id > $1 ORDER BY account_id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account ids: %w", err)
	}
	return ids, nil
}
