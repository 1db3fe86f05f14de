package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subtitle-credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// HoldRepo implements ports.HoldRepository.
type HoldRepo struct {
	pool Pool
}

// NewHoldRepo creates a new HoldRepo.
func NewHoldRepo(pool Pool) *HoldRepo {
	return &HoldRepo{pool: pool}
}

const holdColumns = `id, account_id, amount, related_job_id, status, created_at, expires_at`

func (r *HoldRepo) Create(ctx context.Context, tx pgx.Tx, h *domain.Hold) error {
	query := `INSERT INTO holds (` + holdColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		h.ID, h.AccountID, h.Amount, h.RelatedJobID, h.Status, h.CreatedAt, h.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1 FOR UPDATE`

	h := &domain.Hold{}
	err := tx.QueryRow(ctx, query, id).Scan(
		&h.ID, &h.AccountID, &h.Amount, &h.RelatedJobID, &h.Status, &h.CreatedAt, &h.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get hold for update: %w", err)
	}
	return h, nil
}

// ActiveTotal sums active holds for an account. Runs inside the caller's
// transaction so it sees holds created earlier in the same transaction.
func (r *HoldRepo) ActiveTotal(ctx context.Context, tx pgx.Tx, accountID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM holds WHERE account_id = $1 AND status = 'active'`,
		accountID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum active holds: %w", err)
	}
	return total, nil
}

func (r *HoldRepo) SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.HoldStatus) error {
	tag, err := tx.Exec(ctx, `UPDATE holds SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set hold status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set hold status: hold %s not found", id)
	}
	return nil
}

// ListExpired returns active holds past their expiry, oldest first, for the
// background sweep.
func (r *HoldRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h := domain.Hold{}
		if err := rows.Scan(&h.ID, &h.AccountID, &h.Amount, &h.RelatedJobID, &h.Status, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holds: %w", err)
	}
	return holds, nil
}
