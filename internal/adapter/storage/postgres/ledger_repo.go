package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// LedgerRepo implements ports.LedgerRepository over the append-only
// transactions table. The partial unique index on (source, external_event_id)
// is the idempotency mechanism for every payment rail.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const transactionColumns = `id, account_id, type, amount, balance_before, balance_after,
		source, external_event_id, description, related_job_id, flagged, created_at`

// Append inserts a transaction within a database transaction. A second
// insert for the same (source, external_event_id) fails with
// apperror.ErrDuplicateEvent; the first writer wins.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.AccountID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Source, t.ExternalEventID, t.Description, t.RelatedJobID, t.Flagged, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.ErrDuplicateEvent()
		}
		if isWriteConflict(err) {
			return apperror.ErrWriteConflict(err)
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// GetByEvent fetches the transaction recorded for an external event, nil if none.
func (r *LedgerRepo) GetByEvent(ctx context.Context, source domain.TransactionSource, externalEventID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE source = $1 AND external_event_id = $2`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, source, externalEventID))
	if err != nil {
		return nil, fmt.Errorf("get transaction by event: %w", err)
	}
	return t, nil
}

// List returns transactions newest-first with cursor pagination. The cursor
// is "<created_at RFC3339Nano>|<id>" of the last row of the previous page.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.Transaction, string, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if params.Cursor == "" {
		query := `SELECT ` + transactionColumns + ` FROM transactions
			WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		rows, err = r.pool.Query(ctx, query, params.AccountID, limit)
	} else {
		cursorAt, cursorID, cerr := decodeCursor(params.Cursor)
		if cerr != nil {
			return nil, "", apperror.Validation("malformed pagination cursor")
		}
		query := `SELECT ` + transactionColumns + ` FROM transactions
			WHERE account_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4`
		rows, err = r.pool.Query(ctx, query, params.AccountID, cursorAt, cursorID, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, serr := scanTransactionRow(rows)
		if serr != nil {
			return nil, "", fmt.Errorf("scan transaction: %w", serr)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate transactions: %w", err)
	}

	var nextCursor string
	if len(txns) == limit {
		last := txns[len(txns)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return txns, nextCursor, nil
}

// Sum recomputes the balance by summing signed amounts over the whole log.
// Reconciliation/reporting path only.
func (r *LedgerRepo) Sum(ctx context.Context, accountID string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(CASE WHEN type = 'debit' THEN -amount ELSE amount END), 0)
		FROM transactions WHERE account_id = $1`

	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	return sum, nil
}

// Count returns the number of ledger entries for an account.
func (r *LedgerRepo) Count(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

func encodeCursor(at time.Time, id uuid.UUID) string {
	return at.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, fmt.Errorf("bad cursor format")
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("bad cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("bad cursor id: %w", err)
	}
	return at, id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Source, &t.ExternalEventID, &t.Description, &t.RelatedJobID, &t.Flagged, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
