package ports

import (
	"context"
	"time"

	"subtitle-credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// AccountRepository defines persistence operations for accounts.
// Methods accepting pgx.Tx run inside transaction blocks with pessimistic
// locking; the account row lock is what serializes concurrent mutations on
// one account across processes.
type AccountRepository interface {
	// Get returns the account, or nil if the ID has never been seen.
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	// UpsertForUpdate materialises a zero-balance row if the account is new,
	// then locks and returns it. MUST be called within a transaction.
	UpsertForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (*domain.Account, error)
	// UpdateBalance writes the new balance and totalPurchased within a transaction.
	UpdateBalance(ctx context.Context, tx pgx.Tx, accountID string, balance, totalPurchased decimal.Decimal) error
	// ListIDs pages account IDs in lexical order for the reconciliation sweep.
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// LedgerRepository defines persistence for the append-only transaction log.
type LedgerRepository interface {
	// Append inserts a transaction within a database transaction. Returns
	// apperror.ErrDuplicateEvent when (source, external_event_id) already exists.
	Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	// GetByEvent fetches the transaction recorded for an external event, nil if none.
	GetByEvent(ctx context.Context, source domain.TransactionSource, externalEventID string) (*domain.Transaction, error)
	// List returns transactions newest-first with cursor pagination.
	List(ctx context.Context, params LedgerListParams) ([]domain.Transaction, string, error)
	// Sum recomputes the balance from the log. O(n) — reconciliation path only,
	// never the hot debit/credit path.
	Sum(ctx context.Context, accountID string) (decimal.Decimal, error)
	// Count returns the number of ledger entries for an account.
	Count(ctx context.Context, accountID string) (int64, error)
}

// LedgerListParams holds filter + pagination for listing transactions.
// Cursor is the opaque value returned by the previous page, empty for the first.
type LedgerListParams struct {
	AccountID string
	Limit     int
	Cursor    string
}

// VoucherRepository defines persistence operations for vouchers and their
// per-account redemption set.
type VoucherRepository interface {
	Create(ctx context.Context, v *domain.Voucher) error
	// GetByCodeForUpdate locks the voucher row for the duration of a
	// redemption. MUST be called within a transaction. Nil if absent.
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Voucher, error)
	// HasRedemption reports whether the account already redeemed the code.
	HasRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) (bool, error)
	// RecordRedemption appends the account to the redemption set and
	// increments used_count, within the same transaction as the credit.
	RecordRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) error
}

// HoldRepository defines persistence for credit holds.
type HoldRepository interface {
	Create(ctx context.Context, tx pgx.Tx, h *domain.Hold) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Hold, error)
	// ActiveTotal sums active holds for an account (within the caller's transaction).
	ActiveTotal(ctx context.Context, tx pgx.Tx, accountID string) (decimal.Decimal, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.HoldStatus) error
	// ListExpired returns active holds whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
}

// RegistrationRepository defines persistence for registration tracking records.
type RegistrationRepository interface {
	// Create inserts the record; inserting the same account twice is a no-op.
	Create(ctx context.Context, r *domain.RegistrationRecord) error
	Get(ctx context.Context, accountID string) (*domain.RegistrationRecord, error)
	// ListByMinScore returns records with suspicious_score >= minScore,
	// highest score first.
	ListByMinScore(ctx context.Context, minScore int) ([]domain.RegistrationRecord, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
