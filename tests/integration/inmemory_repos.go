package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// The in-memory repos emulate the PostgreSQL layer for end-to-end tests. The
// transactor serializes "transactions" behind one mutex, which stands in for
// the account row lock: within a transaction no other writer runs.

// --- In-Memory Account Repo ---

type inMemoryAccountRepo struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

func newInMemoryAccountRepo() *inMemoryAccountRepo {
	return &inMemoryAccountRepo{accounts: make(map[string]*domain.Account)}
}

func (r *inMemoryAccountRepo) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (r *inMemoryAccountRepo) UpsertForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		now := time.Now().UTC()
		a = &domain.Account{
			AccountID:      accountID,
			Balance:        decimal.Zero,
			TotalPurchased: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		r.accounts[accountID] = a
	}
	copied := *a
	return &copied, nil
}

func (r *inMemoryAccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, accountID string, balance, totalPurchased decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account not found")
	}
	a.Balance = balance
	a.TotalPurchased = totalPurchased
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryAccountRepo) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id := range r.accounts {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- In-Memory Ledger Repo ---

type inMemoryLedgerRepo struct {
	mu      sync.RWMutex
	entries []domain.Transaction
	byEvent map[string]int // source:eventID -> index into entries
}

func newInMemoryLedgerRepo() *inMemoryLedgerRepo {
	return &inMemoryLedgerRepo{byEvent: make(map[string]int)}
}

func eventKey(source domain.TransactionSource, eventID string) string {
	return string(source) + ":" + eventID
}

func (r *inMemoryLedgerRepo) Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ExternalEventID != nil {
		key := eventKey(t.Source, *t.ExternalEventID)
		if _, exists := r.byEvent[key]; exists {
			return apperror.ErrDuplicateEvent()
		}
		r.byEvent[key] = len(r.entries)
	}
	r.entries = append(r.entries, *t)
	return nil
}

func (r *inMemoryLedgerRepo) GetByEvent(ctx context.Context, source domain.TransactionSource, externalEventID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byEvent[eventKey(source, externalEventID)]
	if !ok {
		return nil, nil
	}
	copied := r.entries[idx]
	return &copied, nil
}

func (r *inMemoryLedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.Transaction, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	r.mu.RLock()
	var all []domain.Transaction
	for _, t := range r.entries {
		if t.AccountID == params.AccountID {
			all = append(all, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})

	if params.Cursor != "" {
		parts := strings.SplitN(params.Cursor, "|", 2)
		if len(parts) != 2 {
			return nil, "", apperror.Validation("malformed cursor")
		}
		cursorAt, err := time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			return nil, "", apperror.Validation("malformed cursor")
		}
		cursorID := parts[1]
		filtered := all[:0]
		for _, t := range all {
			if t.CreatedAt.Before(cursorAt) ||
				(t.CreatedAt.Equal(cursorAt) && t.ID.String() < cursorID) {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}

	next := ""
	if len(all) > limit {
		all = all[:limit]
		last := all[len(all)-1]
		next = last.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID.String()
	}
	return all, next, nil
}

func (r *inMemoryLedgerRepo) Sum(ctx context.Context, accountID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := decimal.Zero
	for i := range r.entries {
		if r.entries[i].AccountID == accountID {
			sum = sum.Add(r.entries[i].SignedAmount())
		}
	}
	return sum, nil
}

func (r *inMemoryLedgerRepo) Count(ctx context.Context, accountID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for i := range r.entries {
		if r.entries[i].AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// --- In-Memory Voucher Repo ---

type inMemoryVoucherRepo struct {
	mu          sync.RWMutex
	vouchers    map[string]*domain.Voucher
	redemptions map[string]bool // code:accountID
}

func newInMemoryVoucherRepo() *inMemoryVoucherRepo {
	return &inMemoryVoucherRepo{
		vouchers:    make(map[string]*domain.Voucher),
		redemptions: make(map[string]bool),
	}
}

func (r *inMemoryVoucherRepo) Create(ctx context.Context, v *domain.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.vouchers[v.Code]; exists {
		return apperror.Validation("voucher code already exists")
	}
	copied := *v
	r.vouchers[v.Code] = &copied
	return nil
}

func (r *inMemoryVoucherRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vouchers[code]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (r *inMemoryVoucherRepo) HasRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.redemptions[code+":"+accountID], nil
}

func (r *inMemoryVoucherRepo) RecordRedemption(ctx context.Context, tx pgx.Tx, code, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := code + ":" + accountID
	if r.redemptions[key] {
		return apperror.ErrVoucherAlreadyRedeemed()
	}
	v, ok := r.vouchers[code]
	if !ok {
		return fmt.Errorf("voucher not found")
	}
	r.redemptions[key] = true
	v.UsedCount++
	return nil
}

// --- In-Memory Hold Repo ---

type inMemoryHoldRepo struct {
	mu    sync.RWMutex
	holds map[uuid.UUID]*domain.Hold
}

func newInMemoryHoldRepo() *inMemoryHoldRepo {
	return &inMemoryHoldRepo{holds: make(map[uuid.UUID]*domain.Hold)}
}

func (r *inMemoryHoldRepo) Create(ctx context.Context, tx pgx.Tx, h *domain.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *h
	r.holds[h.ID] = &copied
	return nil
}

func (r *inMemoryHoldRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.holds[id]
	if !ok {
		return nil, nil
	}
	copied := *h
	return &copied, nil
}

func (r *inMemoryHoldRepo) ActiveTotal(ctx context.Context, tx pgx.Tx, accountID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	for _, h := range r.holds {
		if h.AccountID == accountID && h.Status == domain.HoldStatusActive {
			total = total.Add(h.Amount)
		}
	}
	return total, nil
}

func (r *inMemoryHoldRepo) SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.HoldStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return fmt.Errorf("hold not found")
	}
	h.Status = status
	return nil
}

func (r *inMemoryHoldRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var expired []domain.Hold
	for _, h := range r.holds {
		if h.Status == domain.HoldStatusActive && h.ExpiresAt.Before(now) {
			expired = append(expired, *h)
			if len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

// --- In-Memory Registration Repo ---

type inMemoryRegistrationRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.RegistrationRecord
}

func newInMemoryRegistrationRepo() *inMemoryRegistrationRepo {
	return &inMemoryRegistrationRepo{records: make(map[string]*domain.RegistrationRecord)}
}

func (r *inMemoryRegistrationRepo) Create(ctx context.Context, rec *domain.RegistrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.AccountID]; exists {
		return nil
	}
	copied := *rec
	r.records[rec.AccountID] = &copied
	return nil
}

func (r *inMemoryRegistrationRepo) Get(ctx context.Context, accountID string) (*domain.RegistrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[accountID]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (r *inMemoryRegistrationRepo) ListByMinScore(ctx context.Context, minScore int) ([]domain.RegistrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RegistrationRecord
	for _, rec := range r.records {
		if rec.SuspiciousScore >= minScore {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuspiciousScore > out[j].SuspiciousScore })
	return out, nil
}

// --- In-Memory Transactor (global lock) ---

// inMemoryTransactor serializes all transactions behind one mutex, the
// in-memory stand-in for the account row lock.
type inMemoryTransactor struct {
	mu sync.Mutex
}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	tx := &lockedTx{}
	tx.release = func() { t.mu.Unlock() }
	return tx, nil
}

// lockedTx is a pgx.Tx whose Commit/Rollback releases the transactor lock.
type lockedTx struct {
	once    sync.Once
	release func()
}

func (t *lockedTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *lockedTx) Commit(ctx context.Context) error {
	t.once.Do(t.release)
	return nil
}
func (t *lockedTx) Rollback(ctx context.Context) error {
	t.once.Do(t.release)
	return nil
}
func (t *lockedTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *lockedTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *lockedTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *lockedTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *lockedTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *lockedTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *lockedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *lockedTx) Conn() *pgx.Conn { return nil }
