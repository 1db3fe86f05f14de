package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// LedgerServiceImpl implements ports.LedgerService. It is the single writer
// for account balances: every mutation locks the account row, appends to the
// transaction log, and updates the stored balance in one database
// transaction, so balance == sum(ledger) holds at every commit point.
type LedgerServiceImpl struct {
	accountRepo ports.AccountRepository
	ledgerRepo  ports.LedgerRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	accountRepo ports.AccountRepository,
	ledgerRepo ports.LedgerRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		log:         log,
	}
}

// Credit adds credits to an account, creating it on first contact.
func (s *LedgerServiceImpl) Credit(ctx context.Context, req ports.CreditRequest) (*ports.MutationResult, error) {
	if err := validateCreditAmount(req); err != nil {
		return nil, err
	}

	// Layer 1: Redis idempotency check (best-effort fast path).
	if req.ExternalEventID != nil {
		if result := s.cachedResult(ctx, req.Source, *req.ExternalEventID); result != nil {
			return result, nil
		}
		// Layer 2: ledger unique-index check without taking the row lock.
		prior, err := s.ledgerRepo.GetByEvent(ctx, req.Source, *req.ExternalEventID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
		}
		if prior != nil {
			return replayResult(prior), nil
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	result, err := s.CreditInTx(ctx, dbTx, req)
	if err != nil {
		if apperror.HasCode(err, "LED_003") {
			// Lost the race to a concurrent delivery of the same event. The
			// insert aborted this tx, so the replay is read outside it.
			return s.replayFromStore(ctx, req.Source, *req.ExternalEventID)
		}
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheResult(ctx, result)

	s.log.Info().
		Str("tx_id", result.Transaction.ID.String()).
		Str("account_id", req.AccountID).
		Str("source", string(req.Source)).
		Str("amount", req.Amount.String()).
		Str("new_balance", result.NewBalance.String()).
		Msg("credit applied")

	return result, nil
}

// CreditInTx applies a credit inside a caller-owned database transaction.
// The caller commits; no Redis caching happens here since the write is not
// yet durable.
func (s *LedgerServiceImpl) CreditInTx(ctx context.Context, tx pgx.Tx, req ports.CreditRequest) (*ports.MutationResult, error) {
	if err := validateCreditAmount(req); err != nil {
		return nil, err
	}

	account, err := s.accountRepo.UpsertForUpdate(ctx, tx, req.AccountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}

	newBalance := account.Balance.Add(req.Amount)
	totalPurchased := account.TotalPurchased
	if req.Source.IsPaid() {
		totalPurchased = totalPurchased.Add(req.Amount)
	}

	txn := &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       req.AccountID,
		Type:            domain.TransactionTypeCredit,
		Amount:          req.Amount,
		BalanceBefore:   account.Balance,
		BalanceAfter:    newBalance,
		Source:          req.Source,
		ExternalEventID: req.ExternalEventID,
		Description:     req.Description,
		RelatedJobID:    req.RelatedJobID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.ledgerRepo.Append(ctx, tx, txn); err != nil {
		if apperror.HasCode(err, "LED_003") {
			return nil, err
		}
		return nil, apperror.InternalError(fmt.Errorf("append credit: %w", err))
	}

	if err := s.accountRepo.UpdateBalance(ctx, tx, req.AccountID, newBalance, totalPurchased); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	return &ports.MutationResult{
		Transaction:     *txn,
		PreviousBalance: account.Balance,
		NewBalance:      newBalance,
	}, nil
}

// Debit removes credits from an account. Fails with insufficient credits
// unless the request asks to clamp to the remaining balance.
func (s *LedgerServiceImpl) Debit(ctx context.Context, req ports.DebitRequest) (*ports.MutationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	if req.ExternalEventID != nil {
		if result := s.cachedResult(ctx, req.Source, *req.ExternalEventID); result != nil {
			return result, nil
		}
		prior, err := s.ledgerRepo.GetByEvent(ctx, req.Source, *req.ExternalEventID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
		}
		if prior != nil {
			return replayResult(prior), nil
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	account, err := s.accountRepo.UpsertForUpdate(ctx, dbTx, req.AccountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}

	amount := req.Amount
	flagged := false
	if account.Balance.LessThan(amount) {
		if !req.ClampToBalance {
			return nil, apperror.ErrInsufficientCredits()
		}
		amount = account.Balance
		flagged = true
		if amount.IsZero() {
			// Nothing left to charge. No ledger entry is written; the caller
			// decides how to report the shortfall.
			return &ports.MutationResult{
				PreviousBalance: account.Balance,
				NewBalance:      account.Balance,
			}, nil
		}
	}

	newBalance := account.Balance.Sub(amount)

	txn := &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       req.AccountID,
		Type:            domain.TransactionTypeDebit,
		Amount:          amount,
		BalanceBefore:   account.Balance,
		BalanceAfter:    newBalance,
		Source:          req.Source,
		ExternalEventID: req.ExternalEventID,
		Description:     req.Description,
		RelatedJobID:    req.RelatedJobID,
		Flagged:         flagged,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.ledgerRepo.Append(ctx, dbTx, txn); err != nil {
		if apperror.HasCode(err, "LED_003") {
			return s.replayFromStore(ctx, req.Source, *req.ExternalEventID)
		}
		return nil, apperror.InternalError(fmt.Errorf("append debit: %w", err))
	}

	if err := s.accountRepo.UpdateBalance(ctx, dbTx, req.AccountID, newBalance, account.TotalPurchased); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	result := &ports.MutationResult{
		Transaction:     *txn,
		PreviousBalance: account.Balance,
		NewBalance:      newBalance,
	}
	s.cacheResult(ctx, result)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("account_id", req.AccountID).
		Str("source", string(req.Source)).
		Str("amount", amount.String()).
		Bool("flagged", flagged).
		Str("new_balance", newBalance.String()).
		Msg("debit applied")

	return result, nil
}

func validateCreditAmount(req ports.CreditRequest) error {
	if req.Amount.IsPositive() {
		return nil
	}
	// The zero-amount denial marker is the one entry allowed to carry no value.
	if req.Amount.IsZero() && req.Source == domain.SourceRegistrationBonusDenied {
		return nil
	}
	return apperror.ErrInvalidAmount()
}

// replayResult rebuilds the original outcome of an already-recorded event.
func replayResult(txn *domain.Transaction) *ports.MutationResult {
	return &ports.MutationResult{
		Transaction:     *txn,
		PreviousBalance: txn.BalanceBefore,
		NewBalance:      txn.BalanceAfter,
		Replayed:        true,
	}
}

func (s *LedgerServiceImpl) replayFromStore(ctx context.Context, source domain.TransactionSource, eventID string) (*ports.MutationResult, error) {
	prior, err := s.ledgerRepo.GetByEvent(ctx, source, eventID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load replayed event: %w", err))
	}
	if prior == nil {
		return nil, apperror.InternalError(fmt.Errorf("duplicate event %s:%s has no stored transaction", source, eventID))
	}
	return replayResult(prior), nil
}

func eventCacheKey(source domain.TransactionSource, eventID string) string {
	return string(source) + ":" + eventID
}

// cachedResult checks Redis for an already-processed event. Errors and
// misses both fall through to the database path.
func (s *LedgerServiceImpl) cachedResult(ctx context.Context, source domain.TransactionSource, eventID string) *ports.MutationResult {
	key := eventCacheKey(source, eventID)
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if cached == nil {
		return nil
	}
	txn := &domain.Transaction{}
	if err := json.Unmarshal(cached, txn); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt idempotency cache entry, falling through to DB")
		return nil
	}
	return replayResult(txn)
}

// cacheResult stores the committed transaction in Redis (best-effort).
func (s *LedgerServiceImpl) cacheResult(ctx context.Context, result *ports.MutationResult) {
	if result.Transaction.ExternalEventID == nil {
		return
	}
	key := eventCacheKey(result.Transaction.Source, *result.Transaction.ExternalEventID)
	data, err := json.Marshal(result.Transaction)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to marshal transaction for cache")
		return
	}
	if err := s.idempCache.Set(ctx, key, data, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// Balance returns the current stored balance, zero for unseen accounts.
func (s *LedgerServiceImpl) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	account, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return decimal.Zero, apperror.InternalError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return decimal.Zero, nil
	}
	return account.Balance, nil
}
