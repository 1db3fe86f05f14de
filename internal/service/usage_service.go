package service

import (
	"context"
	"fmt"
	"time"

	"subtitle-credit-ledger/config"
	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UsageServiceImpl implements ports.UsageService. Billing is per chunk of
// subtitle lines: a job is rated at ceil(lines/chunkSize) * ratePerChunk.
// Authorize reserves the estimated cost before translation starts; Settle
// charges the exact cost afterwards and releases the reservation.
type UsageServiceImpl struct {
	ledger       ports.LedgerService
	accountRepo  ports.AccountRepository
	holdRepo     ports.HoldRepository
	transactor   ports.DBTransactor
	chunkSize    int
	ratePerChunk decimal.Decimal
	holdTTL      time.Duration
	log          zerolog.Logger
}

// NewUsageService creates a new UsageServiceImpl from billing configuration.
func NewUsageService(
	ledger ports.LedgerService,
	accountRepo ports.AccountRepository,
	holdRepo ports.HoldRepository,
	transactor ports.DBTransactor,
	cfg config.BillingConfig,
	log zerolog.Logger,
) (*UsageServiceImpl, error) {
	rate, err := decimal.NewFromString(cfg.RatePerChunk)
	if err != nil {
		return nil, fmt.Errorf("parse rate_per_chunk: %w", err)
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk_size must be at least 1")
	}
	return &UsageServiceImpl{
		ledger:       ledger,
		accountRepo:  accountRepo,
		holdRepo:     holdRepo,
		transactor:   transactor,
		chunkSize:    cfg.ChunkSize,
		ratePerChunk: rate,
		holdTTL:      cfg.HoldTTL,
		log:          log,
	}, nil
}

// Cost rates a job: ceil(units/chunkSize) * ratePerChunk. A partial chunk
// bills as a full one.
func (s *UsageServiceImpl) Cost(units int) decimal.Decimal {
	if units <= 0 {
		return decimal.Zero
	}
	chunks := (units + s.chunkSize - 1) / s.chunkSize
	return s.ratePerChunk.Mul(decimal.NewFromInt(int64(chunks)))
}

// Authorize places a hold for the estimated cost. The check is against the
// available balance (stored balance minus active holds), so parallel jobs
// cannot jointly overdraw the account.
func (s *UsageServiceImpl) Authorize(ctx context.Context, req ports.UsageAuthRequest) (*domain.Hold, error) {
	if req.AccountID == "" {
		return nil, apperror.Validation("account_id is required")
	}
	if req.EstimatedUnits <= 0 {
		return nil, apperror.Validation("estimated_units must be positive")
	}

	cost := s.Cost(req.EstimatedUnits)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	account, err := s.accountRepo.UpsertForUpdate(ctx, dbTx, req.AccountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}

	held, err := s.holdRepo.ActiveTotal(ctx, dbTx, req.AccountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum active holds: %w", err))
	}
	available := account.Balance.Sub(held)
	if available.LessThan(cost) {
		return nil, apperror.ErrInsufficientCredits()
	}

	now := time.Now().UTC()
	hold := &domain.Hold{
		ID:        uuid.New(),
		AccountID: req.AccountID,
		Amount:    cost,
		Status:    domain.HoldStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.holdTTL),
	}
	if req.RelatedJobID != "" {
		jobID := req.RelatedJobID
		hold.RelatedJobID = &jobID
	}
	if err := s.holdRepo.Create(ctx, dbTx, hold); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create hold: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("hold_id", hold.ID.String()).
		Str("account_id", req.AccountID).
		Str("amount", cost.String()).
		Int("estimated_units", req.EstimatedUnits).
		Msg("usage hold placed")

	return hold, nil
}

// Settle debits the exact cost of the completed work and releases the hold.
// The work has already been delivered, so a shortfall clamps the charge to
// the remaining balance and flags the entry instead of failing.
func (s *UsageServiceImpl) Settle(ctx context.Context, req ports.UsageSettleRequest) (*ports.SettleResult, error) {
	if req.AccountID == "" {
		return nil, apperror.Validation("account_id is required")
	}
	if req.UnitsProcessed < 0 {
		return nil, apperror.Validation("units_processed must not be negative")
	}

	cost := s.Cost(req.UnitsProcessed)

	if cost.IsZero() {
		if req.HoldID != nil {
			if err := s.Release(ctx, *req.HoldID); err != nil {
				return nil, err
			}
		}
		account, err := s.accountRepo.Get(ctx, req.AccountID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get account: %w", err))
		}
		balance := decimal.Zero
		if account != nil {
			balance = account.Balance
		}
		return &ports.SettleResult{CreditsCharged: decimal.Zero, NewBalance: balance}, nil
	}

	debitReq := ports.DebitRequest{
		AccountID:      req.AccountID,
		Amount:         cost,
		Source:         domain.SourceUsage,
		Description:    fmt.Sprintf("Subtitle translation (%d lines)", req.UnitsProcessed),
		ClampToBalance: true,
	}
	if req.RelatedJobID != "" {
		jobID := req.RelatedJobID
		eventID := "job:" + jobID
		debitReq.RelatedJobID = &jobID
		debitReq.ExternalEventID = &eventID
	}

	result, err := s.ledger.Debit(ctx, debitReq)
	if err != nil {
		return nil, err
	}

	// Hold release happens after the debit commits. A crash in between
	// leaves an active hold that the expiry sweep releases later; it never
	// leaves a double charge.
	if req.HoldID != nil {
		if err := s.finishHold(ctx, *req.HoldID, domain.HoldStatusSettled); err != nil {
			s.log.Warn().Err(err).Str("hold_id", req.HoldID.String()).Msg("failed to settle hold after debit")
		}
	}

	charged := result.Transaction.Amount
	flagged := charged.LessThan(cost)
	if flagged {
		s.log.Warn().
			Str("account_id", req.AccountID).
			Str("cost", cost.String()).
			Str("charged", charged.String()).
			Str("job_id", req.RelatedJobID).
			Msg("usage debit clamped to remaining balance")
	}

	return &ports.SettleResult{
		CreditsCharged: charged,
		NewBalance:     result.NewBalance,
		Flagged:        flagged,
	}, nil
}

// Release cancels a hold without debiting. Releasing a hold that is already
// settled or released is a no-op.
func (s *UsageServiceImpl) Release(ctx context.Context, holdID uuid.UUID) error {
	return s.finishHold(ctx, holdID, domain.HoldStatusReleased)
}

func (s *UsageServiceImpl) finishHold(ctx context.Context, holdID uuid.UUID, status domain.HoldStatus) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	hold, err := s.holdRepo.GetForUpdate(ctx, dbTx, holdID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock hold: %w", err))
	}
	if hold == nil {
		return apperror.ErrNotFound("hold")
	}
	if !hold.IsActive() {
		return nil
	}

	if err := s.holdRepo.SetStatus(ctx, dbTx, holdID, status); err != nil {
		return apperror.InternalError(fmt.Errorf("set hold status: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Debug().
		Str("hold_id", holdID.String()).
		Str("status", string(status)).
		Msg("hold finished")
	return nil
}
