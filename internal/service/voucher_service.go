package service

import (
	"context"
	"fmt"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// VoucherServiceImpl implements ports.VoucherService. Redemption runs in one
// database transaction: voucher lock, validation, ledger credit, and the
// redemption record all commit or roll back together.
type VoucherServiceImpl struct {
	voucherRepo ports.VoucherRepository
	ledger      ports.LedgerService
	transactor  ports.DBTransactor
	log         zerolog.Logger
}

// NewVoucherService creates a new VoucherServiceImpl.
func NewVoucherService(
	voucherRepo ports.VoucherRepository,
	ledger ports.LedgerService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *VoucherServiceImpl {
	return &VoucherServiceImpl{
		voucherRepo: voucherRepo,
		ledger:      ledger,
		transactor:  transactor,
		log:         log,
	}
}

// Redeem applies a voucher to an account, once per (voucher, account) pair.
// Unknown and deactivated codes return the same error so probing reveals
// nothing about which codes exist.
func (s *VoucherServiceImpl) Redeem(ctx context.Context, code, accountID string) (*ports.RedeemResult, error) {
	canonical := domain.CanonicalVoucherCode(code)
	if canonical == "" {
		return nil, apperror.ErrVoucherInvalid()
	}
	if accountID == "" {
		return nil, apperror.Validation("account_id is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	voucher, err := s.voucherRepo.GetByCodeForUpdate(ctx, dbTx, canonical)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock voucher: %w", err))
	}
	if voucher == nil || !voucher.IsActive {
		return nil, apperror.ErrVoucherInvalid()
	}
	if voucher.IsExpired(time.Now().UTC()) {
		return nil, apperror.ErrVoucherExpired()
	}
	if voucher.IsExhausted() {
		return nil, apperror.ErrVoucherExhausted()
	}

	redeemed, err := s.voucherRepo.HasRedemption(ctx, dbTx, canonical, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check redemption: %w", err))
	}
	if redeemed {
		return nil, apperror.ErrVoucherAlreadyRedeemed()
	}

	eventID := domain.RedemptionEventID(canonical, accountID)
	result, err := s.ledger.CreditInTx(ctx, dbTx, ports.CreditRequest{
		AccountID:       accountID,
		Amount:          voucher.CreditAmount,
		Source:          domain.SourceVoucher,
		ExternalEventID: &eventID,
		Description:     fmt.Sprintf("Voucher %s", canonical),
	})
	if err != nil {
		if apperror.HasCode(err, "LED_003") {
			return nil, apperror.ErrVoucherAlreadyRedeemed()
		}
		return nil, err
	}

	if err := s.voucherRepo.RecordRedemption(ctx, dbTx, canonical, accountID); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("voucher", canonical).
		Str("account_id", accountID).
		Str("credits", voucher.CreditAmount.String()).
		Msg("voucher redeemed")

	return &ports.RedeemResult{
		CreditsAdded: voucher.CreditAmount,
		NewBalance:   result.NewBalance,
	}, nil
}

// Create registers a new voucher. Admin-only path.
func (s *VoucherServiceImpl) Create(ctx context.Context, req ports.CreateVoucherRequest) (*domain.Voucher, error) {
	canonical := domain.CanonicalVoucherCode(req.Code)
	if canonical == "" {
		return nil, apperror.Validation("voucher code is required")
	}
	if !req.CreditAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.UsageLimit < 1 {
		return nil, apperror.Validation("usage_limit must be at least 1")
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now().UTC()) {
		return nil, apperror.Validation("expires_at is in the past")
	}

	voucher := &domain.Voucher{
		Code:         canonical,
		CreditAmount: req.CreditAmount,
		UsageLimit:   req.UsageLimit,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.voucherRepo.Create(ctx, voucher); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("voucher", canonical).
		Str("credits", req.CreditAmount.String()).
		Int("usage_limit", req.UsageLimit).
		Msg("voucher created")

	return voucher, nil
}
