package service

import (
	"context"
	"fmt"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// AdminServiceImpl implements ports.AdminService. Adjustments go through the
// same ledger path as every other mutation; the admin identity lands in the
// entry description so the audit trail names who moved the credits.
type AdminServiceImpl struct {
	ledger ports.LedgerService
	log    zerolog.Logger
}

// NewAdminService creates a new AdminServiceImpl.
func NewAdminService(ledger ports.LedgerService, log zerolog.Logger) *AdminServiceImpl {
	return &AdminServiceImpl{ledger: ledger, log: log}
}

// Adjust applies a signed manual balance correction. A negative delta debits
// the account and fails on insufficient balance; goodwill grants and refunds
// are positive deltas.
func (s *AdminServiceImpl) Adjust(ctx context.Context, req ports.AdminAdjustRequest) (*ports.AdminAdjustResult, error) {
	if req.AccountID == "" {
		return nil, apperror.Validation("account_id is required")
	}
	if req.AdminIdentity == "" {
		return nil, apperror.Validation("admin identity is required")
	}
	if req.DeltaCredits.IsZero() {
		return nil, apperror.ErrInvalidAmount()
	}

	description := fmt.Sprintf("%s (by %s)", req.Description, req.AdminIdentity)
	if req.Description == "" {
		description = fmt.Sprintf("Manual adjustment (by %s)", req.AdminIdentity)
	}

	var result *ports.MutationResult
	var err error
	if req.DeltaCredits.IsPositive() {
		result, err = s.ledger.Credit(ctx, ports.CreditRequest{
			AccountID:   req.AccountID,
			Amount:      req.DeltaCredits,
			Source:      domain.SourceAdminAdjustment,
			Description: description,
		})
	} else {
		result, err = s.ledger.Debit(ctx, ports.DebitRequest{
			AccountID:   req.AccountID,
			Amount:      req.DeltaCredits.Neg(),
			Source:      domain.SourceAdminAdjustment,
			Description: description,
		})
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", req.AccountID).
		Str("delta", req.DeltaCredits.String()).
		Str("admin", req.AdminIdentity).
		Msg("admin adjustment applied")

	return &ports.AdminAdjustResult{
		PreviousCredits:   result.PreviousBalance,
		NewCreditsBalance: result.NewBalance,
	}, nil
}
