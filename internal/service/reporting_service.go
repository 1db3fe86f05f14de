package service

import (
	"context"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// reportingService implements ports.ReportingService. Read-only; nothing in
// this package mutates the ledger.
type reportingService struct {
	accountRepo ports.AccountRepository
	ledgerRepo  ports.LedgerRepository
	regRepo     ports.RegistrationRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	accountRepo ports.AccountRepository,
	ledgerRepo ports.LedgerRepository,
	regRepo ports.RegistrationRepository,
) ports.ReportingService {
	return &reportingService{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		regRepo:     regRepo,
	}
}

// GetAccountSummary returns the stored balance and ledger size for one
// account. Unseen accounts report a zero balance rather than an error.
func (s *reportingService) GetAccountSummary(ctx context.Context, accountID string) (*ports.AccountSummary, error) {
	if accountID == "" {
		return nil, apperror.Validation("account_id is required")
	}

	account, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	summary := &ports.AccountSummary{
		AccountID:      accountID,
		Balance:        decimal.Zero,
		TotalPurchased: decimal.Zero,
	}
	if account == nil {
		return summary, nil
	}

	count, err := s.ledgerRepo.Count(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	summary.Balance = account.Balance
	summary.TotalPurchased = account.TotalPurchased
	summary.TransactionCount = count
	return summary, nil
}

// DetectDiscrepancy recomputes the balance from the transaction log and
// compares it with the stored value. It reports but never repairs; a
// discrepancy means a bug or manual interference and deserves human eyes.
func (s *reportingService) DetectDiscrepancy(ctx context.Context, accountID string) (*ports.DiscrepancyReport, error) {
	if accountID == "" {
		return nil, apperror.Validation("account_id is required")
	}

	account, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}

	computed, err := s.ledgerRepo.Sum(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	diff := account.Balance.Sub(computed)
	return &ports.DiscrepancyReport{
		AccountID:       accountID,
		StoredBalance:   account.Balance,
		ComputedBalance: computed,
		Difference:      diff,
		Consistent:      diff.IsZero(),
	}, nil
}

// ListTransactions returns a page of ledger entries, newest first.
func (s *reportingService) ListTransactions(ctx context.Context, params ports.LedgerListParams) ([]domain.Transaction, string, error) {
	if params.AccountID == "" {
		return nil, "", apperror.Validation("account_id is required")
	}
	txns, next, err := s.ledgerRepo.List(ctx, params)
	if err != nil {
		if apperror.HasCode(err, "LED_001") {
			return nil, "", err
		}
		return nil, "", apperror.InternalError(err)
	}
	return txns, next, nil
}

// ListSuspiciousRegistrations returns registration records at or above the
// given fraud score, highest first.
func (s *reportingService) ListSuspiciousRegistrations(ctx context.Context, minScore int) ([]domain.RegistrationRecord, error) {
	if minScore < 0 || minScore > 100 {
		return nil, apperror.Validation("min_score must be between 0 and 100")
	}
	recs, err := s.regRepo.ListByMinScore(ctx, minScore)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return recs, nil
}
