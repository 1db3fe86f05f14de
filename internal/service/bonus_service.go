package service

import (
	"context"
	"fmt"
	"time"

	"subtitle-credit-ledger/config"
	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BonusServiceImpl implements ports.BonusService. The bonus is tiered on the
// fraud score computed at registration: clean signups get the full grant,
// suspicious ones a reduced grant, likely-abusive ones nothing. A denial
// still writes a zero-amount marker entry so re-registration attempts replay
// the denial instead of re-rolling the dice.
type BonusServiceImpl struct {
	ledger           ports.LedgerService
	regRepo          ports.RegistrationRepository
	bonusFull        decimal.Decimal
	bonusReduced     decimal.Decimal
	reducedThreshold int
	deniedThreshold  int
	log              zerolog.Logger
}

// NewBonusService creates a new BonusServiceImpl from billing configuration.
func NewBonusService(
	ledger ports.LedgerService,
	regRepo ports.RegistrationRepository,
	cfg config.BillingConfig,
	log zerolog.Logger,
) (*BonusServiceImpl, error) {
	full, err := decimal.NewFromString(cfg.BonusFull)
	if err != nil {
		return nil, fmt.Errorf("parse bonus_full: %w", err)
	}
	reduced, err := decimal.NewFromString(cfg.BonusReduced)
	if err != nil {
		return nil, fmt.Errorf("parse bonus_reduced: %w", err)
	}
	return &BonusServiceImpl{
		ledger:           ledger,
		regRepo:          regRepo,
		bonusFull:        full,
		bonusReduced:     reduced,
		reducedThreshold: cfg.BonusReducedThreshold,
		deniedThreshold:  cfg.BonusDeniedThreshold,
		log:              log,
	}, nil
}

// Award grants the one-time registration bonus. The account ID itself is the
// idempotency key, so a second award attempt for the same account replays
// the first decision.
func (s *BonusServiceImpl) Award(ctx context.Context, req ports.BonusRequest) (*ports.BonusResult, error) {
	if req.AccountID == "" {
		return nil, apperror.Validation("account_id is required")
	}
	if req.SuspiciousScore < 0 || req.SuspiciousScore > 100 {
		return nil, apperror.Validation("suspicious_score must be between 0 and 100")
	}

	amount, source, denied := s.tier(req.SuspiciousScore)

	eventID := req.AccountID
	result, err := s.ledger.Credit(ctx, ports.CreditRequest{
		AccountID:       req.AccountID,
		Amount:          amount,
		Source:          source,
		ExternalEventID: &eventID,
		Description:     bonusDescription(denied, req.SuspiciousScore),
	})
	if err != nil {
		return nil, err
	}

	// Tracking record for the fraud report. Idempotent on account ID; a
	// replayed award leaves the original record untouched.
	rec := &domain.RegistrationRecord{
		AccountID:          req.AccountID,
		IPAddress:          req.IPAddress,
		BrowserFingerprint: req.BrowserFingerprint,
		SuspiciousScore:    req.SuspiciousScore,
		CreditsAwarded:     amount,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.regRepo.Create(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("account_id", req.AccountID).Msg("failed to write registration record")
	}

	if !result.Replayed {
		s.log.Info().
			Str("account_id", req.AccountID).
			Int("suspicious_score", req.SuspiciousScore).
			Str("credits", amount.String()).
			Bool("denied", denied).
			Msg("registration bonus decided")
	}

	// A replayed award may have been decided under a different score; report
	// what was actually granted, not what this request would grant.
	replayDenied := result.Transaction.Source == domain.SourceRegistrationBonusDenied
	return &ports.BonusResult{
		CreditsAwarded: result.Transaction.Amount,
		NewBalance:     result.NewBalance,
		Denied:         replayDenied,
		Replayed:       result.Replayed,
	}, nil
}

func (s *BonusServiceImpl) tier(score int) (decimal.Decimal, domain.TransactionSource, bool) {
	switch {
	case score >= s.deniedThreshold:
		return decimal.Zero, domain.SourceRegistrationBonusDenied, true
	case score >= s.reducedThreshold:
		return s.bonusReduced, domain.SourceRegistrationBonus, false
	default:
		return s.bonusFull, domain.SourceRegistrationBonus, false
	}
}

func bonusDescription(denied bool, score int) string {
	if denied {
		return fmt.Sprintf("Registration bonus denied (score %d)", score)
	}
	return fmt.Sprintf("Registration bonus (score %d)", score)
}
