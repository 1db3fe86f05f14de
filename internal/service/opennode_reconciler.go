package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OpenNodeReconcilerImpl implements ports.OpenNodeReconciler. OpenNode signs
// charge webhooks by HMAC-ing the charge id with the account's API key; the
// hashed_order field must match before any field is trusted.
type OpenNodeReconcilerImpl struct {
	ledger ports.LedgerService
	apiKey string
	log    zerolog.Logger
}

// NewOpenNodeReconciler creates a new OpenNodeReconcilerImpl.
func NewOpenNodeReconciler(ledger ports.LedgerService, apiKey string, log zerolog.Logger) *OpenNodeReconcilerImpl {
	return &OpenNodeReconcilerImpl{
		ledger: ledger,
		apiKey: apiKey,
		log:    log,
	}
}

// HandleCharge verifies and reconciles one OpenNode charge webhook. Only
// charges with status "paid" credit the account; every other status is
// acknowledged and dropped.
func (s *OpenNodeReconcilerImpl) HandleCharge(ctx context.Context, charge ports.OpenNodeCharge) (*ports.ReconcileResult, error) {
	if !s.verifySignature(charge.ID, charge.HashedOrder) {
		s.log.Warn().Str("charge_id", charge.ID).Msg("opennode webhook signature verification failed")
		return nil, apperror.ErrInvalidWebhookSignature()
	}

	if charge.Status != "paid" {
		s.log.Debug().
			Str("charge_id", charge.ID).
			Str("status", charge.Status).
			Msg("ignoring opennode charge status")
		return &ports.ReconcileResult{Skipped: true}, nil
	}

	accountID, credits, err := parseOpenNodeOrder(charge.OrderID)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	eventID := charge.ID
	result, err := s.ledger.Credit(ctx, ports.CreditRequest{
		AccountID:       accountID,
		Amount:          credits,
		Source:          domain.SourceBitcoinPayment,
		ExternalEventID: &eventID,
		Description:     fmt.Sprintf("Bitcoin payment (charge %s)", charge.ID),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("charge_id", charge.ID).
		Str("account_id", accountID).
		Str("credits", credits.String()).
		Bool("replayed", result.Replayed).
		Msg("opennode payment reconciled")

	return &ports.ReconcileResult{
		AccountID:    accountID,
		CreditsAdded: result.Transaction.Amount,
		NewBalance:   result.NewBalance,
		Replayed:     result.Replayed,
	}, nil
}

// verifySignature checks HMAC-SHA256(charge id, api key) against the
// hex-encoded hashed_order field in constant time.
func (s *OpenNodeReconcilerImpl) verifySignature(chargeID, hashedOrder string) bool {
	if chargeID == "" || hashedOrder == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.apiKey))
	mac.Write([]byte(chargeID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(hashedOrder))
}

// parseOpenNodeOrder splits the "<accountID>:<credits>" order id set when
// the invoice was created.
func parseOpenNodeOrder(orderID string) (string, decimal.Decimal, error) {
	parts := strings.SplitN(orderID, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", decimal.Zero, fmt.Errorf("malformed opennode order id")
	}
	credits, err := decimal.NewFromString(parts[1])
	if err != nil || !credits.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("opennode order id has invalid credit amount")
	}
	return parts[0], credits, nil
}
