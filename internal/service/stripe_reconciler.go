package service

import (
	"context"
	"fmt"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeReconcilerImpl implements ports.StripeReconciler. Signature
// verification happens before any parsing; an unverifiable payload is
// rejected without reading its contents.
type StripeReconcilerImpl struct {
	ledger        ports.LedgerService
	webhookSecret string
	log           zerolog.Logger
}

// NewStripeReconciler creates a new StripeReconcilerImpl.
func NewStripeReconciler(ledger ports.LedgerService, webhookSecret string, log zerolog.Logger) *StripeReconcilerImpl {
	return &StripeReconcilerImpl{
		ledger:        ledger,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// HandleEvent verifies and reconciles one Stripe webhook delivery. Event
// types other than completed checkouts are acknowledged without crediting so
// Stripe stops retrying them.
func (s *StripeReconcilerImpl) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*ports.ReconcileResult, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
	if err != nil {
		s.log.Warn().Err(err).Msg("stripe webhook signature verification failed")
		return nil, apperror.ErrInvalidWebhookSignature()
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		s.log.Debug().Str("event_type", string(event.Type)).Msg("ignoring stripe event")
		return &ports.ReconcileResult{Skipped: true}, nil
	}

	var sess stripe.CheckoutSession
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return nil, apperror.Validation("malformed checkout session payload")
	}

	// Async payment methods deliver checkout.session.completed before the
	// money moves; only a paid session credits the account.
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.log.Debug().
			Str("session_id", sess.ID).
			Str("payment_status", string(sess.PaymentStatus)).
			Msg("checkout session not paid yet, skipping")
		return &ports.ReconcileResult{Skipped: true}, nil
	}

	// The checkout session carries the account id in metadata; older
	// checkout links set client_reference_id instead.
	accountID := sess.Metadata["account_id"]
	if accountID == "" {
		accountID = sess.ClientReferenceID
	}
	creditsStr := sess.Metadata["credits"]
	if accountID == "" || creditsStr == "" {
		return nil, apperror.Validation("checkout session missing account_id/credits metadata")
	}
	credits, err := decimal.NewFromString(creditsStr)
	if err != nil || !credits.IsPositive() {
		return nil, apperror.Validation("checkout session has invalid credits metadata")
	}

	eventID := event.ID
	result, err := s.ledger.Credit(ctx, ports.CreditRequest{
		AccountID:       accountID,
		Amount:          credits,
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
		Description:     fmt.Sprintf("Stripe payment (session %s)", sess.ID),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", event.ID).
		Str("account_id", accountID).
		Str("credits", credits.String()).
		Bool("replayed", result.Replayed).
		Msg("stripe payment reconciled")

	return &ports.ReconcileResult{
		AccountID:    accountID,
		CreditsAdded: result.Transaction.Amount,
		NewBalance:   result.NewBalance,
		Replayed:     result.Replayed,
	}, nil
}
