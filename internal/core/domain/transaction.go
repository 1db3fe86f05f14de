package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of a balance movement.
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)

// TransactionSource identifies the rail that originated a ledger entry.
type TransactionSource string

const (
	SourceUsage                   TransactionSource = "usage"
	SourceStripePayment           TransactionSource = "stripe_payment"
	SourceBitcoinPayment          TransactionSource = "bitcoin_payment"
	SourceVoucher                 TransactionSource = "voucher"
	SourceAdminAdjustment         TransactionSource = "admin_adjustment"
	SourceRegistrationBonus       TransactionSource = "registration_bonus"
	SourceRegistrationBonusDenied TransactionSource = "registration_bonus_denied"
)

// IsPaid reports whether credits from this source count towards
// Account.TotalPurchased.
func (s TransactionSource) IsPaid() bool {
	return s == SourceStripePayment || s == SourceBitcoinPayment
}

// Transaction is an immutable, append-only ledger entry. Amount is stored
// unsigned; Type carries the sign. Amount is zero only for the
// registration-bonus-denied audit marker, which moves no balance.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       string            `json:"account_id"`
	Type            TransactionType   `json:"type"`
	Amount          decimal.Decimal   `json:"amount"`
	BalanceBefore   decimal.Decimal   `json:"balance_before"`
	BalanceAfter    decimal.Decimal   `json:"balance_after"`
	Source          TransactionSource `json:"source"`
	ExternalEventID *string           `json:"external_event_id,omitempty"`
	Description     string            `json:"description"`
	RelatedJobID    *string           `json:"related_job_id,omitempty"`
	Flagged         bool              `json:"flagged"` // clamped debit, needs audit review
	CreatedAt       time.Time         `json:"created_at"`
}

// SignedAmount returns the amount with debit entries negated, the form used
// when recomputing a balance from the log.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
