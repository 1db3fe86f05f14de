package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the credit balance for one authenticated user.
// The account ID is owned by the external auth system; the ledger never
// creates identities, it lazily materialises a zero-balance row on first use.
type Account struct {
	AccountID      string          `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalPurchased decimal.Decimal `json:"total_purchased"` // cumulative paid-channel credits, never decreases
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewAccount returns a zero-balance account for an unseen account ID.
func NewAccount(accountID string) *Account {
	now := time.Now().UTC()
	return &Account{
		AccountID:      accountID,
		Balance:        decimal.Zero,
		TotalPurchased: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
