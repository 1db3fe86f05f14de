package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldStatus is the lifecycle state of a credit hold.
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusSettled  HoldStatus = "settled"
	HoldStatusReleased HoldStatus = "released"
)

// Hold reserves part of an account's balance for an in-flight translation
// job. Active holds reduce the available balance without moving it; the
// ledger only records a transaction when the hold settles into a debit.
type Hold struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	RelatedJobID *string         `json:"related_job_id,omitempty"`
	Status       HoldStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// IsActive reports whether the hold still pins available balance.
func (h *Hold) IsActive() bool {
	return h.Status == HoldStatusActive
}
