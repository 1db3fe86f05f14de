package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Voucher is a pre-generated code redeemable once per account for a fixed
// credit amount. Codes are stored in canonical form (uppercase,
// dash-segmented); user input is canonicalised before lookup.
type Voucher struct {
	Code         string          `json:"code"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	UsageLimit   int             `json:"usage_limit"` // max redemptions across all accounts
	UsedCount    int             `json:"used_count"`
	IsActive     bool            `json:"is_active"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CanonicalVoucherCode normalises user-entered codes: trims whitespace,
// uppercases, and drops interior spaces so "abcd-efgh " and "ABCD-EFGH"
// resolve to the same voucher.
func CanonicalVoucherCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, " ", "")
}

// RedemptionEventID builds the idempotency key for a (voucher, account) pair.
func RedemptionEventID(code, accountID string) string {
	return code + ":" + accountID
}

// IsExpired reports whether the voucher's expiry has passed.
func (v *Voucher) IsExpired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// IsExhausted reports whether the redemption limit has been reached.
func (v *Voucher) IsExhausted() bool {
	return v.UsedCount >= v.UsageLimit
}
