package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalVoucherCode(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh-ijkl":    "ABCD-EFGH-IJKL",
		"  ABCD-EFGH ":      "ABCD-EFGH",
		"ab cd-EF gh":       "ABCD-EFGH",
		"ABCD-EFGH-IJKL":    "ABCD-EFGH-IJKL",
		"\tsub-2026-promo ": "SUB-2026-PROMO",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalVoucherCode(in))
	}
}

func TestRedemptionEventID(t *testing.T) {
	assert.Equal(t, "ABCD-EFGH:user-1", RedemptionEventID("ABCD-EFGH", "user-1"))
}

func TestVoucher_IsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	v := &Voucher{Code: "A-B"}
	assert.False(t, v.IsExpired(now), "no expiry means never expired")

	v.ExpiresAt = &future
	assert.False(t, v.IsExpired(now))

	v.ExpiresAt = &past
	assert.True(t, v.IsExpired(now))
}

func TestVoucher_IsExhausted(t *testing.T) {
	v := &Voucher{UsageLimit: 2, UsedCount: 1}
	assert.False(t, v.IsExhausted())
	v.UsedCount = 2
	assert.True(t, v.IsExhausted())
}

func TestTransaction_SignedAmount(t *testing.T) {
	amt := decimal.RequireFromString("2.1")

	debit := &Transaction{Type: TransactionTypeDebit, Amount: amt}
	assert.True(t, debit.SignedAmount().Equal(amt.Neg()))

	credit := &Transaction{Type: TransactionTypeCredit, Amount: amt}
	assert.True(t, credit.SignedAmount().Equal(amt))
}

func TestTransactionSource_IsPaid(t *testing.T) {
	assert.True(t, SourceStripePayment.IsPaid())
	assert.True(t, SourceBitcoinPayment.IsPaid())
	assert.False(t, SourceVoucher.IsPaid())
	assert.False(t, SourceRegistrationBonus.IsPaid())
	assert.False(t, SourceUsage.IsPaid())
	assert.False(t, SourceAdminAdjustment.IsPaid())
}

func TestHold_IsActive(t *testing.T) {
	h := &Hold{Status: HoldStatusActive}
	assert.True(t, h.IsActive())
	h.Status = HoldStatusSettled
	assert.False(t, h.IsActive())
}
