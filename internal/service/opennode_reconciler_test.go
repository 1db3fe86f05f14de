package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testOpenNodeKey = "on_test_key"

func signCharge(chargeID string) string {
	mac := hmac.New(sha256.New, []byte(testOpenNodeKey))
	mac.Write([]byte(chargeID))
	return hex.EncodeToString(mac.Sum(nil))
}

func setupOpenNodeReconciler(t *testing.T) (*OpenNodeReconcilerImpl, *mocks.MockLedgerService, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedgerService(ctrl)
	return NewOpenNodeReconciler(ledger, testOpenNodeKey, zerolog.Nop()), ledger, ctrl
}

func TestOpenNodeReconciler_HandleCharge_Paid(t *testing.T) {
	svc, ledger, ctrl := setupOpenNodeReconciler(t)
	defer ctrl.Finish()
	ctx := context.Background()

	ledger.EXPECT().Credit(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreditRequest) (*ports.MutationResult, error) {
			assert.Equal(t, "user-1", req.AccountID)
			assert.Equal(t, domain.SourceBitcoinPayment, req.Source)
			require.NotNil(t, req.ExternalEventID)
			assert.Equal(t, "chg_123", *req.ExternalEventID)
			assert.True(t, decimal.NewFromInt(200).Equal(req.Amount))
			return &ports.MutationResult{
				Transaction: domain.Transaction{Amount: req.Amount},
				NewBalance:  decimal.NewFromInt(200),
			}, nil
		})

	result, err := svc.HandleCharge(ctx, ports.OpenNodeCharge{
		ID:          "chg_123",
		Status:      "paid",
		OrderID:     "user-1:200",
		HashedOrder: signCharge("chg_123"),
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.AccountID)
	assert.True(t, decimal.NewFromInt(200).Equal(result.CreditsAdded))
	assert.False(t, result.Skipped)
}

func TestOpenNodeReconciler_HandleCharge_BadSignature(t *testing.T) {
	svc, _, ctrl := setupOpenNodeReconciler(t)
	defer ctrl.Finish()

	_, err := svc.HandleCharge(context.Background(), ports.OpenNodeCharge{
		ID:          "chg_123",
		Status:      "paid",
		OrderID:     "user-1:200",
		HashedOrder: "deadbeef",
	})
	assertAppError(t, err, "SEC_001")
}

func TestOpenNodeReconciler_HandleCharge_NonPaidStatusSkipped(t *testing.T) {
	svc, _, ctrl := setupOpenNodeReconciler(t)
	defer ctrl.Finish()

	for _, status := range []string{"processing", "underpaid", "expired", "refunded"} {
		result, err := svc.HandleCharge(context.Background(), ports.OpenNodeCharge{
			ID:          "chg_456",
			Status:      status,
			OrderID:     "user-1:200",
			HashedOrder: signCharge("chg_456"),
		})
		require.NoError(t, err, "status %s", status)
		assert.True(t, result.Skipped, "status %s must be acknowledged without crediting", status)
	}
}

func TestOpenNodeReconciler_HandleCharge_MalformedOrder(t *testing.T) {
	svc, _, ctrl := setupOpenNodeReconciler(t)
	defer ctrl.Finish()

	for _, orderID := range []string{"", "no-separator", ":200", "user-1:", "user-1:zero", "user-1:-5"} {
		_, err := svc.HandleCharge(context.Background(), ports.OpenNodeCharge{
			ID:          "chg_789",
			Status:      "paid",
			OrderID:     orderID,
			HashedOrder: signCharge("chg_789"),
		})
		assertAppError(t, err, "LED_001")
	}
}

func TestOpenNodeReconciler_HandleCharge_ReplayPassesThrough(t *testing.T) {
	svc, ledger, ctrl := setupOpenNodeReconciler(t)
	defer ctrl.Finish()
	ctx := context.Background()

	ledger.EXPECT().Credit(ctx, gomock.Any()).Return(&ports.MutationResult{
		Transaction: domain.Transaction{Amount: decimal.NewFromInt(200)},
		NewBalance:  decimal.NewFromInt(200),
		Replayed:    true,
	}, nil)

	result, err := svc.HandleCharge(ctx, ports.OpenNodeCharge{
		ID:          "chg_123",
		Status:      "paid",
		OrderID:     "user-1:200",
		HashedOrder: signCharge("chg_123"),
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
}
