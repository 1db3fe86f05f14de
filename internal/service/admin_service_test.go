package service

import (
	"context"
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

func TestAdminService_Adjust_PositiveDeltaCredits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ledger := mocks.NewMockLedgerService(ctrl)
	svc := NewAdminService(ledger, zerolog.Nop())
	ctx := context.Background()

	ledger.EXPECT().Credit(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreditRequest) (*ports.MutationResult, error) {
			assert.Equal(t, "user-1", req.AccountID)
			assert.Equal(t, domain.SourceAdminAdjustment, req.Source)
			assert.True(t, decimal.NewFromInt(30).Equal(req.Amount))
			assert.Equal(t, "Refund for failed job (by ops@example.com)", req.Description)
			return &ports.MutationResult{
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(40),
			}, nil
		})

	result, err := svc.Adjust(ctx, ports.AdminAdjustRequest{
		AccountID:     "user-1",
		DeltaCredits:  decimal.NewFromInt(30),
		Description:   "Refund for failed job",
		AdminIdentity: "ops@example.com",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(result.PreviousCredits))
	assert.True(t, decimal.NewFromInt(40).Equal(result.NewCreditsBalance))
}

func TestAdminService_Adjust_NegativeDeltaDebits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ledger := mocks.NewMockLedgerService(ctrl)
	svc := NewAdminService(ledger, zerolog.Nop())
	ctx := context.Background()

	ledger.EXPECT().Debit(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.DebitRequest) (*ports.MutationResult, error) {
			assert.True(t, decimal.NewFromInt(15).Equal(req.Amount), "debit amount must be the absolute delta")
			assert.Equal(t, domain.SourceAdminAdjustment, req.Source)
			assert.False(t, req.ClampToBalance, "admin debits fail loudly instead of clamping")
			return &ports.MutationResult{
				PreviousBalance: decimal.NewFromInt(100),
				NewBalance:      decimal.NewFromInt(85),
			}, nil
		})

	result, err := svc.Adjust(ctx, ports.AdminAdjustRequest{
		AccountID:     "user-1",
		DeltaCredits:  decimal.NewFromInt(-15),
		Description:   "Chargeback",
		AdminIdentity: "ops@example.com",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(85).Equal(result.NewCreditsBalance))
}

func TestAdminService_Adjust_DefaultDescription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ledger := mocks.NewMockLedgerService(ctrl)
	svc := NewAdminService(ledger, zerolog.Nop())

	ledger.EXPECT().Credit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreditRequest) (*ports.MutationResult, error) {
			assert.Equal(t, "Manual adjustment (by ops@example.com)", req.Description)
			return &ports.MutationResult{NewBalance: decimal.NewFromInt(5)}, nil
		})

	_, err := svc.Adjust(context.Background(), ports.AdminAdjustRequest{
		AccountID:     "user-1",
		DeltaCredits:  decimal.NewFromInt(5),
		AdminIdentity: "ops@example.com",
	})
	require.NoError(t, err)
}

func TestAdminService_Adjust_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := NewAdminService(mocks.NewMockLedgerService(ctrl), zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Adjust(ctx, ports.AdminAdjustRequest{
		DeltaCredits:  decimal.NewFromInt(5),
		AdminIdentity: "ops@example.com",
	})
	assertAppError(t, err, "LED_001")

	_, err = svc.Adjust(ctx, ports.AdminAdjustRequest{
		AccountID:    "user-1",
		DeltaCredits: decimal.NewFromInt(5),
	})
	assertAppError(t, err, "LED_001")

	_, err = svc.Adjust(ctx, ports.AdminAdjustRequest{
		AccountID:     "user-1",
		DeltaCredits:  decimal.Zero,
		AdminIdentity: "ops@example.com",
	})
	assertAppError(t, err, "LED_001")
}
