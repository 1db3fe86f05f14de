package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/internal/core/ports/mocks"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc         *LedgerServiceImpl
	accountRepo *mocks.MockAccountRepository
	ledgerRepo  *mocks.MockLedgerRepository
	idempCache  *mocks.MockIdempotencyCache
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		ledgerRepo:  mocks.NewMockLedgerRepository(ctrl),
		idempCache:  mocks.NewMockIdempotencyCache(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewLedgerService(d.accountRepo, d.ledgerRepo, d.idempCache, d.transactor, zerolog.Nop())
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

// decimalMatcher compares decimals by value; reflect.DeepEqual trips over
// equal decimals with different exponents.
type decimalMatcher struct{ want decimal.Decimal }

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string { return "decimal " + m.want.String() }

func decEq(v int64) gomock.Matcher { return decimalMatcher{decimal.NewFromInt(v)} }

func existingAccount(accountID string, balance int64) *domain.Account {
	return &domain.Account{
		AccountID:      accountID,
		Balance:        decimal.NewFromInt(balance),
		TotalPurchased: decimal.Zero,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
}

func TestLedgerService_Credit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	eventID := "evt_abc"

	d.idempCache.EXPECT().Get(ctx, "stripe_payment:evt_abc").Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceStripePayment, "evt_abc").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 10), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-1", decEq(60), decEq(50)).Return(nil)
	d.idempCache.EXPECT().Set(ctx, "stripe_payment:evt_abc", gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-1",
		Amount:          decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
		Description:     "Stripe payment",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Replayed)
	assert.True(t, decimal.NewFromInt(10).Equal(result.PreviousBalance))
	assert.True(t, decimal.NewFromInt(60).Equal(result.NewBalance))
	assert.Equal(t, domain.TransactionTypeCredit, result.Transaction.Type)
	assert.True(t, decimal.NewFromInt(10).Equal(result.Transaction.BalanceBefore))
	assert.True(t, decimal.NewFromInt(60).Equal(result.Transaction.BalanceAfter))
}

func TestLedgerService_Credit_PaidSourceGrowsTotalPurchased(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	// Voucher credits are free credits; total_purchased must not move.
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 0), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-1", decEq(25), decEq(0)).Return(nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:   "user-1",
		Amount:      decimal.NewFromInt(25),
		Source:      domain.SourceVoucher,
		Description: "Voucher WELCOME",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(result.NewBalance))
}

func TestLedgerService_Credit_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Credit(context.Background(), ports.CreditRequest{
		AccountID: "user-1",
		Amount:    decimal.NewFromInt(-5),
		Source:    domain.SourceAdminAdjustment,
	})
	assertAppError(t, err, "LED_001")
}

func TestLedgerService_Credit_ZeroAmountOnlyForDenialMarker(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	eventID := "user-9"

	_, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID: "user-9",
		Amount:    decimal.Zero,
		Source:    domain.SourceVoucher,
	})
	assertAppError(t, err, "LED_001")

	d.idempCache.EXPECT().Get(ctx, "registration_bonus_denied:user-9").Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceRegistrationBonusDenied, "user-9").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-9").Return(existingAccount("user-9", 0), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-9", decEq(0), decEq(0)).Return(nil)
	d.idempCache.EXPECT().Set(ctx, "registration_bonus_denied:user-9", gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-9",
		Amount:          decimal.Zero,
		Source:          domain.SourceRegistrationBonusDenied,
		ExternalEventID: &eventID,
	})
	require.NoError(t, err)
	assert.True(t, result.NewBalance.IsZero())
}

func TestLedgerService_Credit_ReplayFromCache(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	eventID := "evt_dup"
	prior := &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       "user-1",
		Type:            domain.TransactionTypeCredit,
		Amount:          decimal.NewFromInt(50),
		BalanceBefore:   decimal.NewFromInt(10),
		BalanceAfter:    decimal.NewFromInt(60),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
	}
	cached, err := json.Marshal(prior)
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, "stripe_payment:evt_dup").Return(cached, nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-1",
		Amount:          decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, prior.ID, result.Transaction.ID)
	assert.True(t, decimal.NewFromInt(60).Equal(result.NewBalance))
}

func TestLedgerService_Credit_ReplayFromDatabase(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	eventID := "evt_dup2"
	prior := &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     "user-1",
		Type:          domain.TransactionTypeCredit,
		Amount:        decimal.NewFromInt(50),
		BalanceBefore: decimal.NewFromInt(0),
		BalanceAfter:  decimal.NewFromInt(50),
		Source:        domain.SourceStripePayment,
	}

	d.idempCache.EXPECT().Get(ctx, "stripe_payment:evt_dup2").Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceStripePayment, "evt_dup2").Return(prior, nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-1",
		Amount:          decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, prior.ID, result.Transaction.ID)
}

func TestLedgerService_Credit_ConcurrentDuplicateLosesRace(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	eventID := "evt_race"
	prior := &domain.Transaction{
		ID:           uuid.New(),
		AccountID:    "user-1",
		Type:         domain.TransactionTypeCredit,
		Amount:       decimal.NewFromInt(50),
		BalanceAfter: decimal.NewFromInt(50),
		Source:       domain.SourceStripePayment,
	}

	d.idempCache.EXPECT().Get(ctx, "stripe_payment:evt_race").Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceStripePayment, "evt_race").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 0), nil)
	// Unique index fires: another process recorded the event first.
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(apperror.ErrDuplicateEvent())
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceStripePayment, "evt_race").Return(prior, nil)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-1",
		Amount:          decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, prior.ID, result.Transaction.ID)
}

func TestLedgerService_Credit_RedisDownFallsThrough(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	eventID := "evt_redisdown"

	d.idempCache.EXPECT().Get(ctx, "stripe_payment:evt_redisdown").Return(nil, assert.AnError)
	d.ledgerRepo.EXPECT().GetByEvent(ctx, domain.SourceStripePayment, "evt_redisdown").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 0), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-1", decEq(50), decEq(50)).Return(nil)
	d.idempCache.EXPECT().Set(ctx, "stripe_payment:evt_redisdown", gomock.Any(), idempotencyTTL).Return(assert.AnError)

	result, err := d.svc.Credit(ctx, ports.CreditRequest{
		AccountID:       "user-1",
		Amount:          decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
	})
	require.NoError(t, err, "redis being down must not break the credit path")
	assert.False(t, result.Replayed)
}

func TestLedgerService_Debit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 100), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionTypeDebit, txn.Type)
			assert.True(t, decimal.NewFromInt(30).Equal(txn.Amount))
			assert.False(t, txn.Flagged)
			return nil
		})
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-1", decEq(70), decEq(0)).Return(nil)

	result, err := d.svc.Debit(ctx, ports.DebitRequest{
		AccountID:   "user-1",
		Amount:      decimal.NewFromInt(30),
		Source:      domain.SourceUsage,
		Description: "Subtitle translation (47 lines)",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(70).Equal(result.NewBalance))
}

func TestLedgerService_Debit_InsufficientCredits(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 10), nil)

	_, err := d.svc.Debit(ctx, ports.DebitRequest{
		AccountID: "user-1",
		Amount:    decimal.NewFromInt(30),
		Source:    domain.SourceUsage,
	})
	assertAppError(t, err, "LED_002")
}

func TestLedgerService_Debit_ClampToBalance(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 10), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.True(t, decimal.NewFromInt(10).Equal(txn.Amount), "charge clamps to the remaining balance")
			assert.True(t, txn.Flagged)
			return nil
		})
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, "user-1", decEq(0), decEq(0)).Return(nil)

	result, err := d.svc.Debit(ctx, ports.DebitRequest{
		AccountID:      "user-1",
		Amount:         decimal.NewFromInt(30),
		Source:         domain.SourceUsage,
		ClampToBalance: true,
	})
	require.NoError(t, err)
	assert.True(t, result.NewBalance.IsZero())
	assert.True(t, result.Transaction.Flagged)
}

func TestLedgerService_Debit_ClampAtZeroWritesNothing(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().UpsertForUpdate(ctx, tx, "user-1").Return(existingAccount("user-1", 0), nil)
	// No Append, no UpdateBalance: there is nothing to charge.

	result, err := d.svc.Debit(ctx, ports.DebitRequest{
		AccountID:      "user-1",
		Amount:         decimal.NewFromInt(30),
		Source:         domain.SourceUsage,
		ClampToBalance: true,
	})
	require.NoError(t, err)
	assert.True(t, result.NewBalance.IsZero())
	assert.Equal(t, uuid.Nil, result.Transaction.ID)
}
