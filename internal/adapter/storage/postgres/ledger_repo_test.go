package postgres

import (
	"context"
	"testing"
	"time"

	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(accountID string) *domain.Transaction {
	eventID := "evt_123"
	return &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       accountID,
		Type:            domain.TransactionTypeCredit,
		Amount:          decimal.NewFromInt(50),
		BalanceBefore:   decimal.Zero,
		BalanceAfter:    decimal.NewFromInt(50),
		Source:          domain.SourceStripePayment,
		ExternalEventID: &eventID,
		Description:     "Stripe payment",
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func transactionTestColumns() []string {
	return []string{
		"id", "account_id", "type", "amount", "balance_before", "balance_after",
		"source", "external_event_id", "description", "related_job_id", "flagged", "created_at",
	}
}

func transactionRow(t *domain.Transaction) *pgxmock.Rows {
	return pgxmock.NewRows(transactionTestColumns()).AddRow(
		t.ID, t.AccountID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Source, t.ExternalEventID, t.Description, t.RelatedJobID, t.Flagged, t.CreatedAt,
	)
}

func TestLedgerRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	txn := newTestTransaction("user-123")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
			txn.Source, txn.ExternalEventID, txn.Description, txn.RelatedJobID, txn.Flagged, txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Append_DuplicateEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	txn := newTestTransaction("user-123")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
			txn.Source, txn.ExternalEventID, txn.Description, txn.RelatedJobID, txn.Flagged, txn.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "ux_transactions_source_event"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, txn)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "LED_003"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Append_DeadlockIsWriteConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	txn := newTestTransaction("user-123")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
			txn.Source, txn.ExternalEventID, txn.Description, txn.RelatedJobID, txn.Flagged, txn.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: pgDeadlockDetected})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, txn)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "LED_005"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetByEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	txn := newTestTransaction("user-123")

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE source").
		WithArgs(domain.SourceStripePayment, "evt_123").
		WillReturnRows(transactionRow(txn))

	result, err := repo.GetByEvent(context.Background(), domain.SourceStripePayment, "evt_123")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.True(t, txn.Amount.Equal(result.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetByEvent_Absent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE source").
		WithArgs(domain.SourceStripePayment, "evt_unknown").
		WillReturnRows(pgxmock.NewRows(transactionTestColumns()))

	result, err := repo.GetByEvent(context.Background(), domain.SourceStripePayment, "evt_unknown")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_List_FirstPage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	txn := newTestTransaction("user-123")

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE account_id .+ ORDER BY created_at DESC").
		WithArgs("user-123", 50).
		WillReturnRows(transactionRow(txn))

	txns, next, err := repo.List(context.Background(), ports.LedgerListParams{AccountID: "user-123"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Empty(t, next, "partial page must not produce a cursor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_List_FullPageProducesCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	a := newTestTransaction("user-123")
	b := newTestTransaction("user-123")
	b.CreatedAt = a.CreatedAt.Add(-time.Minute)

	rows := pgxmock.NewRows(transactionTestColumns()).
		AddRow(a.ID, a.AccountID, a.Type, a.Amount, a.BalanceBefore, a.BalanceAfter,
			a.Source, a.ExternalEventID, a.Description, a.RelatedJobID, a.Flagged, a.CreatedAt).
		AddRow(b.ID, b.AccountID, b.Type, b.Amount, b.BalanceBefore, b.BalanceAfter,
			b.Source, b.ExternalEventID, b.Description, b.RelatedJobID, b.Flagged, b.CreatedAt)

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE account_id .+ ORDER BY created_at DESC").
		WithArgs("user-123", 2).
		WillReturnRows(rows)

	txns, next, err := repo.List(context.Background(), ports.LedgerListParams{AccountID: "user-123", Limit: 2})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.NotEmpty(t, next)

	at, id, err := decodeCursor(next)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
	assert.True(t, b.CreatedAt.Equal(at))
}

func TestLedgerRepo_List_MalformedCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	_, _, err = repo.List(context.Background(), ports.LedgerListParams{
		AccountID: "user-123",
		Cursor:    "not-a-cursor",
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "LED_001"))
}

func TestLedgerRepo_Sum(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs("user-123").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(decimal.NewFromFloat(12.7)))

	sum, err := repo.Sum(context.Background(), "user-123")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(12.7).Equal(sum))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Count(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-123").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := repo.Count(context.Background(), "user-123")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorRoundTrip(t *testing.T) {
	id := uuid.New()
	at := time.Now().UTC().Truncate(time.Microsecond)

	gotAt, gotID, err := decodeCursor(encodeCursor(at, id))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.True(t, at.Equal(gotAt))
}
