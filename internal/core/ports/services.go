package ports

import (
	"context"
	"time"

	"subtitle-credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// --- Balance Service ---

// LedgerService is the only component permitted to change an account balance.
// Concurrent calls for the same account serialize on the account row lock;
// calls for different accounts are independent.
type LedgerService interface {
	Credit(ctx context.Context, req CreditRequest) (*MutationResult, error)
	Debit(ctx context.Context, req DebitRequest) (*MutationResult, error)
	// CreditInTx applies a credit inside a caller-owned database transaction,
	// for reconcilers that must atomically update their own rows alongside the
	// ledger write (voucher redemption). The caller commits.
	CreditInTx(ctx context.Context, tx pgx.Tx, req CreditRequest) (*MutationResult, error)
}

// CreditRequest holds validated input for a balance credit.
type CreditRequest struct {
	AccountID       string
	Amount          decimal.Decimal
	Source          domain.TransactionSource
	ExternalEventID *string // idempotency key from the originating rail
	Description     string
	RelatedJobID    *string
}

// DebitRequest holds validated input for a balance debit.
type DebitRequest struct {
	AccountID       string
	Amount          decimal.Decimal
	Source          domain.TransactionSource
	ExternalEventID *string
	Description     string
	RelatedJobID    *string
	// ClampToBalance charges whatever remains instead of failing when the
	// balance no longer covers the amount. Used when the billable work has
	// already happened; the resulting transaction is flagged for audit.
	ClampToBalance bool
}

// MutationResult reports the outcome of a credit or debit.
type MutationResult struct {
	Transaction     domain.Transaction
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	// Replayed is true when the external event was already recorded and the
	// original result is returned without mutating anything.
	Replayed bool
}

// --- Payment Event Reconcilers ---

// StripeReconciler turns verified Stripe webhook deliveries into ledger credits.
type StripeReconciler interface {
	// HandleEvent verifies the payload signature, parses the event, and
	// credits the account for completed checkout sessions.
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*ReconcileResult, error)
}

// OpenNodeCharge is the normalized OpenNode charge webhook payload.
type OpenNodeCharge struct {
	ID          string // OpenNode charge id — the idempotency key
	Status      string // only "paid" credits the account
	OrderID     string // "<accountID>:<credits>" as set at invoice creation
	HashedOrder string // HMAC-SHA256(ID, api key), hex
}

// OpenNodeReconciler turns OpenNode invoice-settled webhooks into ledger credits.
type OpenNodeReconciler interface {
	HandleCharge(ctx context.Context, charge OpenNodeCharge) (*ReconcileResult, error)
}

// ReconcileResult reports the outcome of a webhook reconciliation.
type ReconcileResult struct {
	AccountID    string
	CreditsAdded decimal.Decimal
	NewBalance   decimal.Decimal
	Replayed     bool // duplicate delivery, original result returned
	Skipped      bool // event type/status not relevant, acknowledged without crediting
}

// --- Voucher ---

// VoucherService handles voucher creation and redemption.
type VoucherService interface {
	Redeem(ctx context.Context, code, accountID string) (*RedeemResult, error)
	Create(ctx context.Context, req CreateVoucherRequest) (*domain.Voucher, error)
}

// RedeemResult reports a successful voucher redemption.
type RedeemResult struct {
	CreditsAdded decimal.Decimal
	NewBalance   decimal.Decimal
}

// CreateVoucherRequest holds input for creating a voucher.
type CreateVoucherRequest struct {
	Code         string
	CreditAmount decimal.Decimal
	UsageLimit   int
	ExpiresAt    *time.Time
}

// --- Registration bonus ---

// BonusService awards the tiered one-time registration bonus.
type BonusService interface {
	Award(ctx context.Context, req BonusRequest) (*BonusResult, error)
}

// BonusRequest carries the fraud signals for a freshly registered account.
type BonusRequest struct {
	AccountID          string
	IPAddress          string
	BrowserFingerprint string
	SuspiciousScore    int
}

// BonusResult reports the bonus decision.
type BonusResult struct {
	CreditsAwarded decimal.Decimal
	NewBalance     decimal.Decimal
	Denied         bool
	Replayed       bool
}

// --- Usage billing ---

// UsageService converts completed translation work into debits, using
// reserve-then-commit: a hold is placed before the translation runs and
// settled to the exact cost afterwards.
type UsageService interface {
	// Authorize places a hold for the estimated cost. Fails with insufficient
	// credits when balance minus active holds cannot cover it.
	Authorize(ctx context.Context, req UsageAuthRequest) (*domain.Hold, error)
	// Settle debits the exact cost of the completed work and releases the
	// hold. Without a hold it degrades to plain check-then-debit.
	Settle(ctx context.Context, req UsageSettleRequest) (*SettleResult, error)
	// Release cancels a hold without debiting.
	Release(ctx context.Context, holdID uuid.UUID) error
	// Cost exposes the rating formula: ceil(units/chunkSize) * ratePerChunk.
	Cost(units int) decimal.Decimal
}

// UsageAuthRequest holds input for placing a usage hold.
type UsageAuthRequest struct {
	AccountID      string
	EstimatedUnits int
	RelatedJobID   string
}

// UsageSettleRequest holds input for settling completed work.
type UsageSettleRequest struct {
	AccountID      string
	UnitsProcessed int
	RelatedJobID   string
	HoldID         *uuid.UUID
}

// SettleResult reports the outcome of a usage settlement.
type SettleResult struct {
	CreditsCharged decimal.Decimal
	NewBalance     decimal.Decimal
	Flagged        bool // debit was clamped to the remaining balance
}

// --- Admin ---

// AdminService routes manual balance adjustments.
type AdminService interface {
	Adjust(ctx context.Context, req AdminAdjustRequest) (*AdminAdjustResult, error)
}

// AdminAdjustRequest holds a signed delta; negative debits the account.
type AdminAdjustRequest struct {
	AccountID     string
	DeltaCredits  decimal.Decimal
	Description   string
	AdminIdentity string
}

// AdminAdjustResult reports the balance movement.
type AdminAdjustResult struct {
	PreviousCredits   decimal.Decimal
	NewCreditsBalance decimal.Decimal
}

// --- Reporting ---

// ReportingService is the read-only aggregation layer over the ledger.
type ReportingService interface {
	GetAccountSummary(ctx context.Context, accountID string) (*AccountSummary, error)
	// DetectDiscrepancy cross-checks the stored balance against the
	// transaction sum. Never auto-corrects.
	DetectDiscrepancy(ctx context.Context, accountID string) (*DiscrepancyReport, error)
	ListTransactions(ctx context.Context, params LedgerListParams) ([]domain.Transaction, string, error)
	ListSuspiciousRegistrations(ctx context.Context, minScore int) ([]domain.RegistrationRecord, error)
}

// AccountSummary is the per-account dashboard view.
type AccountSummary struct {
	AccountID        string          `json:"account_id"`
	Balance          decimal.Decimal `json:"balance"`
	TotalPurchased   decimal.Decimal `json:"total_purchased"`
	TransactionCount int64           `json:"transaction_count"`
}

// DiscrepancyReport compares the stored balance with the recomputed sum.
type DiscrepancyReport struct {
	AccountID       string          `json:"account_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Difference      decimal.Decimal `json:"difference"`
	Consistent      bool            `json:"consistent"`
}

// --- Admin auth tokens ---

// TokenService handles admin JWT operations. Authorization policy lives with
// the external admin collaborator; this only verifies and extracts identity.
type TokenService interface {
	Generate(adminID string) (string, time.Time, error)
	Validate(tokenString string) (*AdminClaims, error)
}

// AdminClaims holds the parsed admin JWT claims.
type AdminClaims struct {
	AdminID string
}

// --- Caching ---

// IdempotencyCache is the Redis fast path in front of the ledger's unique
// index. Best-effort: a miss or error falls through to the database check.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// --- Health ---

// HealthChecker verifies connectivity to one backing dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}
