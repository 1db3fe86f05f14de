package dto

import "github.com/shopspring/decimal"

// RedeemVoucherRequest is the request body for voucher redemption.
type RedeemVoucherRequest struct {
	VoucherCode string `json:"voucher_code" binding:"required,min=1,max=64"`
	AccountID   string `json:"account_id" binding:"required,safe_id,max=64"`
}

// RedeemVoucherResponse is the response body for a successful redemption.
type RedeemVoucherResponse struct {
	CreditsAdded decimal.Decimal `json:"credits_added"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

// UsageAuthorizeRequest is the request body for placing a usage hold.
type UsageAuthorizeRequest struct {
	AccountID      string `json:"account_id" binding:"required,safe_id,max=64"`
	EstimatedUnits int    `json:"estimated_units" binding:"required,gt=0"`
	RelatedJobID   string `json:"related_job_id" binding:"required,safe_id,max=100"`
}

// UsageAuthorizeResponse is the response body for a placed hold.
type UsageAuthorizeResponse struct {
	HoldID     string          `json:"hold_id"`
	AmountHeld decimal.Decimal `json:"amount_held"`
	ExpiresAt  string          `json:"expires_at"`
}

// UsageSettleRequest is the request body for settling completed work.
type UsageSettleRequest struct {
	AccountID      string  `json:"account_id" binding:"required,safe_id,max=64"`
	UnitsProcessed int     `json:"units_processed" binding:"gte=0"`
	RelatedJobID   string  `json:"related_job_id" binding:"required,safe_id,max=100"`
	HoldID         *string `json:"hold_id,omitempty" binding:"omitempty,uuid"`
}

// UsageSettleResponse is the response body for a settled job.
type UsageSettleResponse struct {
	CreditsCharged decimal.Decimal `json:"credits_charged"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Flagged        bool            `json:"flagged"`
}

// UsageReleaseRequest is the request body for cancelling a hold.
type UsageReleaseRequest struct {
	HoldID string `json:"hold_id" binding:"required,uuid"`
}

// RegistrationBonusRequest is the request body for awarding the signup bonus.
type RegistrationBonusRequest struct {
	AccountID          string `json:"account_id" binding:"required,safe_id,max=64"`
	IPAddress          string `json:"ip_address" binding:"omitempty,ip"`
	BrowserFingerprint string `json:"browser_fingerprint" binding:"omitempty,max=128"`
	SuspiciousScore    int    `json:"suspicious_score" binding:"gte=0,lte=100"`
}

// RegistrationBonusResponse is the response body for the bonus decision.
type RegistrationBonusResponse struct {
	CreditsAwarded decimal.Decimal `json:"credits_awarded"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Denied         bool            `json:"denied"`
}

// AdminAdjustRequest is the request body for a manual balance adjustment.
type AdminAdjustRequest struct {
	AccountID    string          `json:"account_id" binding:"required,safe_id,max=64"`
	DeltaCredits decimal.Decimal `json:"delta_credits" binding:"required"`
	Description  string          `json:"description" binding:"max=255"`
}

// AdminAdjustResponse is the response body for an applied adjustment.
type AdminAdjustResponse struct {
	PreviousCredits   decimal.Decimal `json:"previous_credits"`
	NewCreditsBalance decimal.Decimal `json:"new_credits_balance"`
}

// CreateVoucherRequest is the request body for minting a voucher.
type CreateVoucherRequest struct {
	Code         string          `json:"code" binding:"required,min=1,max=64"`
	CreditAmount decimal.Decimal `json:"credit_amount" binding:"required"`
	UsageLimit   int             `json:"usage_limit" binding:"required,gt=0"`
	ExpiresAt    *string         `json:"expires_at,omitempty"` // RFC 3339
}

// VoucherResponse is the response body for a created voucher.
type VoucherResponse struct {
	Code         string          `json:"code"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	UsageLimit   int             `json:"usage_limit"`
	ExpiresAt    *string         `json:"expires_at,omitempty"`
}

// TransactionResponse is one ledger entry in API responses.
type TransactionResponse struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Source          string          `json:"source"`
	ExternalEventID *string         `json:"external_event_id,omitempty"`
	Description     string          `json:"description"`
	RelatedJobID    *string         `json:"related_job_id,omitempty"`
	Flagged         bool            `json:"flagged"`
	CreatedAt       string          `json:"created_at"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// OpenNodeChargeRequest is the charge webhook payload OpenNode posts as a
// form; the JSON tags cover deliveries from their newer API versions.
type OpenNodeChargeRequest struct {
	ID          string `form:"id" json:"id" binding:"required"`
	Status      string `form:"status" json:"status" binding:"required"`
	OrderID     string `form:"order_id" json:"order_id"`
	HashedOrder string `form:"hashed_order" json:"hashed_order" binding:"required"`
}

// WebhookAckResponse acknowledges a processed webhook delivery.
type WebhookAckResponse struct {
	Received bool `json:"received"`
}

// SuspiciousRegistrationResponse is one flagged registration record.
type SuspiciousRegistrationResponse struct {
	AccountID          string `json:"account_id"`
	IPAddress          string `json:"ip_address"`
	BrowserFingerprint string `json:"browser_fingerprint"`
	SuspiciousScore    int    `json:"suspicious_score"`
	CreatedAt          string `json:"created_at"`
}
