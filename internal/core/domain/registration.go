package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegistrationRecord captures the fraud signals used to size a one-time
// registration bonus. Written once per account, never mutated afterwards.
type RegistrationRecord struct {
	AccountID          string          `json:"account_id"`
	IPAddress          string          `json:"ip_address"`
	BrowserFingerprint string          `json:"browser_fingerprint"`
	SuspiciousScore    int             `json:"suspicious_score"` // 0..100, computed by the external fraud scorer
	CreditsAwarded     decimal.Decimal `json:"credits_awarded"`
	CreatedAt          time.Time       `json:"created_at"`
}
