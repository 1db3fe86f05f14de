package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Ledger Business Logic (LED) ----

func ErrInvalidAmount() *AppError {
	return New("LED_001", "Amount must be positive", http.StatusBadRequest)
}

func ErrInsufficientCredits() *AppError {
	return New("LED_002", "Insufficient credit balance", http.StatusPaymentRequired)
}

// ErrDuplicateEvent marks a (source, external_event_id) pair already recorded
// in the ledger. It is a storage-layer classification: callers translate it
// into an idempotent replay, never into a user-facing failure.
func ErrDuplicateEvent() *AppError {
	return New("LED_003", "External event already processed", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWriteConflict(err error) *AppError {
	return Wrap("LED_005", "Ledger write conflict, retry the operation", http.StatusServiceUnavailable, err)
}

// ---- Voucher Redemption (VCH) ----

// ErrVoucherInvalid covers both unknown and deactivated codes so probers
// cannot distinguish the two.
func ErrVoucherInvalid() *AppError {
	return New("VCH_001", "Invalid or unknown voucher code", http.StatusNotFound)
}

func ErrVoucherExpired() *AppError {
	return New("VCH_002", "Voucher has expired", http.StatusGone)
}

func ErrVoucherExhausted() *AppError {
	return New("VCH_003", "Voucher usage limit reached", http.StatusConflict)
}

func ErrVoucherAlreadyRedeemed() *AppError {
	return New("VCH_004", "Voucher already redeemed by this account", http.StatusConflict)
}

// ---- Webhook Security (SEC) ----

func ErrInvalidWebhookSignature() *AppError {
	return New("SEC_001", "Webhook signature verification failed", http.StatusBadRequest)
}

// ---- Admin Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("LED_001", message, http.StatusBadRequest)
}
