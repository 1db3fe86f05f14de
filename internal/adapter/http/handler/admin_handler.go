package handler

import (
	"strconv"
	"time"

	"subtitle-credit-ledger/internal/adapter/http/dto"
	"subtitle-credit-ledger/internal/adapter/http/middleware"
	"subtitle-credit-ledger/internal/core/domain"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"
	"subtitle-credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles the admin-facing adjustment and reporting endpoints.
type AdminHandler struct {
	adminSvc     ports.AdminService
	reportingSvc ports.ReportingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(adminSvc ports.AdminService, reportingSvc ports.ReportingService) *AdminHandler {
	return &AdminHandler{
		adminSvc:     adminSvc,
		reportingSvc: reportingSvc,
	}
}

// Adjust handles POST /api/v1/admin/adjustments. The acting admin comes from
// the verified token, never the request body.
func (h *AdminHandler) Adjust(c *gin.Context) {
	adminID, ok := c.Get(middleware.CtxAdminID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.AdminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.adminSvc.Adjust(c.Request.Context(), ports.AdminAdjustRequest{
		AccountID:     req.AccountID,
		DeltaCredits:  req.DeltaCredits,
		Description:   req.Description,
		AdminIdentity: adminID.(string),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AdminAdjustResponse{
		PreviousCredits:   result.PreviousCredits,
		NewCreditsBalance: result.NewCreditsBalance,
	})
}

// GetAccountSummary handles GET /api/v1/accounts/:id/summary.
func (h *AdminHandler) GetAccountSummary(c *gin.Context) {
	summary, err := h.reportingSvc.GetAccountSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// GetDiscrepancy handles GET /api/v1/accounts/:id/discrepancy.
func (h *AdminHandler) GetDiscrepancy(c *gin.Context) {
	report, err := h.reportingSvc.DetectDiscrepancy(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// ListTransactions handles GET /api/v1/accounts/:id/transactions.
func (h *AdminHandler) ListTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	txns, next, err := h.reportingSvc.ListTransactions(c.Request.Context(), ports.LedgerListParams{
		AccountID: c.Param("id"),
		Limit:     limit,
		Cursor:    c.Query("cursor"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.TransactionListResponse{
		Transactions: make([]dto.TransactionResponse, 0, len(txns)),
		NextCursor:   next,
	}
	for i := range txns {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(&txns[i]))
	}
	response.OK(c, resp)
}

// ListSuspiciousRegistrations handles GET /api/v1/admin/registrations.
func (h *AdminHandler) ListSuspiciousRegistrations(c *gin.Context) {
	minScore := 80
	if raw := c.Query("min_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, apperror.Validation("min_score must be an integer"))
			return
		}
		minScore = n
	}

	recs, err := h.reportingSvc.ListSuspiciousRegistrations(c.Request.Context(), minScore)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := make([]dto.SuspiciousRegistrationResponse, 0, len(recs))
	for _, r := range recs {
		resp = append(resp, dto.SuspiciousRegistrationResponse{
			AccountID:          r.AccountID,
			IPAddress:          r.IPAddress,
			BrowserFingerprint: r.BrowserFingerprint,
			SuspiciousScore:    r.SuspiciousScore,
			CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	response.OK(c, resp)
}

func toTransactionResponse(t *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:              t.ID.String(),
		AccountID:       t.AccountID,
		Type:            string(t.Type),
		Amount:          t.Amount,
		BalanceAfter:    t.BalanceAfter,
		Source:          string(t.Source),
		ExternalEventID: t.ExternalEventID,
		Description:     t.Description,
		RelatedJobID:    t.RelatedJobID,
		Flagged:         t.Flagged,
		CreatedAt:       t.CreatedAt.UTC().Format(time.RFC3339),
	}
}
