package handler

import (
	"time"

	"subtitle-credit-ledger/internal/adapter/http/dto"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"
	"subtitle-credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// VoucherHandler handles voucher redemption and administration.
type VoucherHandler struct {
	voucherSvc ports.VoucherService
}

// NewVoucherHandler creates a new VoucherHandler.
func NewVoucherHandler(voucherSvc ports.VoucherService) *VoucherHandler {
	return &VoucherHandler{voucherSvc: voucherSvc}
}

// Redeem handles POST /api/v1/vouchers/redeem.
func (h *VoucherHandler) Redeem(c *gin.Context) {
	var req dto.RedeemVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.voucherSvc.Redeem(c.Request.Context(), req.VoucherCode, req.AccountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RedeemVoucherResponse{
		CreditsAdded: result.CreditsAdded,
		NewBalance:   result.NewBalance,
	})
}

// Create handles POST /api/v1/admin/vouchers.
func (h *VoucherHandler) Create(c *gin.Context) {
	var req dto.CreateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			response.Error(c, apperror.Validation("expires_at must be RFC 3339"))
			return
		}
		expiresAt = &t
	}

	voucher, err := h.voucherSvc.Create(c.Request.Context(), ports.CreateVoucherRequest{
		Code:         req.Code,
		CreditAmount: req.CreditAmount,
		UsageLimit:   req.UsageLimit,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.VoucherResponse{
		Code:         voucher.Code,
		CreditAmount: voucher.CreditAmount,
		UsageLimit:   voucher.UsageLimit,
	}
	if voucher.ExpiresAt != nil {
		s := voucher.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	response.Created(c, resp)
}
