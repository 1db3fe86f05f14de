package handler

import (
	"subtitle-credit-ledger/internal/adapter/http/dto"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"
	"subtitle-credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// BonusHandler handles the one-time registration bonus endpoint.
type BonusHandler struct {
	bonusSvc ports.BonusService
}

// NewBonusHandler creates a new BonusHandler.
func NewBonusHandler(bonusSvc ports.BonusService) *BonusHandler {
	return &BonusHandler{bonusSvc: bonusSvc}
}

// Award handles POST /api/v1/registrations/bonus. A denied bonus is still a
// 200; the decision is the payload, not an error.
func (h *BonusHandler) Award(c *gin.Context) {
	var req dto.RegistrationBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.bonusSvc.Award(c.Request.Context(), ports.BonusRequest{
		AccountID:          req.AccountID,
		IPAddress:          req.IPAddress,
		BrowserFingerprint: req.BrowserFingerprint,
		SuspiciousScore:    req.SuspiciousScore,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RegistrationBonusResponse{
		CreditsAwarded: result.CreditsAwarded,
		NewBalance:     result.NewBalance,
		Denied:         result.Denied,
	})
}
