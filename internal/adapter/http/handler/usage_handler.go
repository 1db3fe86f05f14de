package handler

import (
	"time"

	"subtitle-credit-ledger/internal/adapter/http/dto"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"
	"subtitle-credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UsageHandler handles the reserve-then-commit usage billing endpoints.
type UsageHandler struct {
	usageSvc ports.UsageService
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usageSvc ports.UsageService) *UsageHandler {
	return &UsageHandler{usageSvc: usageSvc}
}

// Authorize handles POST /api/v1/usage/authorize.
func (h *UsageHandler) Authorize(c *gin.Context) {
	var req dto.UsageAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	hold, err := h.usageSvc.Authorize(c.Request.Context(), ports.UsageAuthRequest{
		AccountID:      req.AccountID,
		EstimatedUnits: req.EstimatedUnits,
		RelatedJobID:   req.RelatedJobID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.UsageAuthorizeResponse{
		HoldID:     hold.ID.String(),
		AmountHeld: hold.Amount,
		ExpiresAt:  hold.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Settle handles POST /api/v1/usage/settle.
func (h *UsageHandler) Settle(c *gin.Context) {
	var req dto.UsageSettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var holdID *uuid.UUID
	if req.HoldID != nil {
		id, err := uuid.Parse(*req.HoldID)
		if err != nil {
			response.Error(c, apperror.Validation("hold_id must be a UUID"))
			return
		}
		holdID = &id
	}

	result, err := h.usageSvc.Settle(c.Request.Context(), ports.UsageSettleRequest{
		AccountID:      req.AccountID,
		UnitsProcessed: req.UnitsProcessed,
		RelatedJobID:   req.RelatedJobID,
		HoldID:         holdID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.UsageSettleResponse{
		CreditsCharged: result.CreditsCharged,
		NewBalance:     result.NewBalance,
		Flagged:        result.Flagged,
	})
}

// Release handles POST /api/v1/usage/release.
func (h *UsageHandler) Release(c *gin.Context) {
	var req dto.UsageReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	holdID, err := uuid.Parse(req.HoldID)
	if err != nil {
		response.Error(c, apperror.Validation("hold_id must be a UUID"))
		return
	}

	if err := h.usageSvc.Release(c.Request.Context(), holdID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"released": true})
}
