package handler

import (
	"io"

	"subtitle-credit-ledger/internal/adapter/http/dto"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"
	"subtitle-credit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler handles payment provider webhook deliveries. Both providers
// retry failed deliveries, so anything already recorded or irrelevant is
// acknowledged with 200 to stop the retries.
type WebhookHandler struct {
	stripeSvc   ports.StripeReconciler
	openNodeSvc ports.OpenNodeReconciler
	log         zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(stripeSvc ports.StripeReconciler, openNodeSvc ports.OpenNodeReconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripeSvc:   stripeSvc,
		openNodeSvc: openNodeSvc,
		log:         log,
	}
}

// HandleStripe handles POST /api/v1/webhooks/stripe. The raw body is needed
// for signature verification, so no binding happens here.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	result, err := h.stripeSvc.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Skipped || result.Replayed {
		h.log.Debug().
			Bool("skipped", result.Skipped).
			Bool("replayed", result.Replayed).
			Msg("stripe webhook acknowledged without new credit")
	}
	response.OK(c, dto.WebhookAckResponse{Received: true})
}

// HandleOpenNode handles POST /api/v1/webhooks/opennode.
func (h *WebhookHandler) HandleOpenNode(c *gin.Context) {
	var req dto.OpenNodeChargeRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.openNodeSvc.HandleCharge(c.Request.Context(), ports.OpenNodeCharge{
		ID:          req.ID,
		Status:      req.Status,
		OrderID:     req.OrderID,
		HashedOrder: req.HashedOrder,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Skipped || result.Replayed {
		h.log.Debug().
			Str("charge_id", req.ID).
			Bool("skipped", result.Skipped).
			Bool("replayed", result.Replayed).
			Msg("opennode webhook acknowledged without new credit")
	}
	response.OK(c, dto.WebhookAckResponse{Received: true})
}
