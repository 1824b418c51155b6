package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles incoming provider webhooks. These routes are
// unauthenticated; each provider's signature scheme gates processing.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripe)
	r.POST("/adyen", h.HandleAdyen)
}

// HandleStripe handles incoming Stripe webhook events.
func (h *Handler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	err = h.service.ProcessStripeEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			h.logger.Warn("stripe webhook signature rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		if errors.Is(err, ErrUnknownIntent) {
			// Acknowledge so Stripe stops retrying events we will never match.
			h.logger.Warn("stripe webhook for unknown intent", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		h.logger.Error("stripe webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// HandleAdyen handles Adyen standard notification batches. Adyen expects
// the literal accepted body on success.
func (h *Handler) HandleAdyen(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	err = h.service.ProcessAdyenNotification(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			h.logger.Warn("adyen notification signature rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if errors.Is(err, ErrUnknownIntent) {
			h.logger.Warn("adyen notification for unknown intent", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"notificationResponse": "[accepted]"})
			return
		}
		h.logger.Error("adyen notification processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notificationResponse": "[accepted]"})
}
