package intent

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/routepay/server/internal/module/auth"
	"github.com/routepay/server/internal/module/provider"
	apperrors "github.com/routepay/server/internal/shared/errors"
	"github.com/routepay/server/internal/shared/middleware"
	"github.com/routepay/server/internal/shared/response"
)

// IdempotencyKeyHeader carries the client's idempotency key on create.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler handles HTTP requests for payment intents.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment intent handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the API-key protected payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	intents := r.Group("/payment-intents")
	{
		intents.POST("", h.Create)
		intents.GET("", h.List)
		intents.GET("/:id", h.Get)
		intents.GET("/:id/checkout-config", h.GetCheckoutConfig)
		intents.POST("/:id/reroute", h.Reroute)
		intents.POST("/:id/refund", h.Refund)
		intents.POST("/:id/demo/authorize", h.DemoAuthorize)
		intents.POST("/:id/demo/cancel", h.DemoCancel)
	}
}

// RegisterAdminRoutes registers dashboard-facing routing inspection routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/routing/decisions", h.SearchDecisions)
}

// Create handles POST /payment-intents.
func (h *Handler) Create(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.Create(c.Request.Context(), merchantID, CreateCommand{
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		Preference:  provider.Preference(req.ProviderPreference),
	}, c.GetHeader(IdempotencyKeyHeader), middleware.GetRequestID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, created.ToResponse())
}

// Get handles GET /payment-intents/:id. With ?include=checkout_config the
// stored checkout config is attached.
func (h *Handler) Get(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	if c.Query("include") == "checkout_config" {
		created, err := h.service.GetWithCheckoutConfig(c.Request.Context(), merchantID, intentID)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, created.ToResponse())
		return
	}

	pi, err := h.service.Get(c.Request.Context(), merchantID, intentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, pi.ToResponse())
}

// GetCheckoutConfig handles GET /payment-intents/:id/checkout-config.
func (h *Handler) GetCheckoutConfig(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	created, err := h.service.GetWithCheckoutConfig(c.Request.Context(), merchantID, intentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_intent_id": created.PaymentIntent.ID,
		"checkout_config":   created.CheckoutConfig,
	})
}

// List handles GET /payment-intents with optional status/from/to filters.
func (h *Handler) List(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return
	}

	var status *Status
	if raw := c.Query("status"); raw != "" {
		s := Status(raw)
		status = &s
	}
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}

	intents, err := h.service.List(c.Request.Context(), merchantID, status, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]IntentResponse, 0, len(intents))
	for _, pi := range intents {
		out = append(out, pi.ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"payment_intents": out})
}

// Reroute handles POST /payment-intents/:id/reroute.
func (h *Handler) Reroute(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	var req RerouteRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.Reroute(c.Request.Context(), merchantID, intentID,
		provider.Preference(req.ProviderPreference), middleware.GetRequestID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, created.ToResponse())
}

// Refund handles POST /payment-intents/:id/refund.
func (h *Handler) Refund(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Refund(c.Request.Context(), merchantID, intentID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DemoAuthorize handles POST /payment-intents/:id/demo/authorize.
func (h *Handler) DemoAuthorize(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	var req DemoAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pi, err := h.service.DemoAuthorize(c.Request.Context(), merchantID, intentID, req.Outcome, middleware.GetRequestID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, pi.ToResponse())
}

// DemoCancel handles POST /payment-intents/:id/demo/cancel.
func (h *Handler) DemoCancel(c *gin.Context) {
	merchantID, intentID, ok := h.identify(c)
	if !ok {
		return
	}

	pi, err := h.service.DemoCancel(c.Request.Context(), merchantID, intentID, middleware.GetRequestID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, pi.ToResponse())
}

// SearchDecisions handles GET /admin/routing/decisions.
func (h *Handler) SearchDecisions(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return
	}

	filter := DecisionFilter{MerchantID: &merchantID}
	if raw := c.Query("provider"); raw != "" {
		p := provider.Provider(raw)
		filter.Provider = &p
	}
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}
	filter.From = from
	filter.To = to

	decisions, err := h.service.SearchDecisions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (h *Handler) identify(c *gin.Context) (merchantID, intentID uuid.UUID, ok bool) {
	merchantID, found := auth.MerchantID(c)
	if !found {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return uuid.Nil, uuid.Nil, false
	}
	intentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperrors.BadRequest("invalid payment intent id"))
		return uuid.Nil, uuid.Nil, false
	}
	return merchantID, intentID, true
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.Error(c, apperrors.BadRequest("invalid "+name+" timestamp, expected RFC3339"))
		return nil, false
	}
	return &t, true
}
