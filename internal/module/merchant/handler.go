package merchant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routepay/server/internal/module/auth"
)

// Handler handles HTTP requests for merchant accounts.
type Handler struct {
	service *Service
	jwt     *auth.JWTManager
}

// NewHandler creates a new merchant handler.
func NewHandler(service *Service, jwt *auth.JWTManager) *Handler {
	return &Handler{service: service, jwt: jwt}
}

// RegisterRoutes registers the public merchant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	merchants := r.Group("/merchants")
	{
		merchants.POST("/register", h.Register)
		merchants.POST("/login", h.Login)
	}
}

// RegisterProtectedRoutes registers routes that require a dashboard session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	merchants := r.Group("/merchants")
	{
		merchants.GET("/me", h.GetCurrent)
		merchants.POST("/me/api-key/rotate", h.RotateAPIKey)
		merchants.GET("/me/routing", h.GetRoutingOverrides)
		merchants.PUT("/me/routing", h.UpdateRoutingOverrides)
	}
}

// Register handles merchant registration.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, apiKey, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"merchant": m.ToResponse(),
		// Shown once. Only the hash is kept.
		"api_key": apiKey,
	})
}

// Login handles merchant dashboard login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handleError(c, err)
		return
	}

	token, expiresAt, err := h.jwt.GenerateAccessToken(m.ID, m.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchant":     m.ToResponse(),
		"access_token": token,
		"expires_at":   expiresAt,
	})
}

// GetCurrent returns the authenticated merchant.
func (h *Handler) GetCurrent(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	m, err := h.service.Get(c.Request.Context(), merchantID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.ToResponse())
}

// RotateAPIKey issues a fresh API key for the merchant.
func (h *Handler) RotateAPIKey(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	apiKey, err := h.service.RotateAPIKey(c.Request.Context(), merchantID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": apiKey})
}

// GetRoutingOverrides returns the merchant's routing overrides.
func (h *Handler) GetRoutingOverrides(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	overrides, err := h.service.RoutingOverrides(c.Request.Context(), merchantID)
	if err != nil {
		handleError(c, err)
		return
	}
	if overrides == nil {
		overrides = map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// UpdateRoutingOverrides replaces the merchant's routing overrides.
func (h *Handler) UpdateRoutingOverrides(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req UpdateRoutingOverridesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.UpdateRoutingOverrides(c.Request.Context(), merchantID, req.Overrides); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": req.Overrides})
}

// handleError maps module errors to HTTP responses.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMerchantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "merchant not found"})
	case errors.Is(err, ErrEmailAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidAPIKey):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, ErrMerchantSuspended):
		c.JSON(http.StatusForbidden, gin.H{"error": "merchant suspended"})
	case errors.Is(err, ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
