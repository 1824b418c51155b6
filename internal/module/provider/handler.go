package provider

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/routepay/server/internal/module/auth"
	apperrors "github.com/routepay/server/internal/shared/errors"
	"github.com/routepay/server/internal/shared/response"
)

// Handler exposes provider availability and per-merchant credential
// management for the dashboard.
type Handler struct {
	credentials *CredentialService
	resolver    *Resolver
}

// NewHandler creates a new provider handler.
func NewHandler(credentials *CredentialService, resolver *Resolver) *Handler {
	return &Handler{credentials: credentials, resolver: resolver}
}

// RegisterRoutes registers the dashboard provider routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	providers := r.Group("/providers")
	{
		providers.GET("", h.List)
		providers.GET("/:provider/credentials", h.ListCredentials)
		providers.PUT("/:provider/credentials", h.UpsertCredentials)
		providers.DELETE("/:provider/credentials", h.DisableCredentials)
	}
}

// UpsertCredentialsRequest is the body of PUT /providers/:provider/credentials.
type UpsertCredentialsRequest struct {
	Enabled *bool             `json:"enabled"`
	Config  map[string]string `json:"config"`
}

// List returns the merchant's availability view of every provider.
func (h *Handler) List(c *gin.Context) {
	merchantID, ok := auth.MerchantID(c)
	if !ok {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return
	}

	statuses, err := h.resolver.ListForMerchant(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses})
}

// ListCredentials returns the masked credential view for one provider.
func (h *Handler) ListCredentials(c *gin.Context) {
	merchantID, p, ok := h.identify(c)
	if !ok {
		return
	}

	views, err := h.credentials.List(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, view := range views {
		if view.Provider == p {
			c.JSON(http.StatusOK, view)
			return
		}
	}
	response.Error(c, apperrors.NotFound("provider credential"))
}

// UpsertCredentials merges new credential values for a provider.
func (h *Handler) UpsertCredentials(c *gin.Context) {
	merchantID, p, ok := h.identify(c)
	if !ok {
		return
	}

	var req UpsertCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.credentials.Upsert(c.Request.Context(), merchantID, p, req.Enabled, req.Config)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DisableCredentials turns a provider off for the merchant without
// discarding its stored configuration.
func (h *Handler) DisableCredentials(c *gin.Context) {
	merchantID, p, ok := h.identify(c)
	if !ok {
		return
	}

	view, err := h.credentials.Disable(c.Request.Context(), merchantID, p)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) identify(c *gin.Context) (uuid.UUID, Provider, bool) {
	merchantID, found := auth.MerchantID(c)
	if !found {
		response.ErrorMessage(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant identity")
		return uuid.Nil, "", false
	}
	p := Provider(c.Param("provider"))
	if !p.Valid() {
		response.Error(c, apperrors.BadRequest("unknown provider"))
		return uuid.Nil, "", false
	}
	return merchantID, p, true
}
