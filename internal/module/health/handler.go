package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes provider health for operators.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new health handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes registers the admin health routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/routing/health", h.ListSnapshots)
}

// ListSnapshots returns the health view for every provider.
func (h *Handler) ListSnapshots(c *gin.Context) {
	views, err := h.tracker.GetAllSnapshots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load provider health"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}
