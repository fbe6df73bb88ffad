package quota

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// Handler exposes usage endpoints.
type Handler struct {
	Ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{Ledger: ledger}
}

// RegisterRoutes attaches usage routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.getUsage)
	rg.POST("/usage/reconcile", h.reconcile)
}

// RegisterDevRoutes attaches dev-only usage routes.
func (h *Handler) RegisterDevRoutes(rg *gin.RouterGroup) {
	rg.POST("/usage/reset", h.resetUsage)
	rg.POST("/usage/tier", h.setTier)
}

func (h *Handler) getUsage(c *gin.Context) {
	u, err := h.Ledger.Usage(c.Request.Context(), middleware.TenantIDFromContext(c))
	if err != nil {
		writeError(c, err, "failed to fetch usage")
		return
	}
	respond.OK(c, u)
}

func (h *Handler) reconcile(c *gin.Context) {
	d, err := h.Ledger.Reconcile(c.Request.Context(), middleware.TenantIDFromContext(c), ReconcileOptions{})
	if err != nil {
		writeError(c, err, "failed to reconcile usage")
		return
	}
	respond.OK(c, gin.H{"drift": d, "drifted": d.Drifted()})
}

func (h *Handler) resetUsage(c *gin.Context) {
	u, err := h.Ledger.Reset(c.Request.Context(), middleware.TenantIDFromContext(c))
	if err != nil {
		writeError(c, err, "failed to reset usage")
		return
	}
	respond.OK(c, u)
}

type setTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

func (h *Handler) setTier(c *gin.Context) {
	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "tier is required", nil)
		return
	}
	u, err := h.Ledger.SetTier(c.Request.Context(), middleware.TenantIDFromContext(c), req.Tier)
	if err != nil {
		writeError(c, err, "failed to change tier")
		return
	}
	respond.OK(c, u)
}

func writeError(c *gin.Context, err error, fallback string) {
	if qe, ok := AsExceeded(err); ok {
		respond.Error(c, http.StatusForbidden, respond.CodeQuotaExceeded, qe.Error(), qe.Details())
		return
	}
	switch {
	case errors.Is(err, ErrUnknownTier), errors.Is(err, ErrInvalidAmount):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, respond.CodeTimeout, "request canceled", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
