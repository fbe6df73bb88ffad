package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

type meResponse struct {
	TenantID string `json:"tenantId"`
	IsGuest  bool   `json:"isGuest"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// registerMeRoutes attaches /me. With a ledger the caller's plan tier is
// included; a ledger failure only drops the field.
func registerMeRoutes(rg *gin.RouterGroup, ledger *quota.Ledger) {
	rg.GET("/me", func(c *gin.Context) {
		tenantID := middleware.TenantIDFromContext(c)
		if tenantID == "" {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "missing or invalid token", nil)
			return
		}
		resp := meResponse{
			TenantID: tenantID,
			IsGuest:  middleware.IsGuest(c),
			Email:    middleware.UserEmailFromContext(c),
			Name:     middleware.UserNameFromContext(c),
		}
		if ledger != nil {
			if u, err := ledger.Usage(c.Request.Context(), tenantID); err == nil {
				resp.Tier = u.Tier
			}
		}
		respond.OK(c, resp)
	})
}
