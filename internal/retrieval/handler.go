package retrieval

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// Handler exposes the query gateway over HTTP.
type Handler struct {
	Gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{Gateway: g}
}

// RegisterRoutes attaches /query and its /chat alias.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/query", h.query)
	rg.POST("/chat", h.query)
}

type QueryRequest struct {
	ConversationID string `json:"conversationId"`
	// LegacyConversationID accepts the snake_case field older clients send.
	LegacyConversationID string `json:"conversation_id"`
	Question             string `json:"question"`
}

type QueryResponse struct {
	ConversationID string                 `json:"conversationId"`
	Answer         string                 `json:"answer"`
	Sources        []conversations.Source `json:"sources"`
	Usage          quota.Usage            `json:"usage"`
}

func (h *Handler) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = req.LegacyConversationID
	}
	if convID != "" {
		c.Set("conversationId", convID)
	}

	ans, err := h.Gateway.Query(c.Request.Context(), Request{
		TenantID:       middleware.TenantIDFromContext(c),
		ConversationID: convID,
		Question:       req.Question,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("conversationId", ans.ConversationID)
	respond.OK(c, QueryResponse{
		ConversationID: ans.ConversationID,
		Answer:         ans.Text,
		Sources:        ans.Sources,
		Usage:          ans.Usage,
	})
}

func writeError(c *gin.Context, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, validation.Error(), nil)
	case errors.Is(err, quota.ErrQuotaExceeded):
		exceeded, _ := quota.AsExceeded(err)
		respond.Error(c, http.StatusForbidden, respond.CodeQuotaExceeded, exceeded.Error(), exceeded.Details())
	case errors.Is(err, conversations.ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "conversation not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, respond.CodeTimeout, "request timed out", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to answer question", nil)
	}
}
