package conversations

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// Handler exposes conversation history over HTTP.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches conversation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/conversations", h.list)
	rg.POST("/conversations", h.create)
	rg.GET("/conversations/:id", h.get)
	rg.GET("/conversations/:id/messages", h.messages)
}

func (h *Handler) create(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
			return
		}
	}
	conv, err := h.Svc.Create(c.Request.Context(), middleware.TenantIDFromContext(c), req.Title)
	if err != nil {
		writeError(c, err, "failed to create conversation")
		return
	}
	c.Set("conversationId", conv.ID)
	respond.Created(c, ToResponse(conv))
}

func (h *Handler) list(c *gin.Context) {
	limit, offset := paging(c)
	limit, offset = bounds(limit, offset, DefaultListLimit, MaxListLimit)
	convs, err := h.Svc.List(c.Request.Context(), middleware.TenantIDFromContext(c), limit, offset)
	if err != nil {
		writeError(c, err, "failed to list conversations")
		return
	}
	resp := ListResponse{Conversations: make([]ConversationResponse, 0, len(convs)), Limit: limit, Offset: offset}
	for _, conv := range convs {
		resp.Conversations = append(resp.Conversations, ToResponse(conv))
	}
	respond.OK(c, resp)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("conversationId", id)
	tenantID := middleware.TenantIDFromContext(c)

	conv, err := h.Svc.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		writeError(c, err, "failed to fetch conversation")
		return
	}
	msgs, err := h.Svc.Messages(c.Request.Context(), tenantID, id, MaxMessagesLimit, 0)
	if err != nil {
		writeError(c, err, "failed to fetch messages")
		return
	}
	respond.OK(c, DetailResponse{ConversationResponse: ToResponse(conv), Messages: toMessages(msgs)})
}

func (h *Handler) messages(c *gin.Context) {
	id := c.Param("id")
	c.Set("conversationId", id)

	limit, offset := paging(c)
	limit, offset = bounds(limit, offset, DefaultMessagesLimit, MaxMessagesLimit)
	msgs, err := h.Svc.Messages(c.Request.Context(), middleware.TenantIDFromContext(c), id, limit, offset)
	if err != nil {
		writeError(c, err, "failed to fetch messages")
		return
	}
	respond.OK(c, MessagesResponse{ConversationID: id, Messages: toMessages(msgs), Limit: limit, Offset: offset})
}

func paging(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "conversation not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, respond.CodeTimeout, "request timed out", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
