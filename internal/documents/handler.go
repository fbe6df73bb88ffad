package documents

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	// multipart framing on top of the file itself
	formOverhead = 1 << 20
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.DELETE("/documents/:id", h.delete)
	rg.POST("/documents/:id/reingest", h.reingest)
}

func (h *Handler) upload(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Svc.maxBytes()+formOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeValidation, "file exceeds maximum upload size", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read file", nil)
		return
	}
	defer file.Close()

	ctx := queue.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	doc, err := h.Svc.Upload(ctx, tenantID, fileHeader.Filename, file)
	if err != nil {
		writeError(c, err, "failed to upload document")
		return
	}

	c.Set("documentId", doc.ID)
	respond.Created(c, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)

	limit := defaultListLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), tenantID, ListOptions{
		Limit:  limit,
		Offset: offset,
		Status: Status(c.Query("status")),
	})
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}

	resp := ListResponse{Documents: make([]DocumentResponse, 0, len(docs)), Limit: limit, Offset: offset}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, toResponse(doc))
	}
	respond.OK(c, resp)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("documentId", id)

	doc, err := h.Svc.Get(c.Request.Context(), middleware.TenantIDFromContext(c), id)
	if err != nil {
		writeError(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	c.Set("documentId", id)

	res, err := h.Svc.Delete(c.Request.Context(), middleware.TenantIDFromContext(c), id)
	if err != nil {
		writeError(c, err, "failed to delete document")
		return
	}
	if res.Pending {
		respond.Accepted(c, DeleteResponse{DocumentID: id, Pending: true})
		return
	}
	respond.OK(c, DeleteResponse{DocumentID: id, Deleted: true})
}

func (h *Handler) reingest(c *gin.Context) {
	id := c.Param("id")
	c.Set("documentId", id)

	ctx := queue.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	doc, err := h.Svc.Reingest(ctx, middleware.TenantIDFromContext(c), id)
	if err != nil {
		writeError(c, err, "failed to reingest document")
		return
	}
	respond.Created(c, toResponse(doc))
}

func writeError(c *gin.Context, err error, fallback string) {
	var validation *ValidationError
	var exceeded *quota.ExceededError
	switch {
	case errors.As(err, &exceeded):
		respond.Error(c, http.StatusForbidden, respond.CodeQuotaExceeded, exceeded.Error(), exceeded.Details())
	case errors.As(err, &validation):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, validation.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "document not found", nil)
	case errors.Is(err, ErrTombstoned):
		respond.Error(c, http.StatusConflict, respond.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrConflict):
		respond.Error(c, http.StatusConflict, respond.CodeConflict, "document is not in a state that allows this action", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, respond.CodeTimeout, "request timed out", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
