package retrieval

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/shared/server/middleware"
	"litigation-backend/internal/shared/server/respond"
	"litigation-backend/internal/shared/util"
	"litigation-backend/internal/tokens"
)

// Handler wires HTTP handlers to the retrieval service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document task routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/document-tasks", h.submit)
	rg.GET("/document-tasks/:id", h.get)
	rg.POST("/document-tasks/:id/execute", h.execute)
}

type submitRequest struct {
	TaskRef string `json:"taskRef"`
	CaseRef string `json:"caseRef"`
	Account string `json:"account"`
}

func (h *Handler) submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	task, err := h.Svc.Submit(requestContext(c), SubmitInput{
		TaskRef: body.TaskRef,
		CaseRef: body.CaseRef,
		Account: body.Account,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit document task", nil)
		return
	}
	c.Set("taskId", task.ID)
	respond.Accepted(c, "/api/v1/document-tasks/"+task.ID, gin.H{
		"taskId": task.ID,
		"status": task.Status,
	})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("taskId", id)

	summary, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "document task not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document task", nil)
		return
	}
	respond.JSON(c, http.StatusOK, summary)
}

func (h *Handler) execute(c *gin.Context) {
	id := c.Param("id")
	c.Set("taskId", id)

	_, err := h.Svc.Execute(requestContext(c), id)
	if err != nil {
		var both *FallbackFailedError
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document task not found", nil)
		case errors.Is(err, ErrNoTokenAvailable):
			respond.Error(c, http.StatusServiceUnavailable, "credential_unavailable", "no account could provide a valid token", tokens.FailureDetails(err))
		case errors.As(err, &both):
			respond.Error(c, http.StatusBadGateway, "documents_unavailable", "interception and fallback both failed", map[string]string{
				"interception": both.Interception.Error(),
				"fallback":     both.Fallback.Error(),
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to execute document task", nil)
		}
		return
	}
	h.get(c)
}

func requestContext(c *gin.Context) context.Context {
	return util.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}
