package quotes

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"litigation-backend/internal/shared/server/middleware"
	"litigation-backend/internal/shared/server/respond"
	"litigation-backend/internal/shared/util"
	"litigation-backend/internal/tokens"
)

// Handler wires HTTP handlers to the quotes service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches quote routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/quotes", h.submit)
	rg.GET("/quotes/:id", h.get)
	rg.POST("/quotes/:id/execute", h.execute)
	rg.POST("/quotes/:id/retry", h.retry)
}

type submitRequest struct {
	CaseRef         string          `json:"caseRef"`
	Amount          decimal.Decimal `json:"amount"`
	InstitutionCode string          `json:"institutionCode"`
	Providers       []string        `json:"providers"`
	Account         string          `json:"account"`
}

func (h *Handler) submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	req, err := h.Svc.Submit(requestContext(c), SubmitInput{
		CaseRef:         body.CaseRef,
		Amount:          body.Amount,
		InstitutionCode: body.InstitutionCode,
		Providers:       body.Providers,
		Account:         body.Account,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrNoProviders):
			respond.Error(c, http.StatusUnprocessableEntity, "no_providers", "no eligible providers configured", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit quote request", nil)
		}
		return
	}
	c.Set("quoteId", req.ID)

	respond.Accepted(c, "/api/v1/quotes/"+req.ID, gin.H{
		"quoteId": req.ID,
		"status":  req.Status,
	})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("quoteId", id)

	summary, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to fetch quote request")
		return
	}
	respond.JSON(c, http.StatusOK, summary)
}

func (h *Handler) execute(c *gin.Context) {
	id := c.Param("id")
	c.Set("quoteId", id)

	if _, err := h.Svc.Execute(requestContext(c), id); err != nil {
		h.fail(c, err, "failed to execute quote request")
		return
	}
	h.get(c)
}

func (h *Handler) retry(c *gin.Context) {
	id := c.Param("id")
	c.Set("quoteId", id)

	if _, err := h.Svc.RetryFailed(requestContext(c), id); err != nil {
		h.fail(c, err, "failed to retry quote request")
		return
	}
	h.get(c)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "quote request not found", nil)
	case errors.Is(err, ErrNoTokenAvailable):
		respond.Error(c, http.StatusServiceUnavailable, "credential_unavailable", "no account could provide a valid token", tokens.FailureDetails(err))
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func requestContext(c *gin.Context) context.Context {
	return util.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}
