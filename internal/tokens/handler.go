package tokens

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/shared/server/respond"
	"litigation-backend/internal/shared/util"
)

// Handler exposes token state to operators. Token values never leave the process.
type Handler struct {
	Mgr *Manager
}

// NewHandler constructs a Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{Mgr: mgr}
}

// RegisterRoutes attaches token routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tokens/:site", h.status)
	rg.POST("/tokens/:site/resolve", h.resolve)
	rg.POST("/tokens/:site/accounts/:account/abandon", h.abandon)
}

type resolveRequest struct {
	Account string `json:"account"`
}

type resolveResponse struct {
	Site        string    `json:"site"`
	Account     string    `json:"account"`
	Fingerprint string    `json:"fingerprint"`
	Masked      string    `json:"masked"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *Handler) status(c *gin.Context) {
	accounts, err := h.Mgr.Status(c.Request.Context(), c.Param("site"))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read token status", nil)
		return
	}
	respond.OK(c, gin.H{"site": c.Param("site"), "accounts": accounts})
}

// resolve returns a valid token's identity, logging in when needed. The request
// blocks for as long as an interactive login may take.
func (h *Handler) resolve(c *gin.Context) {
	var body resolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}
	site := c.Param("site")
	tok, err := h.Mgr.Resolve(c.Request.Context(), site, body.Account)
	if err != nil {
		if errors.Is(err, ErrCredentialUnavailable) {
			respond.Error(c, http.StatusServiceUnavailable, "credential_unavailable", "no account could provide a valid token", FailureDetails(err))
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve token", nil)
		return
	}
	respond.OK(c, resolveResponse{
		Site:        tok.Site,
		Account:     tok.Account,
		Fingerprint: util.Fingerprint(tok.Value),
		Masked:      util.MaskToken(tok.Value),
		IssuedAt:    tok.IssuedAt,
		ExpiresAt:   tok.ExpiresAt,
	})
}

func (h *Handler) abandon(c *gin.Context) {
	site, account := c.Param("site"), c.Param("account")
	respond.OK(c, gin.H{
		"site":      site,
		"account":   account,
		"abandoned": h.Mgr.Abandon(site, account),
	})
}
