package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litigation-backend/internal/browser"
	"litigation-backend/internal/credentials"
)

func setupTokensRouter(mgr *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(mgr).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestResolveOverHTTPNeverReturnsTokenValue(t *testing.T) {
	h := newHarness(t, cred("alice", 0))
	h.driver.behave = func(ctx context.Context, c credentials.Credential) (browser.CapturedToken, error) {
		return browser.CapturedToken{Value: "secret-token-value-123456"}, nil
	}
	router := setupTokensRouter(h.mgr)

	resp := serve(router, http.MethodPost, "/api/v1/tokens/court/resolve", `{"account":"alice"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), "secret-token-value-123456")

	var body resolveResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.Account)
	assert.NotEmpty(t, body.Fingerprint)
	assert.NotEmpty(t, body.Masked)

	resp = serve(router, http.MethodGet, "/api/v1/tokens/court", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"valid":true`)
	assert.NotContains(t, resp.Body.String(), "secret-token-value-123456")
}

func TestResolveOverHTTPReportsUnavailableAccounts(t *testing.T) {
	h := newHarness(t)
	router := setupTokensRouter(h.mgr)

	resp := serve(router, http.MethodPost, "/api/v1/tokens/court/resolve", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "credential_unavailable")
}

func TestAbandonWithoutRefreshInFlight(t *testing.T) {
	h := newHarness(t, cred("alice", 0))
	router := setupTokensRouter(h.mgr)

	resp := serve(router, http.MethodPost, "/api/v1/tokens/court/accounts/alice/abandon", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"abandoned":false`)
}
