package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litigation-backend/internal/services/health"
	"litigation-backend/internal/shared/auth"
	"litigation-backend/internal/shared/config"
)

func TestHealthAndMetricsAreOpen(t *testing.T) {
	r := NewRouter(RouterDeps{Config: config.Config{ServiceSecret: "s3cret"}})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "quote_requests_total")
}

func TestHealthReportsNotReady(t *testing.T) {
	r := NewRouter(RouterDeps{Health: health.NewService(health.Check{
		Name: "database",
		Fn:   func(ctx context.Context) error { return errors.New("database unreachable") },
	})})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), `"database":"database unreachable"`)
}

func TestSecuredRoutesRequireServiceToken(t *testing.T) {
	secret := []byte("s3cret")
	r := NewRouter(RouterDeps{Config: config.Config{ServiceSecret: string(secret)}})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token, err := auth.SignJWT(secret, "case-service", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"caller":"case-service"`)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Addr(""))
	assert.Equal(t, ":9000", Addr("9000"))
	assert.Equal(t, ":9000", Addr(":9000"))
}
