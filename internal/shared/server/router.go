package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/quotes"
	"litigation-backend/internal/retrieval"
	"litigation-backend/internal/services/health"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/server/middleware"
	"litigation-backend/internal/shared/server/respond"
	"litigation-backend/internal/tokens"
)

// RouterDeps holds the handlers mounted under /api/v1.
type RouterDeps struct {
	Config          config.Config
	QuoteHandler    *quotes.Handler
	DocumentHandler *retrieval.Handler
	TokenHandler    *tokens.Handler
	// Health backs /api/v1/health; nil means always healthy.
	Health *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		checks, ok := deps.Health.Status(c.Request.Context())
		if !ok {
			respond.Error(c, http.StatusServiceUnavailable, "unavailable", "dependency check failed", checks)
			return
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true, "checks": checks})
	})

	secured := api.Group("")
	if secret := strings.TrimSpace(deps.Config.ServiceSecret); secret != "" {
		secured.Use(middleware.Auth([]byte(secret)))
	}
	secured.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT": {Rate: 20, Burst: 40},
			"EXECUTE": {Rate: 2, Burst: 4},
			"TOKENS":  {Rate: 1, Burst: 2},
		},
		GroupFor: rateLimitGroup,
	}))

	registerWhoAmIRoute(secured)
	if deps.QuoteHandler != nil {
		deps.QuoteHandler.RegisterRoutes(secured)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(secured)
	}
	if deps.TokenHandler != nil {
		deps.TokenHandler.RegisterRoutes(secured)
	}

	return r
}

// rateLimitGroup puts browser-driving endpoints in tighter buckets.
func rateLimitGroup(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case c.Request.Method != http.MethodPost:
		return ""
	case strings.HasSuffix(path, "/execute"), strings.HasSuffix(path, "/retry"):
		return "EXECUTE"
	case strings.HasPrefix(path, "/api/v1/tokens/"):
		return "TOKENS"
	default:
		return ""
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
