package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/shared/server/middleware"
	"litigation-backend/internal/shared/server/respond"
)

// registerWhoAmIRoute attaches the /whoami endpoint.
func registerWhoAmIRoute(rg *gin.RouterGroup) {
	rg.GET("/whoami", whoAmIHandler)
}

func whoAmIHandler(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	if caller == "" {
		caller = "anonymous"
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"caller":    caller,
		"requestId": middleware.RequestIDFromContext(c),
	})
}
