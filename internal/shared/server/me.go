package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/shared/server/middleware"
	"resume-ingest/internal/shared/server/respond"
)

// registerMeRoutes attaches the /me endpoint.
func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

// meHandler echoes the identity batches and checkpoints are scoped to.
func meHandler(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "missing or invalid token", nil)
		return
	}
	respond.OK(c, gin.H{
		"userId": userID,
		"guest":  c.GetBool("isGuest"),
	})
}
