package http

import (
	"github.com/gin-gonic/gin"

	"docingest/internal/bootstrap"
	"docingest/internal/transport/http/handler"
)

// NewRouter serves the worker's operational endpoints.
func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/documents/:id", healthHandler.Document)

	return router
}
