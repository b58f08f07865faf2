package http

import (
	"github.com/gin-gonic/gin"

	"compliance-doc-engine/internal/bootstrap"
	"compliance-doc-engine/internal/transport/http/handler"
	"compliance-doc-engine/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(
		app.IngestService,
		int64(app.Config.Ingest.MaxFileMB)<<20,
		handler.UploadDefaults{
			ChunkSize:    app.Config.Ingest.DefaultChunkSize,
			ChunkOverlap: app.Config.Ingest.DefaultChunkOverlap,
			Strategy:     app.Config.Ingest.DefaultStrategy,
		},
	)
	queryHandler := handler.NewQueryHandler(app.QueryService)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity(app.Config.Auth.JWTSecret))

	docs := v1.Group("/documents")
	docs.POST("", documentHandler.Upload)
	docs.GET("", documentHandler.List)
	docs.GET("/:id", documentHandler.Get)
	docs.GET("/:id/status", documentHandler.Status)
	docs.POST("/:id/reprocess", documentHandler.Reprocess)
	docs.DELETE("/:id", documentHandler.Delete)

	v1.POST("/query", queryHandler.Search)

	return router
}
