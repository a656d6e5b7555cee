package http

import (
	_ "embed"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
	"docchat/internal/logging"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
)

//go:embed web/index.html
var indexHTML []byte

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(logging.GinLogger(app.Logger), gin.Recovery(), middleware.Metrics(app.Metrics))
	router.MaxMultipartMemory = 8 << 20

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks())
	router.GET("/", func(c *gin.Context) {
		c.Data(stdhttp.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	documentHandler := handler.NewDocumentHandler(app.Documents, app.Config.App.MaxUploadMB)
	askHandler := handler.NewAskHandler(app.Documents)

	v1 := router.Group("/api/v1")
	docs := v1.Group("/documents")
	docs.GET("", documentHandler.List)
	docs.POST("", documentHandler.Upload)
	docs.GET("/:name/transcript", documentHandler.Transcript)

	v1.POST("/ask", askHandler.Ask)
	v1.POST("/chat", askHandler.Chat)
	v1.POST("/chat/stream", askHandler.ChatStream)

	return router
}
