package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Kamar-Folarin/commerce-sync/docs"
)

// @title Commerce Sync API
// @version 1.0
// @description Job orchestration for commerce platform synchronization
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// SetupRouter configures the API routes
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.Health)

		scoped := v1.Group("", requireIdentity())
		{
			scoped.POST("/integrations/:id/sync", h.TriggerSync)

			jobs := scoped.Group("/jobs")
			{
				jobs.GET("", h.ListJobs)
				jobs.GET("/:id", h.GetJob)
				jobs.POST("/:id/retry", h.RetryJob)
				jobs.POST("/:id/cancel", h.CancelJob)
				jobs.GET("/:id/conflicts", h.ListConflicts)
			}

			scoped.POST("/conflicts/:id/resolve", h.ResolveConflict)
		}
	}

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Organization-ID, X-User-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
