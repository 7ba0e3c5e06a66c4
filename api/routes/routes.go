package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-batch-ocr/api/handlers"
	"github.com/feichai0017/pdf-batch-ocr/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string) {
	// 全局中间件
	r.Use(middleware.CORS(allowedOrigins))

	// API 版本组
	v1 := r.Group("/api/v1")

	// 健康检查
	v1.GET("/health", handlers.HealthCheck)

	// 批处理路由组
	batches := v1.Group("/batches")
	{
		batches.POST("", h.Batch.SubmitBatch)
		batches.GET("/:taskId", h.Batch.GetBatch)
		batches.GET("/:taskId/summary", h.Batch.GetSummary)
		batches.DELETE("/:taskId", h.Batch.CancelBatch)
	}

	v1.GET("/documents", h.Batch.ListDocuments)
}
