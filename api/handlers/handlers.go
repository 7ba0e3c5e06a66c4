package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

type Handlers struct {
	Batch *BatchHandler
}

func NewHandlers(
	documentService document.DocumentProcessor,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Batch: NewBatchHandler(documentService, logger),
	}
}

// HealthCheck 健康检查
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
