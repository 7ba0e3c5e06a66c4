package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

type BatchHandler struct {
	service document.DocumentProcessor
	logger  logger.Logger
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DocumentList is the response of a discovery request.
type DocumentList struct {
	Root      string   `json:"root"`
	Count     int      `json:"count"`
	Documents []string `json:"documents"`
}

func NewBatchHandler(service document.DocumentProcessor, logger logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: service,
		logger:  logger,
	}
}

// SubmitBatch 提交批处理任务
func (h *BatchHandler) SubmitBatch(c *gin.Context) {
	var req models.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	task, err := h.service.SubmitBatch(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to submit batch", err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// GetBatch 获取处理状态
func (h *BatchHandler) GetBatch(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	task, err := h.service.GetBatchStatus(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetSummary returns the run summary in the same text form as _batch_summary.txt.
func (h *BatchHandler) GetSummary(c *gin.Context) {
	task, err := h.service.GetBatchStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get status", err)
		return
	}
	if !task.Status.Terminal() {
		h.handleError(c, http.StatusConflict, "Batch has not finished", nil)
		return
	}
	c.String(http.StatusOK, task.Summary.String()+"\n")
}

// CancelBatch 取消处理任务
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	if err := h.service.CancelBatch(c.Request.Context(), taskID); err != nil {
		h.handleError(c, statusFor(err), "Failed to cancel task", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}

// ListDocuments previews which files a batch over ?root= would process.
func (h *BatchHandler) ListDocuments(c *gin.Context) {
	root := c.Query("root")
	if root == "" {
		h.handleError(c, http.StatusBadRequest, "Query parameter root is required", nil)
		return
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), root)
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []string{}
	}
	c.JSON(http.StatusOK, DocumentList{Root: root, Count: len(docs), Documents: docs})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, document.ErrInvalidRequest),
		errors.Is(err, batch.ErrRootNotFound),
		errors.Is(err, models.ErrInvalidPolicy):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrRootNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func (h *BatchHandler) handleError(c *gin.Context, status int, message string, err error) {
	log := h.logger.Warn
	if status >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log(message,
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
