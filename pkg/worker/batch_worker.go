package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

// BatchWorker consumes batch tasks from the queue and runs them through the
// document service.
type BatchWorker struct {
	BaseWorker
	docService document.DocumentProcessor
}

func NewBatchWorker(cfg *Config, docService document.DocumentProcessor, log logger.Logger) (*BatchWorker, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	w := &BatchWorker{
		BaseWorker: BaseWorker{
			server:   newServer(cfg, log),
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		docService: docService,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *BatchWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeBatchProcess, w.handleBatchProcess)
}

func (w *BatchWorker) handleBatchProcess(ctx context.Context, t *asynq.Task) error {
	// 反序列化任务
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w: %w", err, asynq.SkipRetry)
	}

	// 检查必要字段
	if task.ID == "" || len(task.Payload) == 0 {
		w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}

	w.logger.Info("Processing batch task", logger.String("taskId", task.ID))
	w.writeResult(t, fmt.Sprintf(`{"status":"running","taskId":%q}`, task.ID))

	err := w.docService.HandleBatch(ctx, &task)
	switch {
	case err == nil:
		w.writeResult(t, fmt.Sprintf(`{"status":"completed","taskId":%q}`, task.ID))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, document.ErrInvalidRequest):
		// 取消或无效请求不重试
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		w.writeResult(t, fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))
		return err
	}
}

// writeResult stores a short status blob on the asynq task. Tasks built
// outside a server have no result writer.
func (w *BatchWorker) writeResult(t *asynq.Task, data string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if _, err := rw.Write([]byte(data)); err != nil {
		w.logger.Error("Failed to write task result", logger.Error(err))
	}
}

func (w *BatchWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
