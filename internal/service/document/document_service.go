package document

import (
	"context"

	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

type DocumentProcessor interface {
	SubmitBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchTask, error)
	HandleBatch(ctx context.Context, task *queue.Task) error
	GetBatchStatus(ctx context.Context, taskID string) (*models.BatchTask, error)
	CancelBatch(ctx context.Context, taskID string) error
	ListDocuments(ctx context.Context, root string) ([]string, error)
}
