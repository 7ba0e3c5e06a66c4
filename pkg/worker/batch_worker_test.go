package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

type fakeService struct {
	handled []string
	err     error
}

func (s *fakeService) SubmitBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchTask, error) {
	return nil, nil
}

func (s *fakeService) HandleBatch(ctx context.Context, task *queue.Task) error {
	s.handled = append(s.handled, task.ID)
	return s.err
}

func (s *fakeService) GetBatchStatus(ctx context.Context, taskID string) (*models.BatchTask, error) {
	return nil, nil
}

func (s *fakeService) CancelBatch(ctx context.Context, taskID string) error { return nil }

func (s *fakeService) ListDocuments(ctx context.Context, root string) ([]string, error) {
	return nil, nil
}

func newTestWorker(svc document.DocumentProcessor) *BatchWorker {
	return &BatchWorker{
		BaseWorker: BaseWorker{logger: logger.NewNop(), mux: asynq.NewServeMux(), stopChan: make(chan struct{})},
		docService: svc,
	}
}

func batchTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.Task{
		ID:      id,
		Type:    queue.TaskTypeBatchProcess,
		Payload: json.RawMessage(`{"root":"/data"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(queue.TaskTypeBatchProcess, payload)
}

func TestHandleBatchProcess(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "success"},
		{name: "transient failure", err: errors.New("redis down"), wantErr: true},
		{name: "cancelled", err: context.Canceled, wantErr: true, skipRetry: true},
		{name: "invalid request", err: document.ErrInvalidRequest, wantErr: true, skipRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			err := newTestWorker(svc).handleBatchProcess(context.Background(), batchTask(t, "t1"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, asynq.SkipRetry) != tt.skipRetry {
				t.Errorf("SkipRetry = %v, want %v", errors.Is(err, asynq.SkipRetry), tt.skipRetry)
			}
			if len(svc.handled) != 1 || svc.handled[0] != "t1" {
				t.Errorf("handled = %v", svc.handled)
			}
		})
	}
}

func TestHandleBatchProcessRejectsBadPayload(t *testing.T) {
	svc := &fakeService{}
	w := newTestWorker(svc)
	for _, payload := range []string{"not json", `{"id":""}`} {
		err := w.handleBatchProcess(context.Background(), asynq.NewTask(queue.TaskTypeBatchProcess, []byte(payload)))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("payload %q: err = %v, want SkipRetry", payload, err)
		}
	}
	if len(svc.handled) != 0 {
		t.Errorf("handled = %v", svc.handled)
	}
}

func TestNewBatchWorkerRequiresRedis(t *testing.T) {
	if _, err := NewBatchWorker(&Config{}, &fakeService{}, logger.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}
