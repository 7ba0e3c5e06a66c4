package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

type fakeService struct {
	submitted *models.BatchRequest
	tasks     map[string]*models.BatchTask
	docs      []string
	err       error
}

func (s *fakeService) SubmitBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchTask, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = req
	return &models.BatchTask{ID: "t1", Status: models.StatusPending, Root: req.Root}, nil
}

func (s *fakeService) HandleBatch(ctx context.Context, task *queue.Task) error { return nil }

func (s *fakeService) GetBatchStatus(ctx context.Context, taskID string) (*models.BatchTask, error) {
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("failed to get task status: %w", queue.ErrTaskNotFound)
	}
	return task, nil
}

func (s *fakeService) CancelBatch(ctx context.Context, taskID string) error {
	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("failed to cancel task: %w", queue.ErrTaskNotFound)
	}
	return nil
}

func (s *fakeService) ListDocuments(ctx context.Context, root string) ([]string, error) {
	return s.docs, s.err
}

func newRouter(svc document.DocumentProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(svc, logger.NewNop())
	r := gin.New()
	r.POST("/batches", h.Batch.SubmitBatch)
	r.GET("/batches/:taskId", h.Batch.GetBatch)
	r.GET("/batches/:taskId/summary", h.Batch.GetSummary)
	r.DELETE("/batches/:taskId", h.Batch.CancelBatch)
	r.GET("/documents", h.Batch.ListDocuments)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitBatch(t *testing.T) {
	svc := &fakeService{}
	w := do(newRouter(svc), http.MethodPost, "/batches", `{"root":"/data/scans","mode":"structure","workers":2}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var task models.BatchTask
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatal(err)
	}
	if task.ID != "t1" || task.Status != models.StatusPending {
		t.Errorf("task = %+v", task)
	}
	if svc.submitted.Mode != models.ModeStructure || svc.submitted.Workers != 2 {
		t.Errorf("submitted = %+v", svc.submitted)
	}
}

func TestSubmitBatchErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing root", `{"mode":"classic"}`, nil, http.StatusBadRequest},
		{"malformed", `{"root":`, nil, http.StatusBadRequest},
		{"invalid request", `{"root":"/x"}`, document.ErrInvalidRequest, http.StatusBadRequest},
		{"root not found", `{"root":"/x"}`, batch.ErrRootNotFound, http.StatusBadRequest},
		{"root not allowed", `{"root":"/x"}`, document.ErrRootNotAllowed, http.StatusForbidden},
		{"queue down", `{"root":"/x"}`, fmt.Errorf("failed to enqueue task: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(&fakeService{err: tt.err}), http.MethodPost, "/batches", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
				t.Errorf("error body = %s", w.Body)
			}
		})
	}
}

func TestGetBatch(t *testing.T) {
	svc := &fakeService{tasks: map[string]*models.BatchTask{
		"done": {
			ID:     "done",
			Status: models.StatusCompleted,
			Summary: models.Summary{
				{Status: models.StatusOK, RelPath: "a.pdf", Pages: 3},
				{Status: models.StatusSkipped, RelPath: "b.pdf"},
			},
		},
		"busy": {ID: "busy", Status: models.StatusRunning},
	}}
	r := newRouter(svc)

	if w := do(r, http.MethodGet, "/batches/done", ""); w.Code != http.StatusOK {
		t.Errorf("GET done = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/batches/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET nope = %d", w.Code)
	}

	w := do(r, http.MethodGet, "/batches/done/summary", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK: a.pdf (3 pages)\nSKIPPED: b.pdf\n" {
		t.Errorf("summary = %d %q", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/batches/busy/summary", ""); w.Code != http.StatusConflict {
		t.Errorf("summary of running batch = %d", w.Code)
	}
}

func TestCancelBatch(t *testing.T) {
	r := newRouter(&fakeService{tasks: map[string]*models.BatchTask{"t1": {ID: "t1"}}})
	if w := do(r, http.MethodDelete, "/batches/t1", ""); w.Code != http.StatusOK {
		t.Errorf("DELETE t1 = %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/batches/t2", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE t2 = %d", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	r := newRouter(&fakeService{docs: []string{"a.pdf", "sub/b.pdf"}})
	w := do(r, http.MethodGet, "/documents?root=/data", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list DocumentList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 || list.Documents[1] != "sub/b.pdf" {
		t.Errorf("list = %+v", list)
	}

	if w := do(r, http.MethodGet, "/documents", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing root = %d", w.Code)
	}
}
