package document

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []*queue.Task
	statuses map[string][]queue.TaskStatus
	err      error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{statuses: map[string][]queue.TaskStatus{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, task *queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, task)
	return nil
}

func (q *fakeQueue) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	history := q.statuses[taskID]
	if len(history) == 0 {
		return nil, queue.ErrTaskNotFound
	}
	s := history[len(history)-1]
	return &s, nil
}

func (q *fakeQueue) CancelTask(ctx context.Context, taskID string) error {
	if _, err := q.GetTaskStatus(ctx, taskID); err != nil {
		return err
	}
	return q.SaveStatus(ctx, &queue.TaskStatus{TaskID: taskID, Status: models.StatusCancelled})
}

func (q *fakeQueue) SaveStatus(ctx context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[status.TaskID] = append(q.statuses[status.TaskID], *status)
	return nil
}

type fakeRunner struct {
	gotOpts   batch.Options
	gotPolicy models.Policy
	docs      []string
	err       error
}

func (r *fakeRunner) Run(ctx context.Context, root string, opts batch.Options, policy models.Policy) (*batch.Result, error) {
	r.gotOpts = opts
	r.gotPolicy = policy
	res := &batch.Result{Root: root}
	res.TextRoot, _ = opts.OutputRoots(root)
	for i, d := range r.docs {
		res.Summary = append(res.Summary, models.SummaryEntry{Status: models.StatusOK, RelPath: d, Pages: 1})
		if opts.Progress != nil {
			opts.Progress(batch.Progress{Document: d, Index: i + 1, Total: len(r.docs), Page: 1, Pages: 1})
			opts.Progress(batch.Progress{Document: d, Index: i + 1, Total: len(r.docs), Status: models.StatusOK})
		}
	}
	return res, r.err
}

type memStorage struct {
	objects map[string]string
}

func (m *memStorage) Store(ctx context.Context, r io.Reader, key string, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.objects[key] = string(data)
	return key, nil
}

func newTestService(t *testing.T, runner Runner) (*DocumentService, *fakeQueue) {
	t.Helper()
	q := newFakeQueue()
	return NewService(runner, q, nil, logger.NewNop(), nil), q
}

func TestSubmitBatch(t *testing.T) {
	root := t.TempDir()
	svc, q := newTestService(t, nil)

	task, err := svc.SubmitBatch(context.Background(), &models.BatchRequest{Root: root, Mode: models.ModeStructure})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if task.ID == "" || task.Status != models.StatusPending {
		t.Errorf("task = %+v", task)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].Type != queue.TaskTypeBatchProcess {
		t.Fatalf("enqueued = %+v", q.enqueued)
	}
	if q.enqueued[0].Priority != 2 {
		t.Errorf("priority = %d, want default 2", q.enqueued[0].Priority)
	}

	var req models.BatchRequest
	if err := json.Unmarshal(q.enqueued[0].Payload, &req); err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(req.Root) {
		t.Errorf("payload root %q should be absolute", req.Root)
	}

	status, err := svc.GetBatchStatus(context.Background(), task.ID)
	if err != nil || status.Status != models.StatusPending {
		t.Errorf("GetBatchStatus() = %+v, %v", status, err)
	}
}

func TestSubmitBatchRejects(t *testing.T) {
	root := t.TempDir()
	zero := 0.0
	tests := []struct {
		name string
		req  *models.BatchRequest
		want error
	}{
		{"nil request", nil, ErrInvalidRequest},
		{"missing root", &models.BatchRequest{Root: filepath.Join(root, "nope")}, batch.ErrRootNotFound},
		{"unknown mode", &models.BatchRequest{Root: root, Mode: "fast"}, ErrInvalidRequest},
		{"no formats", &models.BatchRequest{Root: root, Export: &models.ExportOptions{}}, ErrInvalidRequest},
		{"bad scale", &models.BatchRequest{Root: root, RenderScale: &zero}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, q := newTestService(t, nil)
			if _, err := svc.SubmitBatch(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(q.enqueued) != 0 {
				t.Error("rejected request was enqueued")
			}
		})
	}
}

func TestSubmitBatchAllowedRoots(t *testing.T) {
	allowed := t.TempDir()
	inside := filepath.Join(allowed, "scans")
	if err := os.Mkdir(inside, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	svc := NewService(nil, newFakeQueue(), nil, logger.NewNop(), &ServiceConfig{
		Policy:       models.DefaultPolicy(),
		Batch:        batch.DefaultOptions(),
		AllowedRoots: []string{allowed},
	})
	if _, err := svc.SubmitBatch(context.Background(), &models.BatchRequest{Root: inside}); err != nil {
		t.Errorf("root under allowed dir rejected: %v", err)
	}
	if _, err := svc.SubmitBatch(context.Background(), &models.BatchRequest{Root: outside}); !errors.Is(err, ErrRootNotAllowed) {
		t.Errorf("err = %v, want ErrRootNotAllowed", err)
	}
}

func TestHandleBatch(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{docs: []string{"a.pdf", "b.pdf"}}
	svc, q := newTestService(t, runner)

	force := true
	payload, _ := json.Marshal(models.BatchRequest{Root: root, ForceOCR: &force, Workers: 3})
	task := &queue.Task{ID: "t1", Type: queue.TaskTypeBatchProcess, Payload: payload}
	if err := svc.HandleBatch(context.Background(), task); err != nil {
		t.Fatalf("HandleBatch() error = %v", err)
	}

	if !runner.gotPolicy.ForceOCR || runner.gotOpts.Workers != 3 {
		t.Errorf("overrides not applied: policy=%+v workers=%d", runner.gotPolicy, runner.gotOpts.Workers)
	}
	if runner.gotPolicy.MinEmbeddedChars != models.DefaultPolicy().MinEmbeddedChars {
		t.Errorf("unset override changed MinEmbeddedChars to %d", runner.gotPolicy.MinEmbeddedChars)
	}

	history := q.statuses["t1"]
	// running, one update per finished document, completed
	if len(history) != 4 {
		t.Fatalf("status history = %+v", history)
	}
	if history[0].Status != models.StatusRunning || history[1].Progress != 0.5 {
		t.Errorf("history = %+v", history)
	}
	last := history[len(history)-1]
	if last.Status != models.StatusCompleted || len(last.Summary) != 2 || last.Progress != 1.0 {
		t.Errorf("final status = %+v", last)
	}
}

func TestHandleBatchFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ProcessingStatus
	}{
		{"failed", errors.New("disk full"), models.StatusFailed},
		{"cancelled", context.Canceled, models.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, q := newTestService(t, &fakeRunner{err: tt.err})
			payload, _ := json.Marshal(models.BatchRequest{Root: t.TempDir()})
			err := svc.HandleBatch(context.Background(), &queue.Task{ID: "t", Payload: payload})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			status, _ := q.GetTaskStatus(context.Background(), "t")
			if status.Status != tt.want || status.Error == "" {
				t.Errorf("status = %+v", status)
			}
		})
	}
}

func TestHandleBatchWithoutRunner(t *testing.T) {
	svc, _ := newTestService(t, nil)
	payload, _ := json.Marshal(models.BatchRequest{Root: t.TempDir()})
	if err := svc.HandleBatch(context.Background(), &queue.Task{ID: "t", Payload: payload}); err == nil {
		t.Fatal("expected error without a runner")
	}
}

func TestHandleBatchPublish(t *testing.T) {
	root := t.TempDir()
	textRoot := filepath.Join(root, "ocr_results")
	if err := os.MkdirAll(textRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(textRoot, "a_ocr.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &memStorage{objects: map[string]string{}}
	svc := NewService(&fakeRunner{docs: []string{"a.pdf"}}, newFakeQueue(), store, logger.NewNop(), &ServiceConfig{
		Policy:        models.DefaultPolicy(),
		Batch:         batch.DefaultOptions(),
		PublishPrefix: "runs",
	})
	payload, _ := json.Marshal(models.BatchRequest{Root: root, Publish: true})
	if err := svc.HandleBatch(context.Background(), &queue.Task{ID: "t9", Payload: payload}); err != nil {
		t.Fatalf("HandleBatch() error = %v", err)
	}
	if got := store.objects["runs/t9/ocr_results/a_ocr.txt"]; got != "hello" {
		t.Errorf("objects = %v", store.objects)
	}
}

func TestHandleBatchPublishWithoutStorage(t *testing.T) {
	svc, q := newTestService(t, &fakeRunner{})
	payload, _ := json.Marshal(models.BatchRequest{Root: t.TempDir(), Publish: true})
	if err := svc.HandleBatch(context.Background(), &queue.Task{ID: "t", Payload: payload}); err == nil {
		t.Fatal("expected publish error")
	}
	status, _ := q.GetTaskStatus(context.Background(), "t")
	if status.Status != models.StatusFailed {
		t.Errorf("status = %s", status.Status)
	}
}

func TestCancelBatch(t *testing.T) {
	svc, q := newTestService(t, nil)
	if err := svc.CancelBatch(context.Background(), "missing"); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	q.SaveStatus(context.Background(), &queue.TaskStatus{TaskID: "t", Status: models.StatusPending})
	if err := svc.CancelBatch(context.Background(), "t"); err != nil {
		t.Fatal(err)
	}
	status, _ := svc.GetBatchStatus(context.Background(), "t")
	if status.Status != models.StatusCancelled {
		t.Errorf("status = %s", status.Status)
	}
}

func TestListDocuments(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.pdf", "sub/a.PDF", "notes.txt", "ocr_results/old.pdf"} {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	svc, _ := newTestService(t, nil)
	docs, err := svc.ListDocuments(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0] != "b.pdf" || docs[1] != "sub/a.PDF" {
		t.Errorf("docs = %v", docs)
	}
}
