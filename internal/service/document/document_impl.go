package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/queue"
	"github.com/feichai0017/pdf-batch-ocr/pkg/storage"
)

var (
	// ErrInvalidRequest marks a batch request rejected before enqueueing.
	ErrInvalidRequest = errors.New("invalid batch request")
	// ErrRootNotAllowed is returned for roots outside ServiceConfig.AllowedRoots.
	ErrRootNotAllowed = errors.New("root is outside the allowed roots")
)

// Runner executes one batch. *batch.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, root string, opts batch.Options, policy models.Policy) (*batch.Result, error)
}

type DocumentService struct {
	runner  Runner
	queue   queue.Queue
	storage storage.Storage
	logger  logger.Logger
	config  *ServiceConfig
	closers []io.Closer
}

type ServiceConfig struct {
	Policy        models.Policy
	Batch         batch.Options
	AllowedRoots  []string
	QueuePriority int
	// PublishPrefix is the object key prefix used when a request asks to publish.
	PublishPrefix string
}

// NewService assembles the service. runner is nil in processes that only
// submit batches; store is nil when publishing is disabled.
func NewService(
	runner Runner,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	config *ServiceConfig,
) *DocumentService {
	if config == nil {
		config = &ServiceConfig{
			Policy:        models.DefaultPolicy(),
			Batch:         batch.DefaultOptions(),
			QueuePriority: 2,
		}
	}
	return &DocumentService{
		runner:  runner,
		queue:   q,
		storage: store,
		logger:  log,
		config:  config,
	}
}

// GetService builds the service from configuration. withRunner loads the
// recognition engines, which only the worker needs.
func GetService(ctx context.Context, log logger.Logger, c *cfg.Config, withRunner bool) (*DocumentService, error) {
	// 初始化队列
	q, err := queue.NewAsynqQueue(queue.QueueConfig{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		MaxRetries:    1,
		Timeout:       c.Queue.Timeout,
		StatusTTL:     c.Queue.StatusTTL,
		Queues:        c.Queue.Queues,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	var store storage.Storage
	if withRunner && c.Storage.Publish != "" && c.Storage.Publish != cfg.PublishNone {
		// 初始化存储
		store, err = storage.NewStorage(ctx, storage.StorageType(c.Storage.Publish), log.Named("storage"))
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	svc := NewService(nil, q, store, log, &ServiceConfig{
		Policy:        c.Policy,
		Batch:         BatchOptions(c.Export),
		AllowedRoots:  c.Server.AllowedRoots,
		QueuePriority: 2,
		PublishPrefix: c.Storage.Prefix,
	})
	svc.closers = append(svc.closers, q)

	if withRunner {
		runner, engines, err := BuildRunner(ctx, log, c, c.Engine.Structure != cfg.EngineNone)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.runner = runner
		svc.closers = append(svc.closers, engines)
		log.Info(engines.Describe())
	}
	return svc, nil
}

// Close releases the queue connection and engines.
func (s *DocumentService) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// SubmitBatch validates the request and enqueues it.
func (s *DocumentService) SubmitBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchTask, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	root, err := s.checkRoot(req.Root)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.resolve(req); err != nil {
		return nil, err
	}
	accepted := *req
	accepted.Root = root
	payload, err := json.Marshal(&accepted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	priority := req.Priority
	if priority == 0 {
		priority = s.config.QueuePriority
	}
	now := time.Now()
	task := &queue.Task{
		ID:        uuid.New().String(),
		Type:      queue.TaskTypeBatchProcess,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: now,
	}

	// 加入处理队列
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	// 保存初始状态
	status := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    models.StatusPending,
		Root:      root,
		StartedAt: now,
	}
	if err := s.queue.SaveStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
	}

	s.logger.Info("Batch task created",
		logger.String("taskId", task.ID),
		logger.String("root", root),
	)
	return toBatchTask(status), nil
}

// HandleBatch runs a dequeued batch and records its progress and summary.
func (s *DocumentService) HandleBatch(ctx context.Context, task *queue.Task) error {
	if task == nil || len(task.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidRequest)
	}
	if s.runner == nil {
		return fmt.Errorf("batch runner is not configured in this process")
	}

	var req models.BatchRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	opts, policy, err := s.resolve(&req)
	if err != nil {
		return err
	}

	status := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    models.StatusRunning,
		Root:      req.Root,
		StartedAt: time.Now(),
	}
	s.saveStatus(ctx, status)

	log := s.logger.With(logger.String("taskId", task.ID))
	log.Info("Processing batch", logger.String("root", req.Root))

	finished := 0
	opts.Progress = func(p batch.Progress) {
		if p.Page != 0 {
			return
		}
		finished++
		status.Progress = float64(finished) / float64(p.Total)
		status.Current = p.Document
		s.saveStatus(ctx, status)
	}

	res, err := s.runner.Run(ctx, req.Root, opts, policy)
	if err == nil && req.Publish {
		err = s.publish(ctx, task.ID, res)
	}

	status.FinishedAt = time.Now()
	status.Current = ""
	if res != nil {
		status.Summary = res.Summary
		status.TextRoot = res.TextRoot
		status.StructuredRoot = res.StructuredRoot
	}
	if err != nil {
		status.Status = models.StatusFailed
		if errors.Is(err, context.Canceled) {
			status.Status = models.StatusCancelled
		}
		status.Error = err.Error()
		s.saveStatus(context.WithoutCancel(ctx), status)
		log.Error("Batch failed", logger.Error(err))
		return err
	}

	status.Status = models.StatusCompleted
	status.Progress = 1.0
	s.saveStatus(ctx, status)
	log.Info("Batch completed",
		logger.Int("ok", res.Summary.Count(models.StatusOK)),
		logger.Int("error", res.Summary.Count(models.StatusError)),
		logger.Int("skipped", res.Summary.Count(models.StatusSkipped)),
	)
	return nil
}

func (s *DocumentService) publish(ctx context.Context, taskID string, res *batch.Result) error {
	if s.storage == nil {
		return fmt.Errorf("publish requested but no storage is configured")
	}
	prefix := path.Join(s.config.PublishPrefix, taskID)
	for _, root := range []string{res.TextRoot, res.StructuredRoot} {
		if root == "" {
			continue
		}
		if _, err := storage.Publish(ctx, s.storage, root, prefix, s.logger); err != nil {
			return err
		}
	}
	return nil
}

// GetBatchStatus 获取处理状态
func (s *DocumentService) GetBatchStatus(ctx context.Context, taskID string) (*models.BatchTask, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	return toBatchTask(status), nil
}

// CancelBatch 取消任务
func (s *DocumentService) CancelBatch(ctx context.Context, taskID string) error {
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// ListDocuments returns the documents a batch over root would process.
func (s *DocumentService) ListDocuments(ctx context.Context, root string) ([]string, error) {
	abs, err := s.checkRoot(root)
	if err != nil {
		return nil, err
	}
	textRoot, structRoot := s.config.Batch.OutputRoots(abs)
	return batch.Discover(abs, s.config.Batch.Extensions, textRoot, structRoot)
}

func (s *DocumentService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.Error(err),
		)
	}
}

// checkRoot resolves root and enforces AllowedRoots.
func (s *DocumentService) checkRoot(root string) (string, error) {
	abs, err := batch.CheckRoot(root)
	if err != nil {
		return "", err
	}
	if len(s.config.AllowedRoots) == 0 {
		return abs, nil
	}
	for _, allowed := range s.config.AllowedRoots {
		base, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(base, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRootNotAllowed, abs)
}

// resolve applies request overrides to the configured defaults.
func (s *DocumentService) resolve(req *models.BatchRequest) (batch.Options, models.Policy, error) {
	opts := s.config.Batch
	policy := s.config.Policy

	if req.Mode != "" {
		exp, err := models.ExportForMode(req.Mode)
		if err != nil {
			return opts, policy, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		opts.Export = exp
	}
	if req.Export != nil {
		opts.Export = *req.Export
	}
	if !opts.Export.Text && !opts.Export.Structured() {
		return opts, policy, fmt.Errorf("%w: no export format selected", ErrInvalidRequest)
	}
	if req.ForceOCR != nil {
		policy.ForceOCR = *req.ForceOCR
	}
	if req.MinEmbeddedChars != nil {
		policy.MinEmbeddedChars = *req.MinEmbeddedChars
	}
	if req.RenderScale != nil {
		policy.RenderScale = *req.RenderScale
	}
	if req.Workers > 0 {
		opts.Workers = req.Workers
	}
	if err := policy.Validate(); err != nil {
		return opts, policy, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return opts, policy, nil
}

func toBatchTask(status *queue.TaskStatus) *models.BatchTask {
	return &models.BatchTask{
		ID:             status.TaskID,
		Status:         status.Status,
		Root:           status.Root,
		Progress:       status.Progress,
		Current:        status.Current,
		Error:          status.Error,
		Summary:        status.Summary,
		TextRoot:       status.TextRoot,
		StructuredRoot: status.StructuredRoot,
		CreatedAt:      status.StartedAt,
		UpdatedAt:      status.FinishedAt,
	}
}
