package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/pdf-batch-ocr/internal/models"
)

func TestQueueName(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{1, "critical"},
		{2, "default"},
		{0, "low"},
		{7, "low"},
	}
	for _, tt := range tests {
		if got := QueueName(tt.priority); got != tt.want {
			t.Errorf("QueueName(%d) = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestConvertAsynqStatus(t *testing.T) {
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		info *asynq.TaskInfo
		want models.ProcessingStatus
		prog float64
	}{
		{"pending", &asynq.TaskInfo{ID: "a", State: asynq.TaskStatePending}, models.StatusPending, 0},
		{"scheduled", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateScheduled}, models.StatusPending, 0},
		{"active", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}, models.StatusRunning, 0},
		{"completed", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, CompletedAt: done}, models.StatusCompleted, 1},
		{"archived", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, LastErr: "boom"}, models.StatusFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertAsynqStatus(tt.info)
			if got.TaskID != "a" || got.Status != tt.want || got.Progress != tt.prog {
				t.Errorf("convertAsynqStatus() = %+v", got)
			}
		})
	}
}

func TestNewAsynqQueueRequiresAddr(t *testing.T) {
	if _, err := NewAsynqQueue(QueueConfig{}); err == nil {
		t.Error("expected error without redis address")
	}
}
