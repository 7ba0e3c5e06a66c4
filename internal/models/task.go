package models

import (
	"time"
)

// ProcessingStatus 任务状态
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)

// Terminal reports whether the status will not change again.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// BatchRequest asks for one run over a directory tree. Nil fields fall back
// to the service configuration.
type BatchRequest struct {
	Root             string         `json:"root" binding:"required"`
	Mode             string         `json:"mode,omitempty"`
	Export           *ExportOptions `json:"export,omitempty"`
	ForceOCR         *bool          `json:"forceOcr,omitempty"`
	MinEmbeddedChars *int           `json:"minEmbeddedChars,omitempty"`
	RenderScale      *float64       `json:"renderScale,omitempty"`
	Workers          int            `json:"workers,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	Publish          bool           `json:"publish,omitempty"`
}

// BatchTask is the externally visible state of an asynchronous batch.
type BatchTask struct {
	ID             string           `json:"id"`
	Status         ProcessingStatus `json:"status"`
	Root           string           `json:"root"`
	Progress       float64          `json:"progress"`
	Current        string           `json:"current,omitempty"`
	Error          string           `json:"error,omitempty"`
	Summary        Summary          `json:"summary,omitempty"`
	TextRoot       string           `json:"textRoot,omitempty"`
	StructuredRoot string           `json:"structuredRoot,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt,omitempty"`
}
