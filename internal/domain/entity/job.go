package entity

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Job is the envelope pushed onto the shared work queue. The JSON layout is
// the wire contract with the GPU workers and must not change.
type Job struct {
	ID        string          `json:"id"`
	Endpoint  string          `json:"endpoint"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

const (
	EndpointTemplate   = "template"
	EndpointTokenize   = "tokenize"
	EndpointCompletion = "completion"
	EndpointSlots      = "slots"
)

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusTimeout   JobStatus = "TIMEOUT"
)

// JobRecord is the diagnostic audit row kept in Postgres. The broker remains
// the only delivery path; these rows are never read on the request path.
type JobRecord struct {
	JobID     string    `gorm:"primaryKey;type:uuid"`
	Endpoint  string    `gorm:"not null;type:text"`
	Status    JobStatus `gorm:"not null;type:text"`
	LastError string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// LifecycleEvent is published to the events exchange on job state changes.
type LifecycleEvent struct {
	JobID     string  `json:"job_id"`
	Endpoint  string  `json:"endpoint,omitempty"`
	Event     string  `json:"event"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

const (
	EventSubmitted = "submitted"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventTimeout   = "timeout"
)
