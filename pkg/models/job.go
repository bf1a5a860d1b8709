package models

import (
	"time"
)

// Job represents one transcoding job as tracked in the database.
type Job struct {
	ID             string     `json:"id" db:"id"`
	VideoID        string     `json:"video_id" db:"video_id"`
	InputURI       string     `json:"input_uri" db:"input_uri"`
	Status         string     `json:"status" db:"status"`
	Outcome        JobOutcome `json:"outcome,omitempty" db:"outcome"`
	SucceededCount int        `json:"succeeded_count" db:"succeeded_count"`
	TotalCount     int        `json:"total_count" db:"total_count"`
	OutputURI      string     `json:"output_uri,omitempty" db:"output_uri"`
	ErrorMsg       string     `json:"error_msg,omitempty" db:"error_msg"`
	WorkerID       string     `json:"worker_id,omitempty" db:"worker_id"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// TranscodeRequest is the intake payload, identical for the synchronous
// HTTP form and the base64 push-message form.
type TranscodeRequest struct {
	InputURI string `json:"input_uri"`
	VideoID  string `json:"video_id"`
}

// JobStatus constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"
)
