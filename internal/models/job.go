package models

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job tracks one asynchronous generation request. It lives in process
// memory only.
type Job struct {
	ID        string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Message   string     `json:"message"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
	Prompt    string     `json:"prompt"`
	Size      string     `json:"size"`
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type JobResult struct {
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	FileSize     int64  `json:"file_size"`
}

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Filename string    `json:"filename,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
