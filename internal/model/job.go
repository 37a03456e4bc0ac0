package model

import "time"

// JobStatus is the lifecycle state of a budget-generation job. Terminal
// states are set exactly once by the worker that owns the job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one budget-generation request flowing through the queue. A job is
// owned by exactly one worker between dequeue and its terminal state.
type Job struct {
	ID         string    `json:"id"`
	BriefingID string    `json:"briefing_id"`
	Priority   int       `json:"priority"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
