package dto

import (
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

type CreateJobRequest struct {
	Subject   string `json:"subject" binding:"required"`
	Priority  string `json:"priority"`
	Origin    string `json:"origin"`
	RequestID string `json:"request_id"`
}

type CreateJobResponse struct {
	Job     JobDTO `json:"job"`
	Created bool   `json:"created"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	Subject  string `form:"subject"`
	Priority string `form:"priority"`
	Origin   string `form:"origin"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// DequeueRequest narrows which jobs a worker accepts. Empty lists accept all.
type DequeueRequest struct {
	Priorities []string `json:"priorities"`
	Origins    []string `json:"origins"`
}

type FailJobRequest struct {
	Error       string `json:"error" binding:"required"`
	MaxAttempts int    `json:"max_attempts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	Subject       string `json:"subject"`
	Origin        string `json:"origin"`
	Priority      string `json:"priority"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastAttemptAt string `json:"last_attempt_at,omitempty"`
	Error         string `json:"error,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// FromJob converts a queue job into its API representation
func FromJob(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:     job.ID,
		Subject:   job.Subject,
		Origin:    job.Origin,
		Priority:  job.Priority.String(),
		Status:    job.Status.String(),
		Attempts:  job.Attempts,
		Error:     job.ErrorValue(),
		RequestID: job.RequestIDValue(),
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.LastAttemptAt != nil {
		out.LastAttemptAt = job.LastAttemptAt.Format(time.RFC3339Nano)
	}
	return out
}
