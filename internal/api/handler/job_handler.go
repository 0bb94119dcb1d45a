package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/profile-queue/internal/api/dto"
	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Admits a job for a subject, or returns the job already covering it
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	var priority domain.Priority
	if req.Priority != "" {
		p, err := domain.ParsePriority(req.Priority)
		if err != nil {
			h.respondError(c, err)
			return
		}
		priority = p
	}

	job, created, err := h.queue.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		Subject:   req.Subject,
		Priority:  priority,
		Origin:    req.Origin,
		RequestID: req.RequestID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.CreateJobResponse{
		Job:     dto.FromJob(job),
		Created: created,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.queue.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor", Field: "cursor"})
		return
	}

	filter := storage.Filter{
		Subject: req.Subject,
		Origin:  req.Origin,
		// one extra row tells whether another page exists
		PageSize: req.PageSize + 1,
		Cursor:   cursor,
	}
	if req.Status != "" {
		if filter.Status, err = domain.ParseStatus(req.Status); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Priority != "" {
		if filter.Priority, err = domain.ParsePriority(req.Priority); err != nil {
			h.respondError(c, err)
			return
		}
	}

	jobs, err := h.queue.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.FromJob(job)
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			Seq:       last.Seq,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// PauseJob handles POST /api/v1/jobs/:job_id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.queue.Pause(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ResumeJob handles POST /api/v1/jobs/:job_id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.queue.Resume(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// DequeueJob handles POST /api/v1/jobs/dequeue
// Claims the next eligible job for a remote worker. 204 when nothing is available.
func (h *JobHandler) DequeueJob(c *gin.Context) {
	var req dto.DequeueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Error("Invalid request body", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
			return
		}
	}

	caps := queue.Capabilities{Origins: req.Origins}
	for _, raw := range req.Priorities {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		caps.Priorities = append(caps.Priorities, p)
	}

	job, err := h.queue.DequeueNext(c.Request.Context(), caps)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// CompleteJob handles POST /api/v1/jobs/:job_id/complete
func (h *JobHandler) CompleteJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.queue.MarkCompleted(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// FailJob handles POST /api/v1/jobs/:job_id/fail
// Records a failed attempt; the job is retried until max_attempts is reached
func (h *JobHandler) FailJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.FailJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.MaxAttempts < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "max_attempts must not be negative", Field: "max_attempts"})
		return
	}

	job, err := h.queue.MarkFailed(c.Request.Context(), jobID, req.Error, req.MaxAttempts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// GetStats handles GET /api/v1/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// jobID reads and validates the :job_id path parameter
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID", Field: "job_id"})
		return "", false
	}
	return jobID, true
}

// respondError maps queue errors to HTTP status codes
func (h *JobHandler) respondError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	var transitionErr *domain.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validationErr.Error(), Field: validationErr.Field})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: transitionErr.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	default:
		h.logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}
