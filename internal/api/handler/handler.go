package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/profile-queue/internal/queue"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Queue   *queue.Queue
	Metrics http.Handler // optional; serves GET /metrics
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	queue  *queue.Queue
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}
