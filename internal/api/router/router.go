package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/profile-queue/internal/api/handler"
)

// ServiceName is reported by the health check
const ServiceName = "profile-queue-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if err := deps.Queue.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": ServiceName,
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a job for a subject
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// POST /api/v1/jobs/dequeue - Claim the next eligible job
			jobs.POST("/dequeue", jobHandler.DequeueJob)

			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/pause", jobHandler.PauseJob)
			jobs.POST("/:job_id/resume", jobHandler.ResumeJob)
			jobs.POST("/:job_id/complete", jobHandler.CompleteJob)
			jobs.POST("/:job_id/fail", jobHandler.FailJob)
		}

		v1.GET("/stats", jobHandler.GetStats)
	}

	return r
}
