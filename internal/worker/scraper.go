package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// Processor runs the external work for one claimed job
type Processor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, job *domain.Job) error

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// ScrapeRequest is the body sent to the scraper endpoint
type ScrapeRequest struct {
	JobID   string `json:"job_id"`
	Subject string `json:"subject"`
	Origin  string `json:"origin"`
	Attempt int    `json:"attempt"`
}

// ScraperProcessor hands each job to the scraping service over HTTP.
// A 2xx response completes the job. 404 and 410 mean the profile is gone and
// fail the job permanently; any other status is retried.
type ScraperProcessor struct {
	url    string
	client *http.Client
}

// NewScraperProcessor creates a processor posting to url
func NewScraperProcessor(url string, timeout time.Duration) *ScraperProcessor {
	return &ScraperProcessor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Process posts the job to the scraper
func (p *ScraperProcessor) Process(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(ScrapeRequest{
		JobID:   job.ID,
		Subject: job.Subject,
		Origin:  job.Origin,
		Attempt: job.Attempts,
	})
	if err != nil {
		return fmt.Errorf("failed to encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build scrape request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("scraper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("scraper returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return Permanent(err)
	}
	return err
}
