// Package dedup keeps the in-process index of active jobs keyed by subject
// and request id. The index is derived data: it is rebuilt from the job store
// on startup and never persisted.
package dedup

import (
	"sync"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// Index maps dedup keys to the id of the single active job holding them
type Index struct {
	mu          sync.RWMutex
	bySubject   map[string]string
	byRequestID map[string]string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		bySubject:   make(map[string]string),
		byRequestID: make(map[string]string),
	}
}

// LookupActive returns the id of the active job for subject
func (i *Index) LookupActive(subject string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.bySubject[subject]
	return id, ok
}

// LookupByRequestID returns the id of the active job carrying requestID
func (i *Index) LookupByRequestID(requestID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.byRequestID[requestID]
	return id, ok
}

// Put records job when it is active and drops it otherwise
func (i *Index) Put(job *domain.Job) {
	if job == nil {
		return
	}
	if !job.Status.Active() {
		i.Remove(job)
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.bySubject[job.Subject] = job.ID
	if rid := job.RequestIDValue(); rid != "" {
		i.byRequestID[rid] = job.ID
	}
}

// Remove drops the keys of job, but only while they still point at job.ID
func (i *Index) Remove(job *domain.Job) {
	if job == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.bySubject[job.Subject]; ok && id == job.ID {
		delete(i.bySubject, job.Subject)
	}
	if rid := job.RequestIDValue(); rid != "" {
		if id, ok := i.byRequestID[rid]; ok && id == job.ID {
			delete(i.byRequestID, rid)
		}
	}
}

// Rebuild replaces the whole index with the active jobs given
func (i *Index) Rebuild(jobs []*domain.Job) {
	bySubject := make(map[string]string, len(jobs))
	byRequestID := make(map[string]string)
	for _, job := range jobs {
		if !job.Status.Active() {
			continue
		}
		bySubject[job.Subject] = job.ID
		if rid := job.RequestIDValue(); rid != "" {
			byRequestID[rid] = job.ID
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.bySubject = bySubject
	i.byRequestID = byRequestID
}

// Len returns the number of indexed subjects
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.bySubject)
}
