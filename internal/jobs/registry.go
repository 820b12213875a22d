package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptgallery/internal/models"
)

// ErrTerminal is returned when updating a job that already completed or
// failed.
var ErrTerminal = errors.New("job already finished")

// Registry is the in-memory job table. One mutex guards the whole map and is
// only held for the duration of a read or write.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*models.Job)}
}

// Create stores a new pending job and returns a copy of it.
func (r *Registry) Create(prompt, size string, now time.Time) models.Job {
	job := &models.Job{
		ID:        uuid.NewString(),
		Status:    models.JobPending,
		Message:   "Queued",
		CreatedAt: now,
		Prompt:    prompt,
		Size:      size,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return clone(job)
}

func (r *Registry) Snapshot(id string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return clone(job), nil
}

// Update applies fn to the stored job under the lock and returns the result.
// Finished jobs are never modified.
func (r *Registry) Update(id string, fn func(*models.Job)) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return clone(job), fmt.Errorf("job %s: %w", id, ErrTerminal)
	}
	fn(job)
	return clone(job), nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func clone(job *models.Job) models.Job {
	out := *job
	if job.Result != nil {
		res := *job.Result
		out.Result = &res
	}
	return out
}
