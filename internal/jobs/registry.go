package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Job tracks one long-running pipeline operation. Progress fields are
// updated in place as chunks finish so HTTP pollers see live state.
type Job struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ChapterID   string    `json:"chapter_id,omitempty"`
	State       string    `json:"state"`
	TotalChunks int       `json:"total_chunks"`
	DoneChunks  int       `json:"done_chunks"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("jobs: not found")

// Registry holds in-flight and recently finished jobs in memory. Jobs
// are advisory runtime state; durable progress lives in the store.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	clock func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:  make(map[string]*Job),
		clock: time.Now,
	}
}

// SetClock overrides the timestamp source for tests.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// Create registers a new queued job and returns a copy.
func (r *Registry) Create(kind, chapterID string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		ChapterID: chapterID,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[job.ID] = job
	return *job
}

// Update applies fn to the job under lock. Unknown IDs return
// ErrNotFound.
func (r *Registry) Update(id string, fn func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(job)
	job.UpdatedAt = r.clock()
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
