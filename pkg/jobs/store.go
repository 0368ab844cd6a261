// Package jobs tracks the state of background mashup jobs. Workers receive
// an injected Store handle; there is no global registry.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrNotFound is returned when no job exists for an ID.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Result carries the outputs of a finished job.
type Result struct {
	MashupID string          `json:"mashup_id"`
	AudioURL string          `json:"audio_url"`
	Recipe   json.RawMessage `json:"recipe"`
}

// Job is one unit of mashup work: a creation or a revision.
type Job struct {
	ID       string  `json:"id"`
	Status   Status  `json:"status"`
	Progress string  `json:"progress"`
	Error    string  `json:"error,omitempty"`
	Result   *Result `json:"result,omitempty"`
}

// Store is the job-state port. Implementations must be safe for
// concurrent use by multiple job workers.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update applies fn to the stored job atomically.
	Update(ctx context.Context, id string, fn func(*Job)) error
}

// MemoryStore keeps jobs in a mutex-guarded map. Suitable for a single
// process; state is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}
