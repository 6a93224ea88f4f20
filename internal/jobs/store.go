package jobs

import (
	"context"
	"sync"
)

// Store persists job records so the queue survives process restarts.
type Store interface {
	LoadJobs(ctx context.Context) ([]*ClipJob, error)
	UpsertJob(ctx context.Context, job *ClipJob) error
	DeleteJob(ctx context.Context, jobID string) error
}

// MemoryStore is a non-durable Store for tests. Production code must use the
// sqlite-backed store in internal/persistence.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*ClipJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*ClipJob)}
}

func (s *MemoryStore) LoadJobs(_ context.Context) ([]*ClipJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*ClipJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret, nil
}

func (s *MemoryStore) UpsertJob(_ context.Context, job *ClipJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}
