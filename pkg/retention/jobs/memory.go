package jobs

import (
	"context"
	"slices"
	"sync"

	"mercator-hq/ratchet/pkg/retention"
)

// MemorySource is an in-memory job catalog.
type MemorySource struct {
	jobs map[string][]retention.Job
	mu   sync.RWMutex
}

// NewMemorySource creates an empty catalog.
func NewMemorySource() *MemorySource {
	return &MemorySource{jobs: make(map[string][]retention.Job)}
}

// Jobs returns the jobs of copyID.
func (s *MemorySource) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.jobs[copyID]), nil
}

// Add registers jobs, replacing any with the same job ID on the same copy.
func (s *MemorySource) Add(ctx context.Context, jobs ...retention.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range jobs {
		list := s.jobs[j.CopyID]
		if i := slices.IndexFunc(list, func(x retention.Job) bool { return x.JobID == j.JobID }); i >= 0 {
			list[i] = j
		} else {
			list = append(list, j)
		}
		s.jobs[j.CopyID] = list
	}
	return nil
}

// Remove drops a job from the catalog.
func (s *MemorySource) Remove(ctx context.Context, copyID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[copyID] = slices.DeleteFunc(s.jobs[copyID], func(j retention.Job) bool { return j.JobID == jobID })
	return nil
}
