// Package devkit provides in-memory implementations of the engine's storage
// and transport contracts for tests and local development.
package devkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/google/uuid"
)

// MemoryJobStore keeps jobs in a map guarded by one mutex, which makes claim
// atomicity trivial: only one caller can win a job per lease window.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]core.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]core.Job{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job core.Job) (core.Job, error) {
	if s == nil {
		return core.Job{}, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(job)
}

func (s *MemoryJobStore) createLocked(job core.Job) (core.Job, error) {
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return core.Job{}, fmt.Errorf("devkit: job %q already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = core.JobStatusWaiting
	}
	job.Payload = append([]byte(nil), job.Payload...)
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryJobStore) CreateBatch(_ context.Context, jobs []core.Job) ([]core.Job, error) {
	if s == nil {
		return nil, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	created := make([]core.Job, 0, len(jobs))
	for _, job := range jobs {
		stored, err := s.createLocked(job)
		if err != nil {
			for _, rollback := range created {
				delete(s.jobs, rollback.ID)
			}
			return nil, err
		}
		created = append(created, stored)
	}
	return created, nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (core.Job, error) {
	if s == nil {
		return core.Job{}, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.Job{}, fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}
	return job, nil
}

// Claim picks the claimable job with the lowest priority value, oldest
// first on ties, marks it active, and stamps the lease. Returns
// core.ErrJobNotFound when the lane is drained.
func (s *MemoryJobStore) Claim(_ context.Context, lane, workerID string, now time.Time, lease time.Duration) (core.Job, error) {
	if s == nil {
		return core.Job{}, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]core.Job, 0)
	for _, job := range s.jobs {
		if job.Lane != lane {
			continue
		}
		if job.Claimable(now) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return core.Job{}, fmt.Errorf("%w: lane %q has no claimable jobs", core.ErrJobNotFound, lane)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
	})

	job := candidates[0]
	if err := job.TransitionTo(core.JobStatusActive, "", now); err != nil {
		return core.Job{}, err
	}
	leaseExpiry := now.Add(lease)
	job.LeaseExpiresAt = &leaseExpiry
	job.WorkerID = strings.TrimSpace(workerID)
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryJobStore) Complete(_ context.Context, id string, now time.Time) error {
	return s.transition(id, core.JobStatusCompleted, "", now, nil)
}

func (s *MemoryJobStore) Retry(_ context.Context, id string, runAt time.Time, reason string, now time.Time) error {
	return s.transition(id, core.JobStatusDelayed, reason, now, func(job *core.Job) {
		job.Attempts++
		job.ScheduledAt = runAt
	})
}

func (s *MemoryJobStore) Fail(_ context.Context, id, reason string, now time.Time) error {
	return s.transition(id, core.JobStatusFailed, reason, now, func(job *core.Job) {
		job.Attempts++
	})
}

func (s *MemoryJobStore) transition(id string, status core.JobStatus, reason string, now time.Time, mutate func(*core.Job)) error {
	if s == nil {
		return fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}
	if err := job.TransitionTo(status, reason, now); err != nil {
		return err
	}
	if mutate != nil {
		mutate(&job)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Remove(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) Clean(_ context.Context, lane string, statuses []core.JobStatus, olderThan time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("devkit: job store is nil")
	}
	wanted := map[core.JobStatus]struct{}{}
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Lane != lane {
			continue
		}
		if _, ok := wanted[job.Status]; !ok {
			continue
		}
		if job.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryJobStore) ReleaseExpired(_ context.Context, lane string, now time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for id, job := range s.jobs {
		if job.Lane != lane || job.Status != core.JobStatusActive {
			continue
		}
		if job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}
		if err := job.TransitionTo(core.JobStatusWaiting, "lease expired", now); err != nil {
			continue
		}
		job.ScheduledAt = now
		s.jobs[id] = job
		released++
	}
	return released, nil
}

func (s *MemoryJobStore) ResetForRetry(_ context.Context, id string, now time.Time) (core.Job, error) {
	if s == nil {
		return core.Job{}, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.Job{}, fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}
	if job.Status != core.JobStatusFailed {
		return core.Job{}, fmt.Errorf("%w: job %q is %s", core.ErrJobNotTerminal, id, job.Status)
	}
	if err := job.TransitionTo(core.JobStatusWaiting, "", now); err != nil {
		return core.Job{}, err
	}
	job.Attempts = 0
	job.LastError = ""
	job.ScheduledAt = now
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context, lane string) (map[core.JobStatus]int, error) {
	if s == nil {
		return nil, fmt.Errorf("devkit: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[core.JobStatus]int{}
	for _, job := range s.jobs {
		if lane != "" && job.Lane != lane {
			continue
		}
		counts[job.Status]++
	}
	return counts, nil
}

// Snapshot returns a copy of every stored job, useful for assertions.
func (s *MemoryJobStore) Snapshot() []core.Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ core.JobStore = (*MemoryJobStore)(nil)
