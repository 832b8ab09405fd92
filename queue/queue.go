// Package queue implements per-lane job intake and the worker loops that
// drain them. Jobs are claimed with a lease so a crashed worker never strands
// work: expired leases are swept back to the claimable pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval    = 250 * time.Millisecond
	defaultReclaimInterval = 5 * time.Second
)

// Handler executes one claimed job. A nil return completes the job; an error
// schedules a retry unless it wraps core.ErrPermanentDelivery or the job has
// exhausted its attempts, in which case the job is dead-lettered.
type Handler func(ctx context.Context, job core.Job) error

type Queue struct {
	Store           core.JobStore
	Config          core.Config
	Logger          core.Logger
	Metrics         core.MetricsRecorder
	Publisher       core.EventPublisher
	WorkerID        string
	PollInterval    time.Duration
	ReclaimInterval time.Duration
	Now             core.NowFunc

	mu     sync.RWMutex
	paused map[string]bool
}

func New(store core.JobStore, cfg core.Config) *Queue {
	return &Queue{
		Store:           store,
		Config:          cfg,
		Logger:          glog.Nop(),
		Metrics:         core.NopMetricsRecorder{},
		Publisher:       core.NopEventPublisher{},
		WorkerID:        uuid.NewString(),
		PollInterval:    defaultPollInterval,
		ReclaimInterval: defaultReclaimInterval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		paused: map[string]bool{},
	}
}

func (q *Queue) lane(name string) (core.LaneConfig, error) {
	if q == nil {
		return core.LaneConfig{}, fmt.Errorf("queue: queue is nil")
	}
	lane, ok := q.Config.Lane(name)
	if !ok {
		return core.LaneConfig{}, fmt.Errorf("%w: %q", core.ErrLaneNotFound, name)
	}
	return lane, nil
}

// Enqueue accepts a payload into a lane. The job is durable once this call
// returns: a crash immediately after still leaves the job claimable.
func (q *Queue) Enqueue(ctx context.Context, lane string, payload []byte, opts core.EnqueueOptions) (core.Job, error) {
	if q == nil || q.Store == nil {
		return core.Job{}, fmt.Errorf("queue: job store is required")
	}
	laneConfig, err := q.lane(lane)
	if err != nil {
		return core.Job{}, err
	}
	if len(payload) == 0 {
		return core.Job{}, fmt.Errorf("%w: empty payload", core.ErrInvalidPayload)
	}

	job := q.buildJob(laneConfig, payload, opts)
	created, err := q.Store.Create(ctx, job)
	if err != nil {
		return core.Job{}, err
	}
	q.publish(ctx, core.EngineEvent{
		Name:       core.EngineEventJobEnqueued,
		JobID:      created.ID,
		Lane:       created.Lane,
		OccurredAt: q.now(),
	})
	q.incCounter(ctx, "queue.enqueued.total", map[string]string{"lane": created.Lane})
	return created, nil
}

// EnqueueBulk accepts many payloads at once. Items are independent: a
// rejected payload does not block the rest. The returned slice holds the
// accepted jobs and the error aggregates per-item failures by index.
func (q *Queue) EnqueueBulk(ctx context.Context, lane string, payloads [][]byte, opts core.EnqueueOptions) ([]core.Job, error) {
	if q == nil || q.Store == nil {
		return nil, fmt.Errorf("queue: job store is required")
	}
	laneConfig, err := q.lane(lane)
	if err != nil {
		return nil, err
	}

	created := make([]core.Job, 0, len(payloads))
	var itemErrs []error
	for i, payload := range payloads {
		if len(payload) == 0 {
			itemErrs = append(itemErrs, fmt.Errorf("item %d: %w: empty payload", i, core.ErrInvalidPayload))
			continue
		}
		job, err := q.Store.Create(ctx, q.buildJob(laneConfig, payload, opts))
		if err != nil {
			itemErrs = append(itemErrs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		created = append(created, job)
		q.publish(ctx, core.EngineEvent{
			Name:       core.EngineEventJobEnqueued,
			JobID:      job.ID,
			Lane:       job.Lane,
			OccurredAt: q.now(),
		})
	}
	q.incCounterBy(ctx, "queue.enqueued.total", int64(len(created)), map[string]string{"lane": lane})
	return created, errors.Join(itemErrs...)
}

func (q *Queue) buildJob(lane core.LaneConfig, payload []byte, opts core.EnqueueOptions) core.Job {
	now := q.now()
	job := core.Job{
		ID:          uuid.NewString(),
		Lane:        lane.Name,
		Payload:     append([]byte(nil), payload...),
		Priority:    opts.Priority,
		MaxAttempts: lane.MaxAttempts,
		Status:      core.JobStatusWaiting,
		ScheduledAt: now,
		Timeout:     lane.JobTimeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	if opts.RetryBase > 0 {
		job.RetryBase = opts.RetryBase
	}
	if opts.Timeout > 0 {
		job.Timeout = opts.Timeout
	}
	if opts.Delay > 0 {
		job.Status = core.JobStatusDelayed
		job.ScheduledAt = now.Add(opts.Delay)
	}
	return job
}

// Process runs worker loops against a lane until the context is cancelled.
// Concurrency defaults to the lane's configured width; the bound holds even
// when the backlog is deep.
func (q *Queue) Process(ctx context.Context, lane string, concurrency int, handler Handler) error {
	if q == nil || q.Store == nil {
		return fmt.Errorf("queue: job store is required")
	}
	if handler == nil {
		return fmt.Errorf("queue: handler is required")
	}
	laneConfig, err := q.lane(lane)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = laneConfig.Concurrency
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			return q.workerLoop(groupCtx, laneConfig, handler)
		})
	}
	group.Go(func() error {
		return q.reclaimLoop(groupCtx, laneConfig)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (q *Queue) workerLoop(ctx context.Context, lane core.LaneConfig, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.IsPaused(lane.Name) {
			if err := sleep(ctx, q.pollInterval()); err != nil {
				return err
			}
			continue
		}

		job, err := q.Store.Claim(ctx, lane.Name, q.WorkerID, q.now(), lane.LeaseDuration)
		if err != nil {
			if errors.Is(err, core.ErrJobNotFound) {
				if err := sleep(ctx, q.pollInterval()); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.logError(ctx, "claim failed", map[string]any{"lane": lane.Name, "error": err.Error()})
			if err := sleep(ctx, q.pollInterval()); err != nil {
				return err
			}
			continue
		}

		q.runJob(ctx, lane, job, handler)
	}
}

func (q *Queue) runJob(ctx context.Context, lane core.LaneConfig, job core.Job, handler Handler) {
	startedAt := time.Now()
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = lane.JobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	err := handler(jobCtx, job)
	cancel()

	q.observeHistogram(ctx, "queue.job.duration_ms", float64(time.Since(startedAt).Milliseconds()), map[string]string{"lane": lane.Name})
	if err == nil {
		q.complete(ctx, job)
		return
	}
	q.retryOrFail(ctx, lane, job, err)
}

func (q *Queue) complete(ctx context.Context, job core.Job) {
	now := q.now()
	if err := q.Store.Complete(ctx, job.ID, now); err != nil {
		q.logError(ctx, "complete failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	q.publish(ctx, core.EngineEvent{
		Name:       core.EngineEventJobCompleted,
		JobID:      job.ID,
		Lane:       job.Lane,
		OccurredAt: now,
	})
	q.incCounter(ctx, "queue.completed.total", map[string]string{"lane": job.Lane})
}

func (q *Queue) retryOrFail(ctx context.Context, lane core.LaneConfig, job core.Job, cause error) {
	now := q.now()
	attempt := job.Attempts + 1
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = lane.MaxAttempts
	}

	if core.IsPermanent(cause) || attempt >= maxAttempts {
		if err := q.Store.Fail(ctx, job.ID, cause.Error(), now); err != nil {
			q.logError(ctx, "fail failed", map[string]any{"job_id": job.ID, "error": err.Error()})
			return
		}
		q.publish(ctx, core.EngineEvent{
			Name:       core.EngineEventJobFailed,
			JobID:      job.ID,
			Lane:       job.Lane,
			Detail:     cause.Error(),
			OccurredAt: now,
		})
		q.incCounter(ctx, "queue.failed.total", map[string]string{"lane": job.Lane})
		return
	}

	policy := lane.RetryPolicy()
	if job.RetryBase > 0 {
		// per-job base delay overrides the lane's; the lane cap still
		// applies unless the base itself is larger
		ceiling := lane.WithDefaults().RetryMax
		if job.RetryBase > ceiling {
			ceiling = job.RetryBase
		}
		policy = core.ExponentialRetryPolicy{Base: job.RetryBase, Max: ceiling}
	}
	runAt := now.Add(policy.NextDelay(attempt))
	if err := q.Store.Retry(ctx, job.ID, runAt, cause.Error(), now); err != nil {
		q.logError(ctx, "retry schedule failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	q.publish(ctx, core.EngineEvent{
		Name:       core.EngineEventJobRetried,
		JobID:      job.ID,
		Lane:       job.Lane,
		Detail:     cause.Error(),
		OccurredAt: now,
	})
	q.incCounter(ctx, "queue.retried.total", map[string]string{"lane": job.Lane})
}

func (q *Queue) reclaimLoop(ctx context.Context, lane core.LaneConfig) error {
	ticker := time.NewTicker(q.reclaimInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			released, err := q.Store.ReleaseExpired(ctx, lane.Name, q.now())
			if err != nil {
				q.logError(ctx, "lease reclaim failed", map[string]any{"lane": lane.Name, "error": err.Error()})
				continue
			}
			if released > 0 {
				q.publish(ctx, core.EngineEvent{
					Name:       core.EngineEventJobReclaimed,
					Lane:       lane.Name,
					Detail:     fmt.Sprintf("released %d expired leases", released),
					OccurredAt: q.now(),
				})
				q.incCounterBy(ctx, "queue.reclaimed.total", int64(released), map[string]string{"lane": lane.Name})
			}
		}
	}
}

// Pause stops workers from claiming new jobs in a lane. In-flight jobs run to
// completion.
func (q *Queue) Pause(lane string) error {
	if _, err := q.lane(lane); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused == nil {
		q.paused = map[string]bool{}
	}
	q.paused[strings.TrimSpace(lane)] = true
	return nil
}

func (q *Queue) Resume(lane string) error {
	if _, err := q.lane(lane); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.paused, strings.TrimSpace(lane))
	return nil
}

func (q *Queue) IsPaused(lane string) bool {
	if q == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.paused[strings.TrimSpace(lane)]
}

// Clean removes terminal jobs older than the cutoff and returns how many
// were dropped.
func (q *Queue) Clean(ctx context.Context, lane string, statuses []core.JobStatus, olderThan time.Time) (int, error) {
	if q == nil || q.Store == nil {
		return 0, fmt.Errorf("queue: job store is required")
	}
	if _, err := q.lane(lane); err != nil {
		return 0, err
	}
	for _, status := range statuses {
		if !status.Terminal() {
			return 0, fmt.Errorf("%w: cannot clean %s jobs", core.ErrJobNotTerminal, status)
		}
	}
	removed, err := q.Store.Clean(ctx, lane, statuses, olderThan)
	if err != nil {
		return 0, err
	}
	q.incCounterBy(ctx, "queue.cleaned.total", int64(removed), map[string]string{"lane": lane})
	return removed, nil
}

// RemoveJob deletes a single job regardless of status. Active jobs may still
// finish their in-flight attempt; the completion becomes a no-op.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	if q == nil || q.Store == nil {
		return fmt.Errorf("queue: job store is required")
	}
	return q.Store.Remove(ctx, strings.TrimSpace(id))
}

func (q *Queue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func (q *Queue) pollInterval() time.Duration {
	if q != nil && q.PollInterval > 0 {
		return q.PollInterval
	}
	return defaultPollInterval
}

func (q *Queue) reclaimInterval() time.Duration {
	if q != nil && q.ReclaimInterval > 0 {
		return q.ReclaimInterval
	}
	return defaultReclaimInterval
}

func (q *Queue) publish(ctx context.Context, event core.EngineEvent) {
	if q == nil || q.Publisher == nil {
		return
	}
	if err := q.Publisher.Publish(ctx, event); err != nil {
		q.logError(ctx, "event publish failed", map[string]any{"event": event.Name, "error": err.Error()})
	}
}

func (q *Queue) incCounter(ctx context.Context, name string, tags map[string]string) {
	q.incCounterBy(ctx, name, 1, tags)
}

func (q *Queue) incCounterBy(ctx context.Context, name string, value int64, tags map[string]string) {
	if q == nil || q.Metrics == nil {
		return
	}
	q.Metrics.IncCounter(ctx, name, value, tags)
}

func (q *Queue) observeHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if q == nil || q.Metrics == nil {
		return
	}
	q.Metrics.ObserveHistogram(ctx, name, value, tags)
}

func (q *Queue) logError(ctx context.Context, message string, fields map[string]any) {
	if q == nil || q.Logger == nil {
		return
	}
	logger := q.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	logger.Error(message, args...)
}

func sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ core.Enqueuer = (*Queue)(nil)
