// Package redisstore implements the durable job store on Redis. Jobs live in
// hashes; per-lane sorted sets index claimable, leased, and terminal jobs so
// claim and lease-recovery stay O(log n) instead of scanning every record.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-dispatch/core"
)

const defaultKeyPrefix = "dispatch"

// claimWindow bounds how many due jobs a single claim inspects when picking
// the candidate with the lowest priority value. Jobs beyond the window are
// claimed on a later poll.
const claimWindow = 50

// claimScript atomically selects the best due job and stamps the lease. The
// due list arrives ordered by scheduled time, so the scan keeps the earliest
// job on priority ties.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
if #due == 0 then
  return false
end
local bestId = nil
local bestPriority = nil
for _, id in ipairs(due) do
  local priority = tonumber(redis.call('HGET', ARGV[5] .. id, 'priority') or '0')
  if bestId == nil or priority < bestPriority then
    bestId = id
    bestPriority = priority
  end
end
local expiry = tonumber(ARGV[1]) + tonumber(ARGV[2])
redis.call('ZREM', KEYS[1], bestId)
redis.call('ZADD', KEYS[2], expiry, bestId)
redis.call('HSET', ARGV[5] .. bestId,
  'status', 'active',
  'lease_expires_at', tostring(expiry),
  'worker_id', ARGV[3],
  'updated_at', ARGV[1])
return bestId
`)

// JobStore implements core.JobStore on a Redis client. All mutations that
// cross the hash and the lane indexes run inside WATCH transactions or Lua so
// concurrent workers never observe a half-moved job.
type JobStore struct {
	client *redis.Client
	prefix string
}

func NewJobStore(client *redis.Client) (*JobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	return &JobStore{client: client, prefix: defaultKeyPrefix}, nil
}

func (s *JobStore) jobKey(id string) string {
	return s.prefix + ":job:" + id
}

func (s *JobStore) readyKey(lane string) string {
	return s.prefix + ":lane:" + lane + ":ready"
}

func (s *JobStore) activeKey(lane string) string {
	return s.prefix + ":lane:" + lane + ":active"
}

func (s *JobStore) terminalKey(lane string) string {
	return s.prefix + ":lane:" + lane + ":terminal"
}

func (s *JobStore) laneIDsKey(lane string) string {
	return s.prefix + ":lane:" + lane + ":ids"
}

func (s *JobStore) lanesKey() string {
	return s.prefix + ":lanes"
}

func (s *JobStore) Create(ctx context.Context, job core.Job) (core.Job, error) {
	if s == nil || s.client == nil {
		return core.Job{}, fmt.Errorf("redisstore: job store is not configured")
	}
	job, err := s.prepare(job)
	if err != nil {
		return core.Job{}, err
	}

	exists, err := s.client.Exists(ctx, s.jobKey(job.ID)).Result()
	if err != nil {
		return core.Job{}, fmt.Errorf("redisstore: create job: %w", err)
	}
	if exists > 0 {
		return core.Job{}, fmt.Errorf("redisstore: job %q already exists", job.ID)
	}

	pipe := s.client.TxPipeline()
	s.writeJob(ctx, pipe, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.Job{}, fmt.Errorf("redisstore: create job: %w", err)
	}
	return job, nil
}

func (s *JobStore) CreateBatch(ctx context.Context, jobs []core.Job) ([]core.Job, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redisstore: job store is not configured")
	}
	prepared := make([]core.Job, 0, len(jobs))
	for _, job := range jobs {
		ready, err := s.prepare(job)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, ready)
	}

	pipe := s.client.TxPipeline()
	for _, job := range prepared {
		s.writeJob(ctx, pipe, job)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: create batch: %w", err)
	}
	return prepared, nil
}

func (s *JobStore) prepare(job core.Job) (core.Job, error) {
	job.Lane = strings.TrimSpace(job.Lane)
	if job.Lane == "" {
		return core.Job{}, fmt.Errorf("%w: lane is required", core.ErrLaneNotFound)
	}
	if len(job.Payload) == 0 {
		return core.Job{}, fmt.Errorf("%w: payload is required", core.ErrInvalidPayload)
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.JobStatusWaiting
	}
	now := time.Now().UTC()
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	return job, nil
}

// writeJob enqueues the hash write plus every lane index update on the pipe.
func (s *JobStore) writeJob(ctx context.Context, pipe redis.Pipeliner, job core.Job) {
	pipe.HSet(ctx, s.jobKey(job.ID), jobToFields(job))
	pipe.SAdd(ctx, s.lanesKey(), job.Lane)
	pipe.SAdd(ctx, s.laneIDsKey(job.Lane), job.ID)
	switch job.Status {
	case core.JobStatusWaiting, core.JobStatusDelayed:
		pipe.ZAdd(ctx, s.readyKey(job.Lane), redis.Z{
			Score:  float64(job.ScheduledAt.UnixMilli()),
			Member: job.ID,
		})
	case core.JobStatusActive:
		expiry := job.UpdatedAt
		if job.LeaseExpiresAt != nil {
			expiry = *job.LeaseExpiresAt
		}
		pipe.ZAdd(ctx, s.activeKey(job.Lane), redis.Z{
			Score:  float64(expiry.UnixMilli()),
			Member: job.ID,
		})
	default:
		pipe.ZAdd(ctx, s.terminalKey(job.Lane), redis.Z{
			Score:  float64(job.UpdatedAt.UnixMilli()),
			Member: job.ID,
		})
	}
}

func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.client == nil {
		return core.Job{}, fmt.Errorf("redisstore: job store is not configured")
	}
	id = strings.TrimSpace(id)
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return core.Job{}, fmt.Errorf("redisstore: get job: %w", err)
	}
	if len(fields) == 0 {
		return core.Job{}, fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
	}
	return fieldsToJob(id, fields)
}

func (s *JobStore) Claim(ctx context.Context, lane, workerID string, now time.Time, lease time.Duration) (core.Job, error) {
	if s == nil || s.client == nil {
		return core.Job{}, fmt.Errorf("redisstore: job store is not configured")
	}
	lane = strings.TrimSpace(lane)

	raw, err := claimScript.Run(ctx, s.client,
		[]string{s.readyKey(lane), s.activeKey(lane)},
		now.UnixMilli(),
		lease.Milliseconds(),
		strings.TrimSpace(workerID),
		claimWindow,
		s.prefix+":job:",
	).Result()
	if err == redis.Nil {
		return core.Job{}, fmt.Errorf("%w: lane %q has no claimable jobs", core.ErrJobNotFound, lane)
	}
	if err != nil {
		return core.Job{}, fmt.Errorf("redisstore: claim: %w", err)
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return core.Job{}, fmt.Errorf("%w: lane %q has no claimable jobs", core.ErrJobNotFound, lane)
	}
	return s.Get(ctx, id)
}

func (s *JobStore) Complete(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, core.JobStatusCompleted, now, func(job *core.Job) {
		job.LastError = ""
	})
}

func (s *JobStore) Retry(ctx context.Context, id string, runAt time.Time, reason string, now time.Time) error {
	return s.transition(ctx, id, core.JobStatusDelayed, now, func(job *core.Job) {
		job.Attempts++
		job.ScheduledAt = runAt
		job.LastError = strings.TrimSpace(reason)
	})
}

func (s *JobStore) Fail(ctx context.Context, id, reason string, now time.Time) error {
	return s.transition(ctx, id, core.JobStatusFailed, now, func(job *core.Job) {
		job.Attempts++
		job.LastError = strings.TrimSpace(reason)
	})
}

// transition moves a job between statuses inside a WATCH transaction so the
// hash update and the lane index moves land together or not at all.
func (s *JobStore) transition(ctx context.Context, id string, target core.JobStatus, now time.Time, mutate func(*core.Job)) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: job store is not configured")
	}
	id = strings.TrimSpace(id)
	key := s.jobKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redisstore: transition: %w", err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
		}
		job, err := fieldsToJob(id, fields)
		if err != nil {
			return err
		}
		previous := job.Status
		if err := job.TransitionTo(target, "", now); err != nil {
			return err
		}
		if mutate != nil {
			mutate(&job)
		}
		job.UpdatedAt = now

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeFromIndex(ctx, pipe, job.Lane, id, previous)
			s.writeJob(ctx, pipe, job)
			return nil
		})
		return err
	}, key)
}

func (s *JobStore) removeFromIndex(ctx context.Context, pipe redis.Pipeliner, lane, id string, status core.JobStatus) {
	switch status {
	case core.JobStatusWaiting, core.JobStatusDelayed:
		pipe.ZRem(ctx, s.readyKey(lane), id)
	case core.JobStatusActive:
		pipe.ZRem(ctx, s.activeKey(lane), id)
	default:
		pipe.ZRem(ctx, s.terminalKey(lane), id)
	}
}

func (s *JobStore) Remove(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: job store is not configured")
	}
	id = strings.TrimSpace(id)
	key := s.jobKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redisstore: remove: %w", err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: %q", core.ErrJobNotFound, id)
		}
		job, err := fieldsToJob(id, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeFromIndex(ctx, pipe, job.Lane, id, job.Status)
			pipe.SRem(ctx, s.laneIDsKey(job.Lane), id)
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
}

func (s *JobStore) Clean(ctx context.Context, lane string, statuses []core.JobStatus, olderThan time.Time) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("redisstore: job store is not configured")
	}
	wanted := map[core.JobStatus]struct{}{}
	for _, status := range statuses {
		if !status.Terminal() {
			return 0, fmt.Errorf("%w: cannot clean %q jobs", core.ErrJobNotTerminal, status)
		}
		wanted[status] = struct{}{}
	}
	lane = strings.TrimSpace(lane)

	ids, err := s.client.ZRangeByScore(ctx, s.terminalKey(lane), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: clean: %w", err)
	}

	removed := 0
	for _, id := range ids {
		status, err := s.client.HGet(ctx, s.jobKey(id), "status").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redisstore: clean: %w", err)
		}
		if _, ok := wanted[core.JobStatus(status)]; !ok {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, s.terminalKey(lane), id)
		pipe.SRem(ctx, s.laneIDsKey(lane), id)
		pipe.Del(ctx, s.jobKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("redisstore: clean: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *JobStore) ReleaseExpired(ctx context.Context, lane string, now time.Time) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("redisstore: job store is not configured")
	}
	lane = strings.TrimSpace(lane)

	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(lane), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: release expired: %w", err)
	}

	released := 0
	for _, id := range ids {
		err := s.transition(ctx, id, core.JobStatusWaiting, now, func(job *core.Job) {
			job.ScheduledAt = now
			job.LastError = "lease expired"
		})
		if err != nil {
			// another worker completed or failed the job first
			continue
		}
		released++
	}
	return released, nil
}

func (s *JobStore) ResetForRetry(ctx context.Context, id string, now time.Time) (core.Job, error) {
	if s == nil || s.client == nil {
		return core.Job{}, fmt.Errorf("redisstore: job store is not configured")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return core.Job{}, err
	}
	if current.Status != core.JobStatusFailed {
		return core.Job{}, fmt.Errorf("%w: job %q is %s", core.ErrJobNotTerminal, id, current.Status)
	}
	err = s.transition(ctx, id, core.JobStatusWaiting, now, func(job *core.Job) {
		job.Attempts = 0
		job.LastError = ""
		job.ScheduledAt = now
	})
	if err != nil {
		return core.Job{}, err
	}
	return s.Get(ctx, id)
}

func (s *JobStore) CountByStatus(ctx context.Context, lane string) (map[core.JobStatus]int, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redisstore: job store is not configured")
	}
	lanes := []string{strings.TrimSpace(lane)}
	if lanes[0] == "" {
		known, err := s.client.SMembers(ctx, s.lanesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: count by status: %w", err)
		}
		lanes = known
	}

	counts := map[core.JobStatus]int{}
	for _, name := range lanes {
		ids, err := s.client.SMembers(ctx, s.laneIDsKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: count by status: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		pipe := s.client.Pipeline()
		results := make([]*redis.StringCmd, 0, len(ids))
		for _, id := range ids {
			results = append(results, pipe.HGet(ctx, s.jobKey(id), "status"))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("redisstore: count by status: %w", err)
		}
		for _, result := range results {
			status, err := result.Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redisstore: count by status: %w", err)
			}
			counts[core.JobStatus(status)]++
		}
	}
	return counts, nil
}

func jobToFields(job core.Job) map[string]any {
	fields := map[string]any{
		"lane":          job.Lane,
		"payload":       string(job.Payload),
		"priority":      job.Priority,
		"attempts":      job.Attempts,
		"max_attempts":  job.MaxAttempts,
		"retry_base_ms": job.RetryBase.Milliseconds(),
		"status":        string(job.Status),
		"scheduled_at":  job.ScheduledAt.UnixMilli(),
		"timeout_ms":    job.Timeout.Milliseconds(),
		"worker_id":     job.WorkerID,
		"last_error":    job.LastError,
		"created_at":    job.CreatedAt.UnixMilli(),
		"updated_at":    job.UpdatedAt.UnixMilli(),
	}
	if job.LeaseExpiresAt != nil {
		fields["lease_expires_at"] = job.LeaseExpiresAt.UnixMilli()
	} else {
		fields["lease_expires_at"] = ""
	}
	return fields
}

func fieldsToJob(id string, fields map[string]string) (core.Job, error) {
	job := core.Job{
		ID:          id,
		Lane:        fields["lane"],
		Payload:     []byte(fields["payload"]),
		Priority:    parseInt(fields["priority"]),
		Attempts:    parseInt(fields["attempts"]),
		MaxAttempts: parseInt(fields["max_attempts"]),
		RetryBase:   time.Duration(parseInt64(fields["retry_base_ms"])) * time.Millisecond,
		Status:      core.JobStatus(fields["status"]),
		ScheduledAt: parseMillis(fields["scheduled_at"]),
		Timeout:     time.Duration(parseInt64(fields["timeout_ms"])) * time.Millisecond,
		WorkerID:    fields["worker_id"],
		LastError:   fields["last_error"],
		CreatedAt:   parseMillis(fields["created_at"]),
		UpdatedAt:   parseMillis(fields["updated_at"]),
	}
	if raw := strings.TrimSpace(fields["lease_expires_at"]); raw != "" {
		expiry := parseMillis(raw)
		job.LeaseExpiresAt = &expiry
	}
	if job.Lane == "" {
		return core.Job{}, fmt.Errorf("redisstore: job %q record is missing its lane", id)
	}
	return job, nil
}

func parseInt(raw string) int {
	value, _ := strconv.Atoi(strings.TrimSpace(raw))
	return value
}

func parseInt64(raw string) int64 {
	value, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return value
}

func parseMillis(raw string) time.Time {
	millis := parseInt64(raw)
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

var _ core.JobStore = (*JobStore)(nil)
