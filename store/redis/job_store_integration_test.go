package redisstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-dispatch/core"
	redisstore "github.com/goliatone/go-dispatch/store/redis"
)

// newRedisStore connects to the instance named by DISPATCH_REDIS_ADDR and
// isolates the test run in database 9, flushing it first.
func newRedisStore(t *testing.T) *redisstore.JobStore {
	t.Helper()
	addr := os.Getenv("DISPATCH_REDIS_ADDR")
	if addr == "" {
		t.Skip("set DISPATCH_REDIS_ADDR to run redis store tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.NewJobStore(client)
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}
	return store
}

func TestJobStore_ClaimLifecycle(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := store.Create(ctx, core.Job{
		Lane:        core.LaneWebhooks,
		Payload:     []byte(`{"event":"order.shipped"}`),
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	claimed, err := store.Claim(ctx, core.LaneWebhooks, "worker-1", now, 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != created.ID || claimed.Status != core.JobStatusActive {
		t.Fatalf("unexpected claim result: %#v", claimed)
	}
	if claimed.LeaseExpiresAt == nil || claimed.WorkerID != "worker-1" {
		t.Fatalf("expected lease stamp on claim: %#v", claimed)
	}

	if _, err := store.Claim(ctx, core.LaneWebhooks, "worker-2", now, 30*time.Second); err == nil {
		t.Fatalf("expected drained lane after claim")
	}

	if err := store.Complete(ctx, created.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	completed, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if completed.Status != core.JobStatusCompleted || completed.LeaseExpiresAt != nil {
		t.Fatalf("expected completed job with cleared lease: %#v", completed)
	}

	if err := store.Complete(ctx, created.ID, now.Add(2*time.Second)); err == nil {
		t.Fatalf("expected double complete to be rejected")
	}
}

func TestJobStore_ClaimPrefersPriorityThenAge(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	jobs := make([]core.Job, 0, 3)
	for i, priority := range []int{1, 5, 5} {
		created, err := store.Create(ctx, core.Job{
			Lane:        core.LaneNotifications,
			Payload:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Priority:    priority,
			ScheduledAt: now.Add(-time.Duration(3-i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create job %d: %v", i, err)
		}
		jobs = append(jobs, created)
	}

	first, err := store.Claim(ctx, core.LaneNotifications, "worker-1", now, time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.ID != jobs[0].ID {
		t.Fatalf("expected lowest priority value first, got %q", first.ID)
	}

	second, err := store.Claim(ctx, core.LaneNotifications, "worker-1", now, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.ID != jobs[1].ID {
		t.Fatalf("expected older job on priority tie, got %q", second.ID)
	}
}

func TestJobStore_RetryFailAndReset(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := store.Create(ctx, core.Job{
		Lane:        core.LaneWebhooks,
		Payload:     []byte(`{"event":"invoice.paid"}`),
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.Claim(ctx, core.LaneWebhooks, "worker-1", now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	runAt := now.Add(time.Minute)
	if err := store.Retry(ctx, created.ID, runAt, "connect timeout", now); err != nil {
		t.Fatalf("retry: %v", err)
	}
	delayed, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get delayed: %v", err)
	}
	if delayed.Status != core.JobStatusDelayed || delayed.Attempts != 1 {
		t.Fatalf("unexpected delayed job: %#v", delayed)
	}
	if delayed.LastError != "connect timeout" {
		t.Fatalf("expected retry reason, got %q", delayed.LastError)
	}

	if _, err := store.Claim(ctx, core.LaneWebhooks, "worker-1", now, time.Minute); err == nil {
		t.Fatalf("expected delayed job to be unclaimable before run_at")
	}
	reclaimed, err := store.Claim(ctx, core.LaneWebhooks, "worker-1", runAt.Add(time.Second), time.Minute)
	if err != nil {
		t.Fatalf("claim after delay: %v", err)
	}

	if err := store.Fail(ctx, reclaimed.ID, "endpoint gone", runAt.Add(2*time.Second)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if failed.Status != core.JobStatusFailed || failed.Attempts != 2 {
		t.Fatalf("unexpected failed job: %#v", failed)
	}

	reset, err := store.ResetForRetry(ctx, created.ID, runAt.Add(3*time.Second))
	if err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	if reset.Status != core.JobStatusWaiting || reset.Attempts != 0 || reset.LastError != "" {
		t.Fatalf("unexpected reset job: %#v", reset)
	}
	if _, err := store.ResetForRetry(ctx, created.ID, runAt.Add(4*time.Second)); err == nil {
		t.Fatalf("expected reset of non-terminal job to be rejected")
	}
}

func TestJobStore_ReleaseExpiredAndClean(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := store.Create(ctx, core.Job{
		Lane:    core.LaneWebhooks,
		Payload: []byte(`{"event":"order.shipped"}`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, core.LaneWebhooks, "worker-1", now, time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := store.ReleaseExpired(ctx, core.LaneWebhooks, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("release expired: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released job, got %d", released)
	}
	recovered, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get recovered: %v", err)
	}
	if recovered.Status != core.JobStatusWaiting || recovered.LastError != "lease expired" {
		t.Fatalf("unexpected recovered job: %#v", recovered)
	}

	reclaimed, err := store.Claim(ctx, core.LaneWebhooks, "worker-2", now.Add(3*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := store.Complete(ctx, reclaimed.ID, now.Add(4*time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := store.Clean(ctx, core.LaneWebhooks, []core.JobStatus{core.JobStatusActive}, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected clean of non-terminal status to be rejected")
	}
	removed, err := store.Clean(ctx, core.LaneWebhooks, []core.JobStatus{core.JobStatusCompleted}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 cleaned job, got %d", removed)
	}

	counts, err := store.CountByStatus(ctx, core.LaneWebhooks)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("expected empty lane after clean, got %#v", counts)
	}
}
