// Package tracker keeps the append-only history of delivery attempts.
// Attempts are never mutated after the fact; the single exception is the
// read marker used by in-app notification feeds.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Tracker struct {
	Store   core.AttemptStore
	Metrics core.MetricsRecorder
	Logger  core.Logger
	Now     core.NowFunc
}

func New(store core.AttemptStore) *Tracker {
	return &Tracker{
		Store:   store,
		Metrics: core.NopMetricsRecorder{},
		Logger:  glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (t *Tracker) Record(ctx context.Context, attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	if t == nil || t.Store == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("tracker: attempt store is required")
	}
	if strings.TrimSpace(attempt.JobID) == "" {
		return core.DeliveryAttempt{}, fmt.Errorf("tracker: attempt job id is required")
	}
	if err := attempt.Channel.Validate(); err != nil {
		return core.DeliveryAttempt{}, err
	}
	if attempt.Outcome != core.AttemptOutcomeSuccess && attempt.Outcome != core.AttemptOutcomeFailure {
		return core.DeliveryAttempt{}, fmt.Errorf("tracker: invalid outcome %q", attempt.Outcome)
	}
	if attempt.AttemptNumber <= 0 {
		return core.DeliveryAttempt{}, fmt.Errorf("tracker: attempt number must be positive")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = t.now()
	}

	stored, err := t.Store.Append(ctx, attempt)
	if err != nil {
		return core.DeliveryAttempt{}, err
	}
	if t.Metrics != nil {
		t.Metrics.IncCounter(ctx, "tracker.attempts.total", 1, map[string]string{
			"channel": string(stored.Channel),
			"outcome": string(stored.Outcome),
		})
	}
	return stored, nil
}

func (t *Tracker) History(ctx context.Context, filter core.AttemptFilter) ([]core.DeliveryAttempt, error) {
	if t == nil || t.Store == nil {
		return nil, fmt.Errorf("tracker: attempt store is required")
	}
	return t.Store.List(ctx, filter)
}

func (t *Tracker) Stats(ctx context.Context, filter core.AttemptFilter) (core.DeliveryStats, error) {
	if t == nil || t.Store == nil {
		return core.DeliveryStats{}, fmt.Errorf("tracker: attempt store is required")
	}
	attempts, err := t.Store.List(ctx, filter)
	if err != nil {
		return core.DeliveryStats{}, err
	}
	return core.AggregateAttempts(attempts), nil
}

func (t *Tracker) MarkRead(ctx context.Context, attemptID string, at time.Time) error {
	if t == nil || t.Store == nil {
		return fmt.Errorf("tracker: attempt store is required")
	}
	attemptID = strings.TrimSpace(attemptID)
	if attemptID == "" {
		return fmt.Errorf("tracker: attempt id is required")
	}
	if at.IsZero() {
		at = t.now()
	}
	return t.Store.MarkRead(ctx, attemptID, at)
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.DeliveryTracker = (*Tracker)(nil)
