package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

// Janitor periodically drops terminal jobs past their retention window so
// lanes do not accumulate history forever.
type Janitor struct {
	Queue     *Queue
	Schedule  string
	Retention time.Duration
	Logger    core.Logger
	Now       core.NowFunc

	cron *cron.Cron
}

func NewJanitor(queue *Queue, cfg core.CleanConfig) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Janitor{
		Queue:     queue,
		Schedule:  schedule,
		Retention: retention,
		Logger:    glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	if j == nil || j.Queue == nil {
		return fmt.Errorf("queue: janitor requires a queue")
	}
	if j.cron != nil {
		return fmt.Errorf("queue: janitor already started")
	}
	runner := cron.New()
	if _, err := runner.AddFunc(j.Schedule, func() {
		j.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("queue: janitor schedule %q: %w", j.Schedule, err)
	}
	j.cron = runner
	runner.Start()
	return nil
}

func (j *Janitor) Stop() {
	if j == nil || j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}

// Sweep runs one retention pass over every configured lane.
func (j *Janitor) Sweep(ctx context.Context) {
	if j == nil || j.Queue == nil {
		return
	}
	cutoff := j.now().Add(-j.Retention)
	statuses := []core.JobStatus{core.JobStatusCompleted, core.JobStatusFailed}
	for _, lane := range j.Queue.Config.Lanes {
		removed, err := j.Queue.Clean(ctx, lane.Name, statuses, cutoff)
		if err != nil {
			j.logError(ctx, "retention sweep failed", lane.Name, err)
			continue
		}
		if removed > 0 && j.Logger != nil {
			j.Logger.Info("retention sweep removed jobs", "lane", lane.Name, "removed", removed)
		}
	}
}

func (j *Janitor) now() time.Time {
	if j != nil && j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func (j *Janitor) logError(ctx context.Context, message, lane string, err error) {
	if j == nil || j.Logger == nil {
		return
	}
	logger := j.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Error(message, "lane", lane, "error", err.Error())
}
