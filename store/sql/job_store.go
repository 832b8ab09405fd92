package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStore persists jobs in a relational table. Claim runs as a two-step
// compare-and-set inside a transaction so concurrent workers on the same
// lane never receive the same job.
type JobStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
}

func NewJobStore(db *bun.DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	return &JobStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *JobStore) Create(ctx context.Context, job core.Job) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
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
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = core.JobStatusWaiting
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	record := newJobRecord(job)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) CreateBatch(ctx context.Context, jobs []core.Job) ([]core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	if len(jobs) == 0 {
		return []core.Job{}, nil
	}
	created := make([]core.Job, 0, len(jobs))
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		for _, job := range jobs {
			job.Lane = strings.TrimSpace(job.Lane)
			if job.Lane == "" {
				return fmt.Errorf("%w: lane is required", core.ErrLaneNotFound)
			}
			if len(job.Payload) == 0 {
				return fmt.Errorf("%w: payload is required", core.ErrInvalidPayload)
			}
			if strings.TrimSpace(job.ID) == "" {
				job.ID = uuid.NewString()
			}
			if job.Status == "" {
				job.Status = core.JobStatusWaiting
			}
			if job.ScheduledAt.IsZero() {
				job.ScheduledAt = now
			}
			if job.CreatedAt.IsZero() {
				job.CreatedAt = now
			}
			job.UpdatedAt = now

			record := newJobRecord(job)
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			created = append(created, record.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Job{}, fmt.Errorf("%w: id %q", core.ErrJobNotFound, id)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) Claim(
	ctx context.Context,
	lane, workerID string,
	now time.Time,
	lease time.Duration,
) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return core.Job{}, fmt.Errorf("%w: lane is required", core.ErrLaneNotFound)
	}

	var claimed core.Job
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		candidate := &jobRecord{}
		selectErr := tx.NewSelect().
			Model(candidate).
			Where("?TableAlias.lane = ?", lane).
			Where("?TableAlias.status IN (?)", bun.In([]string{
				string(core.JobStatusWaiting),
				string(core.JobStatusDelayed),
			})).
			Where("?TableAlias.scheduled_at <= ?", now).
			OrderExpr("?TableAlias.priority ASC").
			OrderExpr("?TableAlias.scheduled_at ASC").
			Limit(1).
			Scan(ctx)
		if selectErr != nil {
			if selectErr == sql.ErrNoRows {
				return fmt.Errorf("%w: no claimable job in lane %q", core.ErrJobNotFound, lane)
			}
			return selectErr
		}

		leaseExpiry := now.Add(lease).UTC()
		result, updateErr := tx.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("status = ?", string(core.JobStatusActive)).
			Set("lease_expires_at = ?", leaseExpiry).
			Set("worker_id = ?", strings.TrimSpace(workerID)).
			Set("updated_at = ?", now.UTC()).
			Where("id = ?", candidate.ID).
			Where("status IN (?)", bun.In([]string{
				string(core.JobStatusWaiting),
				string(core.JobStatusDelayed),
			})).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return affectedErr
		}
		if affected == 0 {
			// Another worker won the race between the select and the update.
			return fmt.Errorf("%w: no claimable job in lane %q", core.ErrJobNotFound, lane)
		}

		candidate.Status = string(core.JobStatusActive)
		candidate.LeaseExpiresAt = &leaseExpiry
		candidate.WorkerID = strings.TrimSpace(workerID)
		candidate.UpdatedAt = now.UTC()
		claimed = candidate.toDomain()
		return nil
	})
	if err != nil {
		return core.Job{}, err
	}
	return claimed, nil
}

func (s *JobStore) Complete(ctx context.Context, id string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusCompleted)).
		Set("lease_expires_at = NULL").
		Set("worker_id = ?", "").
		Set("last_error = ?", "").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusActive)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, result, id, core.JobStatusCompleted)
}

func (s *JobStore) Retry(ctx context.Context, id string, runAt time.Time, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusDelayed)).
		Set("attempts = attempts + 1").
		Set("scheduled_at = ?", runAt.UTC()).
		Set("lease_expires_at = NULL").
		Set("worker_id = ?", "").
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusActive)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, result, id, core.JobStatusDelayed)
}

func (s *JobStore) Fail(ctx context.Context, id, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusFailed)).
		Set("attempts = attempts + 1").
		Set("lease_expires_at = NULL").
		Set("worker_id = ?", "").
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status IN (?)", bun.In([]string{
			string(core.JobStatusActive),
			string(core.JobStatusDelayed),
		})).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, result, id, core.JobStatusFailed)
}

func (s *JobStore) Remove(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrJobNotFound, id)
	}
	return nil
}

func (s *JobStore) Clean(
	ctx context.Context,
	lane string,
	statuses []core.JobStatus,
	olderThan time.Time,
) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if !status.Terminal() {
			return 0, fmt.Errorf("%w: status %q", core.ErrJobNotTerminal, status)
		}
		values = append(values, string(status))
	}
	result, err := s.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("lane = ?", strings.TrimSpace(lane)).
		Where("status IN (?)", bun.In(values)).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *JobStore) ReleaseExpired(ctx context.Context, lane string, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusWaiting)).
		Set("scheduled_at = ?", now.UTC()).
		Set("lease_expires_at = NULL").
		Set("worker_id = ?", "").
		Set("last_error = ?", "lease expired").
		Set("updated_at = ?", now.UTC()).
		Where("lane = ?", strings.TrimSpace(lane)).
		Where("status = ?", string(core.JobStatusActive)).
		Where("lease_expires_at IS NOT NULL").
		Where("lease_expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *JobStore) ResetForRetry(ctx context.Context, id string, now time.Time) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusWaiting)).
		Set("attempts = ?", 0).
		Set("scheduled_at = ?", now.UTC()).
		Set("lease_expires_at = NULL").
		Set("worker_id = ?", "").
		Set("last_error = ?", "").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusFailed)).
		Exec(ctx)
	if err != nil {
		return core.Job{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Job{}, err
	}
	if affected == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return core.Job{}, getErr
		}
		return core.Job{}, fmt.Errorf("%w: job %q is %s", core.ErrJobNotTerminal, id, job.Status)
	}
	return s.Get(ctx, id)
}

func (s *JobStore) CountByStatus(ctx context.Context, lane string) (map[core.JobStatus]int, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Total  int    `bun:"total"`
	}
	err := s.db.NewSelect().
		Model((*jobRecord)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS total").
		Where("lane = ?", strings.TrimSpace(lane)).
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[core.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[core.JobStatus(row.Status)] = row.Total
	}
	return counts, nil
}

// requireTransition distinguishes a missing job from a job sitting in a
// status the requested transition does not accept.
func (s *JobStore) requireTransition(
	ctx context.Context,
	result sql.Result,
	id string,
	target core.JobStatus,
) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	job, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: %s -> %s", core.ErrInvalidJobStatusTransition, job.Status, target)
}

var _ core.JobStore = (*JobStore)(nil)
