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

// AttemptStore is the append-only delivery ledger. Rows are never updated
// after insert except for the read marker.
type AttemptStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryAttemptRecord]
}

func NewAttemptStore(db *bun.DB) (*AttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, attemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid attempt repository wiring: %w", err)
		}
	}
	return &AttemptStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *AttemptStore) Append(ctx context.Context, attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	if strings.TrimSpace(attempt.JobID) == "" {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: job id is required")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	record := newDeliveryAttemptRecord(attempt)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.DeliveryAttempt{}, err
	}
	return record.toDomain(), nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	record := &deliveryAttemptRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeliveryAttempt{}, fmt.Errorf("%w: id %q", core.ErrAttemptNotFound, id)
		}
		return core.DeliveryAttempt{}, err
	}
	return record.toDomain(), nil
}

// List returns matching attempts newest first.
func (s *AttemptStore) List(ctx context.Context, filter core.AttemptFilter) ([]core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	var records []*deliveryAttemptRecord
	query := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at DESC").
		OrderExpr("?TableAlias.attempt_number DESC")

	if jobID := strings.TrimSpace(filter.JobID); jobID != "" {
		query = query.Where("?TableAlias.job_id = ?", jobID)
	}
	if registrationID := strings.TrimSpace(filter.RegistrationID); registrationID != "" {
		query = query.Where("?TableAlias.registration_id = ?", registrationID)
	}
	if recipient := strings.TrimSpace(filter.Recipient); recipient != "" {
		query = query.Where("?TableAlias.recipient = ?", recipient)
	}
	if filter.Channel != "" {
		query = query.Where("?TableAlias.channel = ?", string(filter.Channel))
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		query = query.Where("?TableAlias.event = ?", event)
	}
	if filter.Outcome != "" {
		query = query.Where("?TableAlias.outcome = ?", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query = query.Where("?TableAlias.created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("?TableAlias.created_at < ?", filter.Until.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	attempts := make([]core.DeliveryAttempt, 0, len(records))
	for _, record := range records {
		attempts = append(attempts, record.toDomain())
	}
	return attempts, nil
}

func (s *AttemptStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: attempt store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*deliveryAttemptRecord)(nil)).
		Set("read_at = ?", at.UTC()).
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
		return fmt.Errorf("%w: id %q", core.ErrAttemptNotFound, id)
	}
	return nil
}

var _ core.AttemptStore = (*AttemptStore)(nil)
