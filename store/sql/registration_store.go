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

type RegistrationStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRegistrationRecord]
}

func NewRegistrationStore(db *bun.DB) (*RegistrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRegistrationRecord](db, registrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid registration repository wiring: %w", err)
		}
	}
	return &RegistrationStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *RegistrationStore) Create(
	ctx context.Context,
	registration core.WebhookRegistration,
) (core.WebhookRegistration, error) {
	if s == nil || s.db == nil {
		return core.WebhookRegistration{}, fmt.Errorf("sqlstore: registration store is not configured")
	}
	if err := registration.Validate(); err != nil {
		return core.WebhookRegistration{}, err
	}
	if strings.TrimSpace(registration.ID) == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = now

	record := newWebhookRegistrationRecord(registration)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WebhookRegistration{}, fmt.Errorf(
				"sqlstore: registration %q already exists: %w", registration.ID, err)
		}
		return core.WebhookRegistration{}, err
	}
	return record.toDomain(), nil
}

func (s *RegistrationStore) Get(ctx context.Context, id string) (core.WebhookRegistration, error) {
	if s == nil || s.db == nil {
		return core.WebhookRegistration{}, fmt.Errorf("sqlstore: registration store is not configured")
	}
	record := &webhookRegistrationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.WebhookRegistration{}, fmt.Errorf("%w: id %q", core.ErrRegistrationNotFound, id)
		}
		return core.WebhookRegistration{}, err
	}
	return record.toDomain(), nil
}

func (s *RegistrationStore) Update(
	ctx context.Context,
	registration core.WebhookRegistration,
) (core.WebhookRegistration, error) {
	if s == nil || s.db == nil {
		return core.WebhookRegistration{}, fmt.Errorf("sqlstore: registration store is not configured")
	}
	registration.ID = strings.TrimSpace(registration.ID)
	if registration.ID == "" {
		return core.WebhookRegistration{}, fmt.Errorf("sqlstore: registration id is required")
	}
	if err := registration.Validate(); err != nil {
		return core.WebhookRegistration{}, err
	}
	registration.UpdatedAt = time.Now().UTC()

	record := newWebhookRegistrationRecord(registration)
	result, err := s.db.NewUpdate().
		Model(record).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.WebhookRegistration{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WebhookRegistration{}, err
	}
	if affected == 0 {
		return core.WebhookRegistration{}, fmt.Errorf(
			"%w: id %q", core.ErrRegistrationNotFound, registration.ID)
	}
	return record.toDomain(), nil
}

func (s *RegistrationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: registration store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookRegistrationRecord)(nil)).
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
		return fmt.Errorf("%w: id %q", core.ErrRegistrationNotFound, id)
	}
	return nil
}

// ListActiveForEvent filters event subscriptions in Go; the events column is
// a JSON document and matching inside it portably across dialects costs more
// than scanning the (small) active registration set.
func (s *RegistrationStore) ListActiveForEvent(
	ctx context.Context,
	event string,
) ([]core.WebhookRegistration, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: registration store is not configured")
	}
	var records []*webhookRegistrationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.active = ?", true).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]core.WebhookRegistration, 0, len(records))
	for _, record := range records {
		registration := record.toDomain()
		if registration.SubscribedTo(event) {
			matched = append(matched, registration)
		}
	}
	return matched, nil
}

func (s *RegistrationStore) List(ctx context.Context) ([]core.WebhookRegistration, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: registration store is not configured")
	}
	var records []*webhookRegistrationRecord
	err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	registrations := make([]core.WebhookRegistration, 0, len(records))
	for _, record := range records {
		registrations = append(registrations, record.toDomain())
	}
	return registrations, nil
}

var _ core.RegistrationStore = (*RegistrationStore)(nil)
