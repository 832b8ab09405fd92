package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/uptrace/bun"
)

type PreferenceStore struct {
	db *bun.DB
}

func NewPreferenceStore(db *bun.DB) (*PreferenceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &PreferenceStore{db: db}, nil
}

// Get returns empty opt-out preferences for unknown users; every channel is
// enabled until the user says otherwise.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (core.NotificationPreferences, error) {
	if s == nil || s.db == nil {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: preference store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: user id is required")
	}
	record := &preferenceRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.NotificationPreferences{
				UserID:   userID,
				Channels: map[core.Channel]bool{},
			}, nil
		}
		return core.NotificationPreferences{}, err
	}
	return record.toDomain(), nil
}

func (s *PreferenceStore) Put(
	ctx context.Context,
	preferences core.NotificationPreferences,
) (core.NotificationPreferences, error) {
	if s == nil || s.db == nil {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: preference store is not configured")
	}
	preferences.UserID = strings.TrimSpace(preferences.UserID)
	if preferences.UserID == "" {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: user id is required")
	}
	for channel := range preferences.Channels {
		if err := channel.Validate(); err != nil {
			return core.NotificationPreferences{}, err
		}
	}

	now := time.Now().UTC()
	record := newPreferenceRecord(preferences, now)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id) DO UPDATE").
		Set("channels = EXCLUDED.channels").
		Set("quiet_start = EXCLUDED.quiet_start").
		Set("quiet_end = EXCLUDED.quiet_end").
		Set("quiet_timezone = EXCLUDED.quiet_timezone").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.NotificationPreferences{}, err
	}
	return record.toDomain(), nil
}

var _ core.PreferenceStore = (*PreferenceStore)(nil)
