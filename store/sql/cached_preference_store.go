package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-dispatch/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const preferenceCacheKeyPrefix = "go-dispatch::notification_preferences::v1"

// CachedPreferenceStore fronts a PreferenceStore with a read-through cache.
// Preferences are read on every fan-out and change rarely, so reads hit the
// cache and writes invalidate the user's entry.
type CachedPreferenceStore struct {
	base  core.PreferenceStore
	cache repositorycache.CacheService
}

func NewCachedPreferenceStore(
	base core.PreferenceStore,
	cacheService repositorycache.CacheService,
) (*CachedPreferenceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base preference store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: preference cache service is required")
	}
	return &CachedPreferenceStore{base: base, cache: cacheService}, nil
}

// PreferenceCacheKey returns the deterministic cache key contract for
// preference reads: go-dispatch::notification_preferences::v1::<user_id>
// with the user segment URL-path escaped.
func PreferenceCacheKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("sqlstore: user id is required")
	}
	return strings.Join([]string{preferenceCacheKeyPrefix, url.PathEscape(userID)}, "::"), nil
}

func (s *CachedPreferenceStore) Get(ctx context.Context, userID string) (core.NotificationPreferences, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: cached preference store is not configured")
	}
	userID = strings.TrimSpace(userID)
	cacheKey, err := PreferenceCacheKey(userID)
	if err != nil {
		return core.NotificationPreferences{}, err
	}

	preferences, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey,
		func(ctx context.Context) (core.NotificationPreferences, error) {
			fetched, fetchErr := s.base.Get(ctx, userID)
			if fetchErr != nil {
				return core.NotificationPreferences{}, fetchErr
			}
			return clonePreferences(fetched), nil
		})
	if err != nil {
		return core.NotificationPreferences{}, err
	}
	return clonePreferences(preferences), nil
}

func (s *CachedPreferenceStore) Put(
	ctx context.Context,
	preferences core.NotificationPreferences,
) (core.NotificationPreferences, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.NotificationPreferences{}, fmt.Errorf("sqlstore: cached preference store is not configured")
	}
	saved, err := s.base.Put(ctx, preferences)
	if err != nil {
		return core.NotificationPreferences{}, err
	}

	cacheKey, err := PreferenceCacheKey(saved.UserID)
	if err != nil {
		return core.NotificationPreferences{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.NotificationPreferences{}, err
	}
	return saved, nil
}

func clonePreferences(preferences core.NotificationPreferences) core.NotificationPreferences {
	cloned := core.NotificationPreferences{
		UserID:   preferences.UserID,
		Channels: make(map[core.Channel]bool, len(preferences.Channels)),
	}
	for channel, enabled := range preferences.Channels {
		cloned.Channels[channel] = enabled
	}
	if preferences.QuietHours != nil {
		quiet := *preferences.QuietHours
		cloned.QuietHours = &quiet
	}
	return cloned
}

var _ core.PreferenceStore = (*CachedPreferenceStore)(nil)
