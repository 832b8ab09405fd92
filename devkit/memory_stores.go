package devkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/google/uuid"
)

type MemoryRegistrationStore struct {
	mu            sync.RWMutex
	registrations map[string]core.WebhookRegistration
}

func NewMemoryRegistrationStore() *MemoryRegistrationStore {
	return &MemoryRegistrationStore{registrations: map[string]core.WebhookRegistration{}}
}

func (s *MemoryRegistrationStore) Create(_ context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error) {
	if s == nil {
		return core.WebhookRegistration{}, fmt.Errorf("devkit: registration store is nil")
	}
	if strings.TrimSpace(registration.ID) == "" {
		registration.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registrations[registration.ID]; exists {
		return core.WebhookRegistration{}, fmt.Errorf("devkit: registration %q already exists", registration.ID)
	}
	s.registrations[registration.ID] = registration
	return registration, nil
}

func (s *MemoryRegistrationStore) Get(_ context.Context, id string) (core.WebhookRegistration, error) {
	if s == nil {
		return core.WebhookRegistration{}, fmt.Errorf("devkit: registration store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	registration, ok := s.registrations[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookRegistration{}, fmt.Errorf("%w: %q", core.ErrRegistrationNotFound, id)
	}
	return registration, nil
}

func (s *MemoryRegistrationStore) Update(_ context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error) {
	if s == nil {
		return core.WebhookRegistration{}, fmt.Errorf("devkit: registration store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[registration.ID]; !ok {
		return core.WebhookRegistration{}, fmt.Errorf("%w: %q", core.ErrRegistrationNotFound, registration.ID)
	}
	s.registrations[registration.ID] = registration
	return registration, nil
}

func (s *MemoryRegistrationStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("devkit: registration store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.registrations[id]; !ok {
		return fmt.Errorf("%w: %q", core.ErrRegistrationNotFound, id)
	}
	delete(s.registrations, id)
	return nil
}

func (s *MemoryRegistrationStore) ListActiveForEvent(_ context.Context, event string) ([]core.WebhookRegistration, error) {
	if s == nil {
		return nil, fmt.Errorf("devkit: registration store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.WebhookRegistration, 0)
	for _, registration := range s.registrations {
		if registration.Active && registration.SubscribedTo(event) {
			out = append(out, registration)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRegistrationStore) List(_ context.Context) ([]core.WebhookRegistration, error) {
	if s == nil {
		return nil, fmt.Errorf("devkit: registration store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.WebhookRegistration, 0, len(s.registrations))
	for _, registration := range s.registrations {
		out = append(out, registration)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MemoryPreferenceStore struct {
	mu          sync.RWMutex
	preferences map[string]core.NotificationPreferences
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{preferences: map[string]core.NotificationPreferences{}}
}

// Get returns empty preferences for unknown users: every channel enabled and
// no quiet hours.
func (s *MemoryPreferenceStore) Get(_ context.Context, userID string) (core.NotificationPreferences, error) {
	if s == nil {
		return core.NotificationPreferences{}, fmt.Errorf("devkit: preference store is nil")
	}
	userID = strings.TrimSpace(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	preferences, ok := s.preferences[userID]
	if !ok {
		return core.NotificationPreferences{UserID: userID}, nil
	}
	return preferences, nil
}

func (s *MemoryPreferenceStore) Put(_ context.Context, preferences core.NotificationPreferences) (core.NotificationPreferences, error) {
	if s == nil {
		return core.NotificationPreferences{}, fmt.Errorf("devkit: preference store is nil")
	}
	userID := strings.TrimSpace(preferences.UserID)
	if userID == "" {
		return core.NotificationPreferences{}, fmt.Errorf("devkit: preferences user id is required")
	}
	preferences.UserID = userID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[userID] = preferences
	return preferences, nil
}

type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []core.DeliveryAttempt
	byID     map[string]int
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{byID: map[string]int{}}
}

func (s *MemoryAttemptStore) Append(_ context.Context, attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	if s == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("devkit: attempt store is nil")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		attempt.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[attempt.ID] = len(s.attempts)
	s.attempts = append(s.attempts, attempt)
	return attempt, nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, id string) (core.DeliveryAttempt, error) {
	if s == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("devkit: attempt store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return core.DeliveryAttempt{}, fmt.Errorf("%w: %q", core.ErrAttemptNotFound, id)
	}
	return s.attempts[index], nil
}

// List returns matching attempts newest first.
func (s *MemoryAttemptStore) List(_ context.Context, filter core.AttemptFilter) ([]core.DeliveryAttempt, error) {
	if s == nil {
		return nil, fmt.Errorf("devkit: attempt store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.DeliveryAttempt, 0)
	for _, attempt := range s.attempts {
		if !matchesFilter(attempt, filter) {
			continue
		}
		out = append(out, attempt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(attempt core.DeliveryAttempt, filter core.AttemptFilter) bool {
	if filter.JobID != "" && attempt.JobID != filter.JobID {
		return false
	}
	if filter.RegistrationID != "" && attempt.RegistrationID != filter.RegistrationID {
		return false
	}
	if filter.Recipient != "" && attempt.Recipient != filter.Recipient {
		return false
	}
	if filter.Channel != "" && attempt.Channel != filter.Channel {
		return false
	}
	if filter.Event != "" && attempt.Event != filter.Event {
		return false
	}
	if filter.Outcome != "" && attempt.Outcome != filter.Outcome {
		return false
	}
	if !filter.Since.IsZero() && attempt.CreatedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !attempt.CreatedAt.Before(filter.Until) {
		return false
	}
	return true
}

func (s *MemoryAttemptStore) MarkRead(_ context.Context, id string, at time.Time) error {
	if s == nil {
		return fmt.Errorf("devkit: attempt store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrAttemptNotFound, id)
	}
	attempt := s.attempts[index]
	attempt.ReadAt = &at
	s.attempts[index] = attempt
	return nil
}

var (
	_ core.RegistrationStore = (*MemoryRegistrationStore)(nil)
	_ core.PreferenceStore   = (*MemoryPreferenceStore)(nil)
	_ core.AttemptStore      = (*MemoryAttemptStore)(nil)
)
