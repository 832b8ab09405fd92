package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryTemplateStore is the default template source; deployments with
// managed templates swap in a durable implementation.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]NotificationTemplate
}

func NewMemoryTemplateStore(templates ...NotificationTemplate) *MemoryTemplateStore {
	store := &MemoryTemplateStore{
		templates: map[string]NotificationTemplate{},
	}
	for _, template := range templates {
		name := strings.TrimSpace(template.Name)
		if name == "" {
			continue
		}
		store.templates[name] = template
	}
	return store
}

func (s *MemoryTemplateStore) Get(_ context.Context, name string) (NotificationTemplate, error) {
	if s == nil {
		return NotificationTemplate{}, fmt.Errorf("core: template store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.templates[strings.TrimSpace(name)]
	if !ok {
		return NotificationTemplate{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return template, nil
}

func (s *MemoryTemplateStore) Put(_ context.Context, template NotificationTemplate) error {
	if s == nil {
		return fmt.Errorf("core: template store is nil")
	}
	name := strings.TrimSpace(template.Name)
	if name == "" {
		return fmt.Errorf("core: template name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = template
	return nil
}

var _ TemplateStore = (*MemoryTemplateStore)(nil)
