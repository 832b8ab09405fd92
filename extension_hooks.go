package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-dispatch/core"
)

// TransportPack groups the channel transports an integration contributes so
// hosts can install them in one call.
type TransportPack struct {
	Name       string
	Transports []core.Transport
}

// TemplatePack groups the notification templates an integration ships with.
type TemplatePack struct {
	Name      string
	Templates []core.NotificationTemplate
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// TransportRegistry is the subset of the transport registry the hooks need.
type TransportRegistry interface {
	Register(transport core.Transport) error
}

// ExtensionHooks collects transports, templates, and command/query bundles
// contributed by downstream integrations before the engine is assembled.
type ExtensionHooks struct {
	mu sync.RWMutex

	transportPacks map[string]TransportPack
	templatePacks  map[string]TemplatePack
	bundles        map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		transportPacks: map[string]TransportPack{},
		templatePacks:  map[string]TemplatePack{},
		bundles:        map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterTransportPack(pack TransportPack) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("dispatch: transport pack name is required")
	}
	if len(pack.Transports) == 0 {
		return fmt.Errorf("dispatch: transport pack %q has no transports", name)
	}

	normalized := TransportPack{
		Name:       name,
		Transports: append([]core.Transport(nil), pack.Transports...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.transportPacks[name]; exists {
		return fmt.Errorf("dispatch: transport pack %q already registered", name)
	}
	h.transportPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterTemplatePack(pack TemplatePack) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("dispatch: template pack name is required")
	}
	if len(pack.Templates) == 0 {
		return fmt.Errorf("dispatch: template pack %q has no templates", name)
	}

	normalized := TemplatePack{
		Name:      name,
		Templates: append([]core.NotificationTemplate(nil), pack.Templates...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.templatePacks[name]; exists {
		return fmt.Errorf("dispatch: template pack %q already registered", name)
	}
	h.templatePacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("dispatch: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("dispatch: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("dispatch: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) ApplyTransportPacks(registry TransportRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("dispatch: transport registry is required")
	}

	for _, pack := range h.TransportPacks() {
		for _, t := range pack.Transports {
			if t == nil {
				return fmt.Errorf("dispatch: transport pack %q contains nil transport", pack.Name)
			}
			if err := registry.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ApplyTemplatePacks(ctx context.Context, store core.TemplateStore) error {
	if h == nil {
		return nil
	}
	if store == nil {
		return fmt.Errorf("dispatch: template store is required")
	}

	for _, pack := range h.TemplatePacks() {
		for _, template := range pack.Templates {
			if err := store.Put(ctx, template); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) TransportPacks() []TransportPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.transportPacks))
	for name := range h.transportPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TransportPack, 0, len(names))
	for _, name := range names {
		pack := h.transportPacks[name]
		out = append(out, TransportPack{
			Name:       pack.Name,
			Transports: append([]core.Transport(nil), pack.Transports...),
		})
	}
	return out
}

func (h *ExtensionHooks) TemplatePacks() []TemplatePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.templatePacks))
	for name := range h.templatePacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TemplatePack, 0, len(names))
	for _, name := range names {
		pack := h.templatePacks[name]
		out = append(out, TemplatePack{
			Name:      pack.Name,
			Templates: append([]core.NotificationTemplate(nil), pack.Templates...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
