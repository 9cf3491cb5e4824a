package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ServiceRegistry holds the immutable descriptors of the configured services.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]ServiceDescriptor
}

func NewServiceRegistry(descriptors ...ServiceDescriptor) (*ServiceRegistry, error) {
	registry := &ServiceRegistry{services: make(map[string]ServiceDescriptor)}
	for _, descriptor := range descriptors {
		if err := registry.Register(descriptor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *ServiceRegistry) Register(descriptor ServiceDescriptor) error {
	if r == nil {
		return fmt.Errorf("core: service registry is nil")
	}
	descriptor = normalizeDescriptor(descriptor)
	if err := descriptor.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[descriptor.ServiceID]; exists {
		return NewConfigurationError(
			fmt.Sprintf("core: service already registered: %s", descriptor.ServiceID),
			map[string]any{"service_id": descriptor.ServiceID},
		)
	}
	r.services[descriptor.ServiceID] = descriptor
	return nil
}

func (r *ServiceRegistry) Descriptor(serviceID string) (ServiceDescriptor, bool) {
	if r == nil {
		return ServiceDescriptor{}, false
	}
	id := strings.TrimSpace(serviceID)
	if id == "" {
		return ServiceDescriptor{}, false
	}
	r.mu.RLock()
	descriptor, ok := r.services[id]
	r.mu.RUnlock()
	return descriptor, ok
}

func (r *ServiceRegistry) ServiceIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.services)
}

func normalizeDescriptor(descriptor ServiceDescriptor) ServiceDescriptor {
	descriptor.ServiceID = strings.TrimSpace(descriptor.ServiceID)
	descriptor.AuthorizationURLTemplate = strings.TrimSpace(descriptor.AuthorizationURLTemplate)
	descriptor.TokenEndpointURL = strings.TrimSpace(descriptor.TokenEndpointURL)
	descriptor.ClientID = strings.TrimSpace(descriptor.ClientID)
	descriptor.ClientSecret = strings.TrimSpace(descriptor.ClientSecret)
	return descriptor
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ ServiceCatalog = (*ServiceRegistry)(nil)
