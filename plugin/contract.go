package plugin

import (
	"fmt"
	"sync"

	"github.com/conducthq/conduct"
)

// Provider is a plugin that implements a logical service contract at a
// specific version.
type Provider struct {
	PluginID string
	Service  string
	Version  int
}

// ContractRegistry maps logical service names to provider plugins. Steps may
// name a service+method instead of a raw plugin id; the executor resolves
// the service here first and then resolves the returned plugin id as usual.
type ContractRegistry struct {
	mu        sync.RWMutex
	providers map[string][]Provider
}

// NewContractRegistry creates an empty contract registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{providers: make(map[string][]Provider)}
}

// RegisterProvider declares that pluginID provides service at version.
// Multiple providers per service are allowed; FindProvider picks the best.
func (r *ContractRegistry) RegisterProvider(service, pluginID string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[service] = append(r.providers[service], Provider{
		PluginID: pluginID,
		Service:  service,
		Version:  version,
	})
}

// FindProvider returns the plugin id of the highest-versioned provider of
// service whose version is at least minVersion.
func (r *ContractRegistry) FindProvider(service string, minVersion int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Provider
	for i := range r.providers[service] {
		p := &r.providers[service][i]
		if p.Version < minVersion {
			continue
		}
		if best == nil || p.Version > best.Version {
			best = p
		}
	}
	if best == nil {
		return "", fmt.Errorf("service %q (min version %d): %w", service, minVersion, conduct.ErrProviderNotFound)
	}
	return best.PluginID, nil
}

// Services returns the registered service names, unsorted.
func (r *ContractRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
