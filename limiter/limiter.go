// Package limiter enforces per-plugin invocation rate limits and
// concurrency caps.
//
// Plugins are externally owned components with their own capacity; a
// workflow that fans out in Parallel mode can easily overwhelm one. The
// [Manager] gates step invocations at dispatch time using a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for
// concurrency.
//
//	m := limiter.NewManager(
//	    limiter.Config{PluginID: "billing", MaxConcurrency: 4, RateLimit: 10},
//	)
//	if m.Acquire("billing") {
//	    defer m.Release("billing")
//	    // invoke the plugin
//	}
//
// Plugins without a [Config] have no limits.
package limiter

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-plugin invocation limits.
type Config struct {
	// PluginID identifies the plugin the limits apply to.
	PluginID string

	// MaxConcurrency limits how many invocations of this plugin may be
	// in flight simultaneously. Zero means no concurrency limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained invocations per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// pluginState tracks runtime state for a single plugin.
type pluginState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-plugin rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	plugins map[string]*pluginState
}

// NewManager creates a Manager with the given plugin configurations.
// Plugins not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		plugins: make(map[string]*pluginState, len(configs)),
	}
	for _, cfg := range configs {
		m.plugins[cfg.PluginID] = newPluginState(cfg)
	}
	return m
}

func newPluginState(cfg Config) *pluginState {
	ps := &pluginState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ps.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ps
}

// Acquire checks rate and concurrency limits for the given plugin. If the
// invocation is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release when the invocation completes.
func (m *Manager) Acquire(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.plugins[pluginID]
	if ps == nil {
		return true
	}
	if ps.limiter != nil && !ps.limiter.Allow() {
		return false
	}
	if ps.config.MaxConcurrency > 0 && ps.active >= ps.config.MaxConcurrency {
		return false
	}
	ps.active++
	return true
}

// Release decrements the active invocation count for the plugin.
func (m *Manager) Release(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.plugins[pluginID]; ps != nil && ps.active > 0 {
		ps.active--
	}
}

// SetConfig dynamically updates (or creates) a plugin configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.plugins[cfg.PluginID]
	ps := newPluginState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ps.active = existing.active
	}
	m.plugins[cfg.PluginID] = ps
}

// ActiveCount returns the current number of in-flight invocations for a
// plugin.
func (m *Manager) ActiveCount(pluginID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.plugins[pluginID]; ps != nil {
		return ps.active
	}
	return 0
}
