package speech

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig is the per-provider configuration handed to a factory.
type ProviderConfig struct {
	// Enabled switches the provider on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Voice is the provider's default voice.
	Voice string `mapstructure:"voice" yaml:"voice"`

	// CacheDir is the provider's artifact cache directory.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`

	// TimeoutSeconds bounds one synthesis call.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`

	// RequestsPerMinute throttles vendor calls for network-backed
	// providers. Zero means the provider's own default.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Factory builds a provider from its configuration.
type Factory func(cfg ProviderConfig) (Provider, error)

// Registry maps provider names to factories. Backends register
// themselves at startup; the resolver chain is then assembled from
// configuration by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build constructs one provider by name.
func (r *Registry) Build(name string, cfg ProviderConfig) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("speech: unknown provider %q (have %v)", name, r.Names())
	}
	return factory(cfg)
}

// BuildChain constructs providers in the given order, skipping names
// whose factories fail and returning the error list alongside the
// chain. An empty chain with errors means nothing could be built.
func (r *Registry) BuildChain(order []string, configs map[string]ProviderConfig) ([]Provider, []error) {
	var chain []Provider
	var errs []error
	for _, name := range order {
		provider, err := r.Build(name, configs[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("build provider %s: %w", name, err))
			continue
		}
		chain = append(chain, provider)
	}
	return chain, errs
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
