package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/debridget/internal/domain"
)

// ProviderRegistry maps provider names to their single instance
type ProviderRegistry struct {
	providers map[string]domain.Provider
	mu        sync.RWMutex
}

// NewProviderRegistry creates an empty registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]domain.Provider),
	}
}

// Register adds a provider under name. The name must be free and must equal
// the provider's own Name().
func (r *ProviderRegistry) Register(name string, provider domain.Provider) error {
	if provider == nil {
		return domain.NewProviderError(name, domain.ErrCodeProviderMismatch, "provider instance is nil")
	}
	if provider.Name() != name {
		return domain.NewProviderError(name, domain.ErrCodeProviderMismatch,
			fmt.Sprintf("provider reports name %q but was registered as %q", provider.Name(), name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return domain.NewProviderError(name, domain.ErrCodeAlreadyRegistered,
			fmt.Sprintf("provider %q is already registered", name))
	}
	r.providers[name] = provider
	return nil
}

// Get returns the provider registered under name
func (r *ProviderRegistry) Get(name string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, domain.NewProviderNotFoundError(name)
	}
	return provider, nil
}

// Has reports whether name is registered
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.providers[name]
	return ok
}

// List returns the registered names in sorted order
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a provider; it reports whether one was present
func (r *ProviderRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.providers[name]
	delete(r.providers, name)
	return ok
}

// Clear removes every provider
func (r *ProviderRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = make(map[string]domain.Provider)
}
