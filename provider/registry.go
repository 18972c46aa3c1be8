package provider

import (
	"fmt"
	"sync"
)

// ModelQuirks records parameter restrictions of a specific model. The
// generation engine consults this table and silently drops unsupported
// parameters (with a debug log) instead of failing the request.
type ModelQuirks struct {
	// NoTemperature marks models that reject an explicit temperature.
	NoTemperature bool
	// NoSystemMessage marks models that reject a system message.
	NoSystemMessage bool
}

// Registry owns the provider and model lookup tables. Models are registered
// by name and reference a provider by name; every lookup performs an explicit
// existence check, nothing is created implicitly.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	models          map[string]string // model name -> provider name
	quirks          map[string]ModelQuirks
	defaultModel    string
	defaultProvider string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
		models:    map[string]string{},
		quirks:    map[string]ModelQuirks{},
	}
}

// RegisterProvider adds a provider under its Name. The first registered
// provider becomes the default.
func (r *Registry) RegisterProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q is already registered", name)
	}
	r.providers[name] = p
	if r.defaultProvider == "" {
		r.defaultProvider = name
	}
	return nil
}

// RegisterModel maps a model name to a registered provider. The first
// registered model becomes the default. Passing setDefault promotes the
// model to the default explicitly.
func (r *Registry) RegisterModel(model, providerName string, setDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[providerName]; !ok {
		return fmt.Errorf("provider %q is not registered", providerName)
	}
	if existing, ok := r.models[model]; ok && existing != providerName {
		return fmt.Errorf("model %q is already registered with provider %q", model, existing)
	}
	r.models[model] = providerName
	if r.defaultModel == "" || setDefault {
		r.defaultModel = model
	}
	return nil
}

// SetModelQuirks records parameter restrictions for a model. The table is
// externally supplied so it can be swapped per test.
func (r *Registry) SetModelQuirks(model string, q ModelQuirks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quirks[model] = q
}

// QuirksFor returns the quirk entry for a model (zero value when absent).
func (r *Registry) QuirksFor(model string) ModelQuirks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quirks[model]
}

// DefaultModel returns the default model name, empty when none registered.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Provider returns a registered provider by name.
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// Resolve maps a model name (or "" for the default model) to its provider.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if model == "" {
		model = r.defaultModel
	}
	if model == "" {
		return nil, "", fmt.Errorf("no model requested and no default model registered")
	}
	providerName, ok := r.models[model]
	if !ok {
		return nil, "", fmt.Errorf("model %q is not registered", model)
	}
	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", fmt.Errorf("model %q references unregistered provider %q", model, providerName)
	}
	return p, model, nil
}

// Models lists registered model names.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
