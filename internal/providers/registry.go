package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ModelSpec describes a selectable model: which provider serves it,
// the upstream model name, and the pricing used for cost estimates
// and ledger records.
type ModelSpec struct {
	// Selector is the user-facing name ("gpt-4o-mini", "mock").
	Selector string
	// Provider is the registry name of the serving client.
	Provider string
	// Model is the name sent upstream.
	Model string

	// Pricing in USD per million tokens.
	InputCostPer1M  float64
	OutputCostPer1M float64

	// RequestsPerMinute is the quota for this model's provider.
	RequestsPerMinute int
}

// CostFor prices one call at this model's rates.
func (m ModelSpec) CostFor(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*m.InputCostPer1M +
		float64(outputTokens)/1_000_000*m.OutputCostPer1M
}

// Registry maps model selectors to generation clients. It is safe for
// concurrent use; batch runners resolve through it on every call so a
// reload takes effect mid-operation.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Generator
	models  map[string]ModelSpec
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Generator),
		models:  make(map[string]ModelSpec),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a generation client under its provider name.
func (r *Registry) Register(client Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
	if r.logger != nil {
		r.logger.Info("registered provider", "name", client.Name())
	}
}

// Unregister removes a client by provider name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	if r.logger != nil {
		r.logger.Info("unregistered provider", "name", name)
	}
}

// AddModel publishes a model selector. A selector registered twice
// keeps the latest spec.
func (r *Registry) AddModel(spec ModelSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[spec.Selector] = spec
}

// Resolve maps a selector to its serving client and spec. An unknown
// selector or a selector whose provider is not registered is a
// validation error, surfaced before any work starts.
func (r *Registry) Resolve(selector string) (Generator, ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.models[selector]
	if !ok {
		return nil, ModelSpec{}, fmt.Errorf("unknown model selector: %s", selector)
	}
	client, ok := r.clients[spec.Provider]
	if !ok {
		return nil, ModelSpec{}, fmt.Errorf("provider not registered for model %s: %s", selector, spec.Provider)
	}
	return client, spec, nil
}

// Spec returns the spec for a selector without requiring its client.
// Cost estimation uses this so estimates work before credentials are
// configured.
func (r *Registry) Spec(selector string) (ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.models[selector]
	if !ok {
		return ModelSpec{}, fmt.Errorf("unknown model selector: %s", selector)
	}
	return spec, nil
}

// Models returns all selectors in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns all registered client names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// RegistryConfig is the resolved provider section of the config file.
type RegistryConfig struct {
	// OpenAI holds the OpenAI client settings. Disabled or key-less
	// providers are skipped, not errored, so offline commands work.
	OpenAI OpenAIConfig

	// Models are the selectors to publish.
	Models []ModelSpec
}

// NewRegistryFromConfig builds a registry from configuration. Only
// providers with an API key are registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.apply(cfg)
	return r
}

// Reload replaces clients and models with the new configuration.
// Existing in-flight calls keep their resolved client.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	r.clients = make(map[string]Generator)
	r.models = make(map[string]ModelSpec)
	r.mu.Unlock()
	r.apply(cfg)
	if r.logger != nil {
		r.logger.Info("provider registry reloaded", "models", len(cfg.Models))
	}
}

func (r *Registry) apply(cfg RegistryConfig) {
	if cfg.OpenAI.APIKey != "" {
		r.Register(NewOpenAIClient(cfg.OpenAI))
	}
	for _, spec := range cfg.Models {
		r.AddModel(spec)
	}
}
