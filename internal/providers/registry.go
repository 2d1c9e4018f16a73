package providers

import (
	"log/slog"
	"sync"

	"github.com/fableforge/fable/internal/config"
)

// Registry holds the active provider clients. It is rebuilt on config
// hot-reload; readers always see a consistent dispatcher/remover pair.
type Registry struct {
	mu         sync.RWMutex
	dispatcher Dispatcher
	remover    BackgroundRemover
	logger     *slog.Logger
}

// NewRegistry builds a registry from provider configuration.
func NewRegistry(cfg config.ProvidersConfig, logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}
	r.Reload(cfg)
	return r
}

// Reload rebuilds provider clients from configuration. Safe to call
// from the config watcher while dispatches are in flight; in-flight
// calls finish on the old clients.
func (r *Registry) Reload(cfg config.ProvidersConfig) {
	dispatcher := NewReplicateClient(ReplicateConfig{
		APIKey:    config.ResolveEnvVars(cfg.Image.APIKey),
		BaseURL:   cfg.Image.BaseURL,
		RateLimit: cfg.Image.RateLimit,
	})
	remover := NewRembgClient(RembgConfig{
		APIKey:  config.ResolveEnvVars(cfg.BackgroundRemoval.APIKey),
		BaseURL: cfg.BackgroundRemoval.BaseURL,
	})

	r.mu.Lock()
	r.dispatcher = dispatcher
	r.remover = remover
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("providers configured",
			"dispatcher", dispatcher.Name(),
			"remover", remover.Name())
	}
}

// SetDispatcher replaces the image provider. Used by tests.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// SetRemover replaces the background-removal provider. Used by tests.
func (r *Registry) SetRemover(b BackgroundRemover) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remover = b
}

// Dispatcher returns the active image provider.
func (r *Registry) Dispatcher() Dispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatcher
}

// Remover returns the active background-removal provider.
func (r *Registry) Remover() BackgroundRemover {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remover
}
