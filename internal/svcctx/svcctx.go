// Package svcctx carries the core services through request context.
// It is separate from server so endpoint handlers can extract services
// without an import cycle.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/bridge"
	"github.com/fableforge/fable/internal/defra"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/jobs"
	"github.com/fableforge/fable/internal/providers"
)

// Services holds the core services that flow through context.
// Handlers extract what they need via the individual extractors.
type Services struct {
	DefraClient *defra.Client
	Books       books.Store
	Jobs        *jobs.Manager
	Runner      *jobs.Runner
	Generations *generations.Manager
	Bridge      *bridge.Bridge
	Assembly    *assemble.Service
	Assets      *assets.FileStore
	Registry    *providers.Registry
	Logger      *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DefraClientFrom extracts the DefraDB client from context.
func DefraClientFrom(ctx context.Context) *defra.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraClient
	}
	return nil
}

// BooksFrom extracts the book store from context.
func BooksFrom(ctx context.Context) books.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Books
	}
	return nil
}

// JobsFrom extracts the job manager from context.
func JobsFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Jobs
	}
	return nil
}

// RunnerFrom extracts the job runner from context.
func RunnerFrom(ctx context.Context) *jobs.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// GenerationsFrom extracts the generation manager from context.
func GenerationsFrom(ctx context.Context) *generations.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Generations
	}
	return nil
}

// BridgeFrom extracts the completion bridge from context.
func BridgeFrom(ctx context.Context) *bridge.Bridge {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bridge
	}
	return nil
}

// AssemblyFrom extracts the assembly service from context.
func AssemblyFrom(ctx context.Context) *assemble.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Assembly
	}
	return nil
}

// AssetsFrom extracts the file-backed asset store from context.
func AssetsFrom(ctx context.Context) *assets.FileStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Assets
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
