package endpoints

import (
	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DefraManager    *defra.DockerManager
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Book endpoints
		&CreateBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},

		// Job endpoints
		&StartJobEndpoint{},
		&GetJobEndpoint{},
		&ListJobsEndpoint{},

		// Artifact endpoints
		&GetArtifactEndpoint{},
		&RegeneratePageEndpoint{},
		&SelectCandidateEndpoint{},

		// Provider callbacks
		&GenerationWebhookEndpoint{},

		// Signed asset downloads
		&AssetEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}

// BookCommands returns endpoints whose CLI commands group under "books".
func BookCommands() []api.Endpoint {
	return []api.Endpoint{
		&CreateBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
	}
}

// JobCommands returns endpoints whose CLI commands group under "jobs".
func JobCommands() []api.Endpoint {
	return []api.Endpoint{
		&StartJobEndpoint{},
		&GetJobEndpoint{},
		&ListJobsEndpoint{},
	}
}

// ArtifactCommands returns endpoints whose CLI commands group under
// "artifacts".
func ArtifactCommands() []api.Endpoint {
	return []api.Endpoint{
		&GetArtifactEndpoint{},
		&RegeneratePageEndpoint{},
		&SelectCandidateEndpoint{},
	}
}
