package config

import "time"

// Config is the root configuration for fable.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Providers    ProvidersConfig    `mapstructure:"providers" yaml:"providers"`
	Ranker       RankerConfig       `mapstructure:"ranker" yaml:"ranker"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Defra        DefraConfig        `mapstructure:"defra" yaml:"defra"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// PublicURL is the externally reachable base URL, used for webhook
	// callbacks and signed asset links.
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
}

// OrchestratorConfig controls the page worker pool and wait semantics.
type OrchestratorConfig struct {
	// Concurrency is the number of pages processed in parallel per job.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// WaitTimeout bounds how long a page waits for its generation to
	// complete before the wait is abandoned.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`

	// RecoveryInterval is how often the recovery sweep looks for pages
	// stuck in generating past the wait timeout. Zero disables the sweep.
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
}

// ProvidersConfig holds external AI provider settings.
type ProvidersConfig struct {
	Image             ImageProviderConfig   `mapstructure:"image" yaml:"image"`
	BackgroundRemoval RemovalProviderConfig `mapstructure:"background_removal" yaml:"background_removal"`
}

// ImageProviderConfig configures the asynchronous image generation provider.
type ImageProviderConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
}

// RemovalProviderConfig configures the background removal provider.
type RemovalProviderConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// RankerConfig configures the optional LLM candidate ranker.
type RankerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// StorageConfig configures the filesystem object store.
type StorageConfig struct {
	// BasePath overrides the default <home>/assets directory.
	BasePath string `mapstructure:"base_path" yaml:"base_path"`

	// SigningSecret is the HMAC key for signed download URLs.
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`

	// URLTTL is the lifetime of signed URLs.
	URLTTL time.Duration `mapstructure:"url_ttl" yaml:"url_ttl"`
}

// DefraConfig holds DefraDB container settings.
type DefraConfig struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	HostPort      string `mapstructure:"host_port" yaml:"host_port"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      "8080",
			PublicURL: "http://localhost:8080",
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:      2,
			WaitTimeout:      15 * time.Minute,
			RecoveryInterval: 5 * time.Minute,
		},
		Providers: ProvidersConfig{
			Image: ImageProviderConfig{
				BaseURL:   "https://api.replicate.com/v1",
				APIKey:    "${REPLICATE_API_TOKEN}",
				RateLimit: 60,
			},
			BackgroundRemoval: RemovalProviderConfig{
				BaseURL: "https://api.rembg.io/v1",
				APIKey:  "${REMBG_API_KEY}",
			},
		},
		Ranker: RankerConfig{
			Enabled: false,
			Model:   "gpt-4o-mini",
			APIKey:  "${OPENAI_API_KEY}",
		},
		Storage: StorageConfig{
			SigningSecret: "${FABLE_SIGNING_SECRET}",
			URLTTL:        1 * time.Hour,
		},
		Defra: DefraConfig{},
	}
}
