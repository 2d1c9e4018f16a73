package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v2"
)

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("FABLE_TEST_TOKEN", "tok-123")

	cases := []struct {
		in, want string
	}{
		{"${FABLE_TEST_TOKEN}", "tok-123"},
		{"prefix-${FABLE_TEST_TOKEN}", "prefix-tok-123"},
		{"plain-value", "plain-value"},
		{"${FABLE_TEST_UNSET_VAR}", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ResolveEnvVars(tc.in); got != tc.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Server.PublicURL == "" {
		t.Error("PublicURL should default to a reachable base URL")
	}
	if cfg.Orchestrator.Concurrency < 1 {
		t.Errorf("Concurrency = %d, want >= 1", cfg.Orchestrator.Concurrency)
	}
	if cfg.Orchestrator.WaitTimeout <= 0 {
		t.Error("WaitTimeout should be positive")
	}
	if cfg.Providers.Image.BaseURL == "" {
		t.Error("image provider base URL missing")
	}
	if cfg.Ranker.Enabled {
		t.Error("ranker should be opt-in")
	}
	if cfg.Storage.URLTTL <= 0 {
		t.Error("URLTTL should be positive")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid yaml: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("round-tripped Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Providers.Image.APIKey != "${REPLICATE_API_TOKEN}" {
		t.Errorf("APIKey = %q, want env reference preserved", cfg.Providers.Image.APIKey)
	}
}
