package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("DEEPTHINKS_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.MaxContextTokens != 10000 {
		t.Errorf("MaxContextTokens = %d, want 10000", cfg.Memory.MaxContextTokens)
	}
	if cfg.Memory.MinInteractionsBeforeSummary != 3 {
		t.Errorf("MinInteractionsBeforeSummary = %d, want 3", cfg.Memory.MinInteractionsBeforeSummary)
	}
	if cfg.Tools.MaxToolCallsPerInteraction != 5 {
		t.Errorf("MaxToolCallsPerInteraction = %d, want 5", cfg.Tools.MaxToolCallsPerInteraction)
	}
	if cfg.MailAgent.MaxIterations != 10 {
		t.Errorf("MailAgent.MaxIterations = %d, want 10", cfg.MailAgent.MaxIterations)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"memory": {"maxContextTokens": 4096}, "server": {"listen": ":9999"}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEEPTHINKS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.MaxContextTokens != 4096 {
		t.Errorf("MaxContextTokens = %d, want 4096", cfg.Memory.MaxContextTokens)
	}
	if cfg.Server.Listen != ":9999" {
		t.Errorf("Listen = %q, want :9999", cfg.Server.Listen)
	}
	// Untouched knobs keep their defaults.
	if cfg.Memory.SmoothingFactor != 0.8 {
		t.Errorf("SmoothingFactor = %v, want 0.8", cfg.Memory.SmoothingFactor)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"memory": {"maxContextTokens": 4096}}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEEPTHINKS_CONFIG", path)
	t.Setenv("DEEPTHINKS_MEMORY_MAX_CONTEXT_TOKENS", "2048")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.MaxContextTokens != 2048 {
		t.Errorf("MaxContextTokens = %d, want 2048", cfg.Memory.MaxContextTokens)
	}
}

func TestLoadSubstitutesEnvPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"providers": {"together": {"apiKey": "${TEST_TOGETHER_KEY}"}}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEEPTHINKS_CONFIG", path)
	t.Setenv("TEST_TOGETHER_KEY", "tk-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Together.APIKey != "tk-secret" {
		t.Errorf("APIKey = %q, want tk-secret", cfg.Providers.Together.APIKey)
	}
}

func TestModelsForMode(t *testing.T) {
	m := ModelsConfig{Default: "d", Reason: "r", Code: "c"}
	for mode, want := range map[string]string{"default": "d", "reason": "r", "code": "c", "": "d", "unknown": "d"} {
		if got := m.ForMode(mode); got != want {
			t.Errorf("ForMode(%q) = %q, want %q", mode, got, want)
		}
	}
}
