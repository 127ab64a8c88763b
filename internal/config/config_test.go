package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CF_API_KEY", "")
	t.Setenv("CF_URL", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.OutputDir != "." {
		t.Errorf("OutputDir = %q, want .", cfg.OutputDir)
	}
	if cfg.FetchTimeout != 45*time.Second {
		t.Errorf("FetchTimeout = %s, want 45s", cfg.FetchTimeout)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %s, want 30s", cfg.HTTPTimeout)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if filepath.Base(cfg.Codefresh.ConfigPath) != ".cfconfig" {
		t.Errorf("Codefresh.ConfigPath = %q, want a .cfconfig path", cfg.Codefresh.ConfigPath)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "logLevel": "debug",
  "outputDir": "/tmp/bundles",
  "fetchTimeout": "10s",
  "workers": 2,
  "codefresh": {"url": "https://onprem.example.com", "apiKey": "file-key"}
}`)
	t.Setenv("CF_API_KEY", "")
	t.Setenv("CF_URL", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.OutputDir != "/tmp/bundles" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %s, want 10s", cfg.FetchTimeout)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.Codefresh.URL != "https://onprem.example.com" || cfg.Codefresh.APIKey != "file-key" {
		t.Errorf("Codefresh = %+v", cfg.Codefresh)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "workers: 2\nlogLevel: error\n")
	t.Setenv("CF_SUPPORT_WORKERS", "8")
	t.Setenv("CF_API_KEY", "env-key")
	t.Setenv("CF_URL", "https://env.example.com")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8 from environment", cfg.Workers)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error from file", cfg.LogLevel)
	}
	if cfg.Codefresh.APIKey != "env-key" || cfg.Codefresh.URL != "https://env.example.com" {
		t.Errorf("Codefresh = %+v, want values from CF_API_KEY/CF_URL", cfg.Codefresh)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid log level", content: `{"logLevel": "verbose"}`},
		{name: "too many workers", content: `{"workers": 100}`},
		{name: "malformed json", content: `{"workers": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "config.json", tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    string
		wantErr bool
	}{
		{level: "debug", want: "debug"},
		{level: "DEBUG", want: "debug"},
		{level: " Warning ", want: "warning"},
		{level: "verbose", wantErr: true},
		{level: "WARN", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level, Workers: 1}
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tt.level)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if cfg.LogLevel != tt.want {
				t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, tt.want)
			}
		})
	}
}

func TestLoadConfigUpperCaseLogLevel(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "logLevel: ERROR\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.LogLevel)
	}
}
