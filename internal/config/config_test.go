package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
registry:
  base_url: https://registry.example.org
  list_path: /van-ban
  page_param: p
  required_params:
    category: "12"
  max_pages: 3
  max_documents: 40
http:
  timeout_seconds: 10
  max_retries: 4
  fallback_command: /usr/local/bin/curl
labels:
  file: /etc/regdocs/labels.yaml
  poll_seconds: 5
queue:
  backend: redis
  url: redis://localhost:6379/0
  attempts: 5
worker:
  concurrency: 3
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "https://registry.example.org", cfg.Registry.BaseURL)
	require.Equal(t, "p", cfg.Registry.PageParam)
	require.Equal(t, "12", cfg.Registry.RequiredParams["category"])
	require.Equal(t, 40, cfg.Registry.MaxDocuments)
	require.Equal(t, 4, cfg.HTTP.MaxRetries)
	require.Equal(t, "/etc/regdocs/labels.yaml", cfg.Labels.File)
	require.Equal(t, 5, cfg.Labels.PollSeconds)
	require.Equal(t, 5, cfg.Queue.Attempts)
	require.Equal(t, 3, cfg.Worker.Concurrency)
	require.False(t, cfg.Logging.Development)
	require.True(t, cfg.DurableQueue())
	require.Equal(t, 10*time.Second, cfg.RequestTimeout())

	// Defaults survive partial files.
	require.Equal(t, 500, cfg.HTTP.BackoffInitialMs)
	require.Equal(t, 100, cfg.Queue.KeepCompleted)
	require.Equal(t, 500, cfg.Queue.KeepFailed)
	require.Equal(t, "product_keywords", cfg.Extract.KeywordDataType)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 20*time.Second, cfg.RequestTimeout())
	require.Equal(t, 2, cfg.HTTP.MaxRetries)
	require.Equal(t, 2, cfg.Worker.Concurrency)
	require.Equal(t, 3, cfg.Queue.Attempts)
	require.Equal(t, 30, cfg.Queue.BackoffSeconds)
	require.Equal(t, 250, cfg.Labels.DebounceMs)
	require.Equal(t, 30, cfg.Headless.WaitSeconds)
	require.Equal(t, 2048, cfg.Headless.PromoteMinBytes)
	require.InDelta(t, 2.0, cfg.HTTP.RequestsPerSecond, 0.001)
	require.False(t, cfg.Telemetry.TracingEnabled)
	require.Equal(t, "regdocs", cfg.Telemetry.ServiceName)
	require.False(t, cfg.DurableQueue(), "no queue url selects inline execution")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REGDOCS_LABELS_FILE", "/tmp/labels.json")
	t.Setenv("REGDOCS_QUEUE_URL", "redis://cache:6379/1")
	t.Setenv("REGDOCS_WORKER_CONCURRENCY", "6")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/labels.json", cfg.Labels.File)
	require.Equal(t, "redis://cache:6379/1", cfg.Queue.URL)
	require.Equal(t, 6, cfg.Worker.Concurrency)
	require.True(t, cfg.DurableQueue())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.Server.Port = 0 },
		"base url":    func(c *Config) { c.Registry.BaseURL = "not a url" },
		"max pages":   func(c *Config) { c.Registry.MaxPages = 0 },
		"timeout":     func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"concurrency": func(c *Config) { c.Worker.Concurrency = 0 },
		"attempts":    func(c *Config) { c.Queue.Attempts = 0 },
		"backend":     func(c *Config) { c.Queue.Backend = "kafka" },
		"gcs bucket":  func(c *Config) { c.Storage.Backend = "gcs" },
		"api key":     func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" },
		"rps":         func(c *Config) { c.HTTP.RequestsPerSecond = -1 },
		"sample":      func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
