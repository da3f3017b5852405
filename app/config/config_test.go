package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	fileName := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(fileName, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return fileName
}

func TestReadFromAppliesDefaults(t *testing.T) {
	fileName := writeConfig(t, `
db:
  driver: sqlite
  connectionString: ./gateway.db
auth:
  apiKey: secret
provider:
  credential: dGVzdDp0ZXN0
`)

	config, err := ReadFrom(fileName)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	if config.DB.Driver != "sqlite" || config.DB.ConnectionString != "./gateway.db" {
		t.Fatalf("unexpected db config: %+v", config.DB)
	}
	if config.HTTP.Listen != "0.0.0.0" || config.HTTP.Port != 3000 {
		t.Fatalf("unexpected http defaults: %+v", config.HTTP)
	}
	if config.Provider.BaseURL != "https://api.dataforseo.com" {
		t.Fatalf("unexpected provider base URL: %q", config.Provider.BaseURL)
	}
	if config.Engine.CacheMaxAgeHours != 24 || config.Engine.IdeasLimit != 10 || config.Engine.SerpFanout != 8 || config.Engine.MaxBatch != 100 {
		t.Fatalf("unexpected engine defaults: %+v", config.Engine)
	}
	if config.Retention.MaxAgeDays != 30 || config.Retention.SweepMinutes != 60 {
		t.Fatalf("unexpected retention defaults: %+v", config.Retention)
	}
}

func TestReadFromKeepsExplicitValues(t *testing.T) {
	fileName := writeConfig(t, `
http:
  listen: 127.0.0.1
  port: 8080
engine:
  cacheMaxAgeHours: 48
  serpFanout: 2
retention:
  enabled: true
  maxAgeDays: 7
`)

	config, err := ReadFrom(fileName)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	if config.HTTP.Listen != "127.0.0.1" || config.HTTP.Port != 8080 {
		t.Fatalf("unexpected http config: %+v", config.HTTP)
	}
	if config.Engine.CacheMaxAgeHours != 48 || config.Engine.SerpFanout != 2 {
		t.Fatalf("unexpected engine config: %+v", config.Engine)
	}
	if !config.Retention.Enabled || config.Retention.MaxAgeDays != 7 {
		t.Fatalf("unexpected retention config: %+v", config.Retention)
	}
}

func TestCredentialsFallBackToEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "env-key")
	t.Setenv("DATAFORSEO_BEARER", "env-credential")

	fileName := writeConfig(t, `
db:
  driver: sqlite
`)

	config, err := ReadFrom(fileName)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	if config.Auth.APIKey != "env-key" {
		t.Fatalf("expected the API key from the environment, got %q", config.Auth.APIKey)
	}
	if config.Provider.Credential != "env-credential" {
		t.Fatalf("expected the provider credential from the environment, got %q", config.Provider.Credential)
	}
}

func TestMissingFileIsAnError(t *testing.T) {
	if _, err := ReadFrom(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
