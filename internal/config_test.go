package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/masail/internal/endpoint"
	pkgconfig "github.com/starford/masail/pkg/config"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvViteAPIURL, "")
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.API.BaseURL != endpoint.DefaultBaseURL {
		t.Errorf("base url = %q, want %q", cfg.API.BaseURL, endpoint.DefaultBaseURL)
	}
}

func TestDefaultConfig_BaseURLFromEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvViteAPIURL, "https://vite.example.org")
	if got := NewDefaultConfig().API.BaseURL; got != "https://vite.example.org" {
		t.Errorf("VITE_API_URL ignored: %q", got)
	}

	t.Setenv(EnvAPIURL, "https://masail.example.org")
	if got := NewDefaultConfig().API.BaseURL; got != "https://masail.example.org" {
		t.Errorf("MASAIL_API_URL should win: %q", got)
	}
}

func TestAPIConfig_InvalidURL(t *testing.T) {
	cfg := APIConfig{BaseURL: "not a url"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid base url should fail validation")
	}
}

func TestStorageConfig_UnknownDriver(t *testing.T) {
	cfg := StorageConfig{Driver: "redis", Path: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("unknown driver should fail validation")
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T, want validation.Errors", err)
	}
	if _, ok := verrs["Driver"]; !ok || len(verrs) != 1 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	cfg := HTTPConfig{Port: 3000}
	if cfg.Address() != ":3000" {
		t.Errorf("address = %q", cfg.Address())
	}
	if err := (&HTTPConfig{Port: 70000}).Validate(); err == nil {
		t.Error("out of range port should fail")
	}
}

func TestLoadYAML_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BACKEND", "http://backend.example:8000")
	p := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  log_level: debug
  http:
    port: 4000
api:
  base_url: ${TEST_BACKEND}
  timeout: 5s
storage:
  driver: sqlite
  path: /tmp/masail.db
`
	if err := os.WriteFile(p, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://backend.example:8000" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.App.HTTP.Port != 4000 || cfg.Storage.Driver != "sqlite" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Upload.AcceptedMIME != "application/pdf" {
		t.Errorf("defaults not kept: %q", cfg.Upload.AcceptedMIME)
	}
}

func TestLoadOptional_MissingFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	want := cfg.API.BaseURL
	if err := pkgconfig.LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), cfg); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.API.BaseURL != want {
		t.Errorf("base url changed to %q", cfg.API.BaseURL)
	}
}
