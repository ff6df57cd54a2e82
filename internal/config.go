package internal

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/storage"
)

// Environment variables consulted for the API base URL, in order.
const (
	EnvAPIURL     = "MASAIL_API_URL"
	EnvViteAPIURL = "VITE_API_URL"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	API     APIConfig         `yaml:"api"`
	Storage StorageConfig     `yaml:"storage"`
	Upload  UploadConfig      `yaml:"upload"`
	Cache   CacheConfig       `yaml:"cache"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Upload.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds configuration of the local front-end server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// APIConfig points the client at the backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the API configuration.
func (c *APIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// StorageConfig selects where the session token is persisted.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(storage.DriverFile, storage.DriverSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// UploadConfig holds document upload settings.
type UploadConfig struct {
	AcceptedMIME string `yaml:"accepted_mime"`
	WatchDir     string `yaml:"watch_dir"`
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AcceptedMIME, validation.Required),
	)
}

// CacheConfig controls reuse of the search filter vocabulary.
type CacheConfig struct {
	FacetTTL time.Duration `yaml:"facet_ttl"`
}

// NewDefaultConfig returns a new Config with sensible default values.
// The API base URL comes from MASAIL_API_URL or VITE_API_URL when set.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 3000,
			},
		},
		API: APIConfig{
			BaseURL: baseURLFromEnv(),
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: storage.DriverFile,
			Path:   defaultStatePath(),
		},
		Upload: UploadConfig{
			AcceptedMIME: orchestrator.DefaultAcceptedMIME,
		},
		Cache: CacheConfig{
			FacetTTL: 10 * time.Minute,
		},
	}
}

func baseURLFromEnv() string {
	for _, key := range []string{EnvAPIURL, EnvViteAPIURL} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return endpoint.DefaultBaseURL
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./masail-state.json"
	}
	return dir + string(os.PathSeparator) + "masail" + string(os.PathSeparator) + "state.json"
}
