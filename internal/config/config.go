// Package config handles loading and validating gateway configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/aihub/internal/provider"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "AIHUB_"

// ssmScheme marks an API key that lives in AWS SSM Parameter Store.
const ssmScheme = "ssm:"

// Config is the top-level configuration for the aihub gateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Log       LogConfig                 `koanf:"log"`
	Metrics   MetricsConfig             `koanf:"metrics"`
	Tracing   TracingConfig             `koanf:"tracing"`
	Storage   StorageConfig             `koanf:"storage"`
	Upstream  UpstreamConfig            `koanf:"upstream"`
	Providers map[string]ProviderConfig `koanf:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"` // 0 means streams are not cut off
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// StorageConfig points at the record store. An empty driver disables it.
type StorageConfig struct {
	Driver      string `koanf:"driver"` // sqlite or postgres
	DSN         string `koanf:"dsn"`
	PromptsFile string `koanf:"prompts_file"`
}

// UpstreamConfig tunes the outbound HTTP client shared by all providers.
type UpstreamConfig struct {
	Timeout     time.Duration `koanf:"timeout"`      // dial, TLS and response headers
	IdleTimeout time.Duration `koanf:"idle_timeout"` // max gap between body reads
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// Default returns the configuration used for any key the file and
// environment leave unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing: TracingConfig{ServiceName: "aihub"},
		Upstream: UpstreamConfig{
			Timeout:     provider.DefaultTimeout,
			IdleTimeout: provider.DefaultIdleTimeout,
		},
	}
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. An empty path
// skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Layer environment variables on top. A double underscore separates
	// levels so that keys which contain an underscore survive:
	//   AIHUB_SERVER__PORT               -> server.port
	//   AIHUB_PROVIDERS__OPENAI__API_KEY -> providers.openai.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"__", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal over the defaults: keys that were never loaded keep their
	// default value.
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider API keys.
	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate rejects configuration the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}

	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver))
	}
	if c.Storage.Driver != "" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required when storage.driver is set"))
	}

	for name := range c.Providers {
		if _, err := provider.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Secrets
// ---------------------------------------------------------------------------

// SecretGetter fetches one secret value by name.
type SecretGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// NeedsSecrets reports whether any provider API key uses the ssm: scheme.
func (c *Config) NeedsSecrets() bool {
	for _, p := range c.Providers {
		if strings.HasPrefix(p.APIKey, ssmScheme) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every "ssm:/path/name" API key with the value
// stored under /path/name.
func ResolveSecrets(ctx context.Context, cfg *Config, getter SecretGetter) error {
	for name, p := range cfg.Providers {
		if !strings.HasPrefix(p.APIKey, ssmScheme) {
			continue
		}
		value, err := getter.GetParameter(ctx, strings.TrimPrefix(p.APIKey, ssmScheme))
		if err != nil {
			return fmt.Errorf("resolving api key for %s: %w", name, err)
		}
		p.APIKey = value
		cfg.Providers[name] = p
	}
	return nil
}
