package exporter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/zmzlois/browser-thing/internal/otlptrace"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "OTLPCONV"

// DefaultEndpoint is the OTLP/HTTP trace endpoint used when none is configured.
const DefaultEndpoint = "https://trace.wandb.ai/otel/v1/traces"

// HeaderMap holds request headers. From the environment it accepts either a JSON
// object or comma separated key:value pairs split on the first colon, so
// "Authorization:Bearer abc:def" keeps its colons. Values containing commas need
// the JSON form.
type HeaderMap map[string]string

// Decode implements envconfig.Decoder.
func (h *HeaderMap) Decode(value string) error {
	headers := HeaderMap{}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		if err := json.Unmarshal([]byte(value), (*map[string]string)(&headers)); err != nil {
			return fmt.Errorf("failed to parse headers as JSON: %w", err)
		}
		*h = headers
		return nil
	}

	for _, pair := range strings.Split(value, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid header %q: want key:value", pair)
		}
		headers[key] = strings.TrimSpace(val)
	}
	*h = headers
	return nil
}

// Config defines configuration for the span exporter.
// It includes the collector endpoint, the identity stamped on every request and
// optional request archiving.
type Config struct {
	// Endpoint is the OTLP/HTTP URL the encoded request is POSTed to
	Endpoint string `mapstructure:"endpoint" envconfig:"ENDPOINT" default:"https://trace.wandb.ai/otel/v1/traces"`

	// Headers are sent with every request, e.g. "project_id:team/project,Authorization:Basic ..."
	Headers HeaderMap `mapstructure:"headers" envconfig:"HEADERS"`

	// Timeout bounds a single export request
	Timeout time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" default:"10s"`

	ServiceName    string `mapstructure:"service_name" envconfig:"SERVICE_NAME" default:"frontline_mcp"`
	ServiceVersion string `mapstructure:"service_version" envconfig:"SERVICE_VERSION" default:"1.0.0"`
	ScopeName      string `mapstructure:"scope_name" envconfig:"SCOPE_NAME" default:"github.com/zmzlois/browser-thing/otel"`
	ScopeVersion   string `mapstructure:"scope_version" envconfig:"SCOPE_VERSION" default:"1.0.0"`

	// StrictIDs fails a batch containing a trace or span ID of the wrong length
	StrictIDs bool `mapstructure:"strict_ids" envconfig:"STRICT_IDS" default:"false"`

	// ArchivePath is the BoltDB file encoded requests are copied to. Empty disables archiving.
	ArchivePath string `mapstructure:"archive_path" envconfig:"ARCHIVE_PATH"`

	// ArchiveRetention is how long archived requests are kept
	ArchiveRetention time.Duration `mapstructure:"archive_retention" envconfig:"ARCHIVE_RETENTION" default:"24h"`

	// ArchivePruneSchedule is the cron schedule for deleting expired archive entries
	ArchivePruneSchedule string `mapstructure:"archive_prune_schedule" envconfig:"ARCHIVE_PRUNE_SCHEDULE" default:"@every 1h"`
}

// Identity returns the resource and scope identity described by the config.
func (cfg *Config) Identity() otlptrace.Identity {
	return otlptrace.Identity{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		ScopeName:      cfg.ScopeName,
		ScopeVersion:   cfg.ScopeVersion,
	}
}

// Validate checks if the exporter configuration is valid
func (cfg *Config) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint must be specified")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http or https URL, got %q", cfg.Endpoint)
	}

	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}

	if cfg.ServiceName == "" {
		return fmt.Errorf("service_name must be specified")
	}

	if cfg.ArchivePath != "" {
		if cfg.ArchiveRetention <= 0 {
			return fmt.Errorf("archive_retention must be positive when archive_path is set, got %s", cfg.ArchiveRetention)
		}

		if cfg.ArchivePruneSchedule != "" {
			if _, err := cron.ParseStandard(cfg.ArchivePruneSchedule); err != nil {
				return fmt.Errorf("invalid archive_prune_schedule: %w", err)
			}
		}
	}

	return nil
}

// createDefaultConfig creates the default configuration for the exporter.
func createDefaultConfig() *Config {
	return &Config{
		Endpoint:             DefaultEndpoint,
		Headers:              HeaderMap{},
		Timeout:              10 * time.Second,
		ServiceName:          otlptrace.DefaultServiceName,
		ServiceVersion:       otlptrace.DefaultServiceVersion,
		ScopeName:            otlptrace.DefaultScopeName,
		ScopeVersion:         otlptrace.DefaultScopeVersion,
		StrictIDs:            false,
		ArchivePath:          "",
		ArchiveRetention:     24 * time.Hour,
		ArchivePruneSchedule: "@every 1h",
	}
}

// DefaultConfig returns the configuration used when nothing is set in the environment.
func DefaultConfig() *Config {
	return createDefaultConfig()
}

// LoadConfig reads the configuration from OTLPCONV_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := createDefaultConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
