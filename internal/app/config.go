package app

import (
	"fmt"
	"slices"
	"strings"

	"dario.cat/mergo"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPaths are run documents or directories of them. Later paths
	// override earlier ones key by key.
	ConfigPaths []string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// MonitorURL enables socket.io progress events when set.
	MonitorURL       string
	MonitorNamespace string
	MonitorInsecure  bool

	// OTLPEndpoint sends spans to a collector; otherwise they are logged
	// at debug level.
	OTLPEndpoint string

	// OutputDir overrides the document's output_dir.
	OutputDir string
}

var defaultConfig = Config{
	LogFormat:        "text",
	LogLevel:         "info",
	MonitorNamespace: "/",
}

var (
	logFormats = []string{"text", "json"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// NewConfig fills unset fields with defaults and validates the result.
func NewConfig(cfg Config) (*Config, error) {
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := mergo.Merge(&cfg, defaultConfig); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		return nil, fmt.Errorf("invalid log-format %q: must be one of %s", cfg.LogFormat, strings.Join(logFormats, ", "))
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log-level %q: must be one of %s", cfg.LogLevel, strings.Join(logLevels, ", "))
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck-port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
