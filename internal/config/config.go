// Package config loads the process-level YAML configuration for an Aiko
// process: namespace, transport, and logging, following a
// Load/defaulting/validation shape. The pipeline *definition* format
// (JSON) is handled separately by internal/pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TransportConfig describes the MQTT broker connection, mirroring the
// environment variables.
type TransportConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// LoggingConfig controls the structured-logging sinks.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogMQTT string `yaml:"log_mqtt"`
	JSON    bool   `yaml:"json"`
}

// Config is the top-level process configuration.
type Config struct {
	Namespace string          `yaml:"namespace"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`

	// PipelinePaths lists directories for pipeline definition files. It is
	// loaded from the file but no command currently searches it.
	PipelinePaths []string `yaml:"pipeline_paths"`
}

// Default returns the hardcoded fallback configuration used when no file
// is specified (no conventional location is searched), mirroring
// cmd/orchestrator/main.go's getDefaultConfig().
func Default() *Config {
	return &Config{
		Namespace: "aiko",
		Transport: TransportConfig{Host: "localhost", Port: 1883, TLS: false},
		Logging:   LoggingConfig{Level: "INFO", LogMQTT: "false", JSON: false},
		PipelinePaths: []string{"."},
	}
}

// Load reads and parses a YAML configuration file, applying defaults for
// any field the file omits.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", filename, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Namespace == "" {
		cfg.Namespace = "aiko"
	}
	if cfg.Transport.Host == "" {
		cfg.Transport.Host = "localhost"
	}
	if cfg.Transport.Port == 0 {
		if cfg.Transport.TLS {
			cfg.Transport.Port = 8883
		} else {
			cfg.Transport.Port = 1883
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.LogMQTT == "" {
		cfg.Logging.LogMQTT = "false"
	}
	if len(cfg.PipelinePaths) == 0 {
		cfg.PipelinePaths = []string{"."}
	}
}

// FromEnvironment overlays AIKO_MQTT_HOST, AIKO_MQTT_TLS, AIKO_NAMESPACE,
// AIKO_LOG_LEVEL, and AIKO_LOG_MQTT onto cfg, which wins over file
// configuration: environment always overrides file.
func FromEnvironment(cfg *Config) *Config {
	if v := os.Getenv("AIKO_MQTT_HOST"); v != "" {
		cfg.Transport.Host = v
	}
	if v := os.Getenv("AIKO_MQTT_TLS"); v == "true" {
		cfg.Transport.TLS = true
		if cfg.Transport.Port == 1883 {
			cfg.Transport.Port = 8883
		}
	}
	if v := os.Getenv("AIKO_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("AIKO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AIKO_LOG_MQTT"); v != "" {
		cfg.Logging.LogMQTT = v
	}
	return cfg
}
