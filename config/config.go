package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "90s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Incoming IncomingConfig `yaml:"incoming"`
	Scratch  ScratchConfig  `yaml:"scratch"`
	Ports    PortsConfig    `yaml:"ports"`
	Health   HealthConfig   `yaml:"health"`
	Retire   RetireConfig   `yaml:"retire"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type IncomingConfig struct {
	Dir string `yaml:"dir"`
}

type ScratchConfig struct {
	Dir string `yaml:"dir"`
}

type PortsConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type HealthConfig struct {
	Timeout  Duration `yaml:"timeout"`
	Interval Duration `yaml:"interval"`
}

type RetireConfig struct {
	DrainGrace   Duration `yaml:"drain_grace"`
	CleanupGrace Duration `yaml:"cleanup_grace"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	AdminURL string `yaml:"admin_url"` // empty disables database provisioning
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file, expands $VAR references from the
// environment, and applies defaults. An empty path yields an all-defaults
// Config.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables
		dataStr := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Set defaults
	if cfg.Incoming.Dir == "" {
		cfg.Incoming.Dir = "/data/incoming"
	}
	if cfg.Scratch.Dir == "" {
		cfg.Scratch.Dir = "/data/scratch"
	}
	if cfg.Ports.Min == 0 {
		cfg.Ports.Min = 4000
	}
	if cfg.Ports.Max == 0 {
		cfg.Ports.Max = 4999
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = Duration(90 * time.Second)
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = Duration(2 * time.Second)
	}
	if cfg.Retire.DrainGrace == 0 {
		cfg.Retire.DrainGrace = Duration(20 * time.Second)
	}
	if cfg.Retire.CleanupGrace == 0 {
		cfg.Retire.CleanupGrace = Duration(60 * time.Second)
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/apphost.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Ports.Min > cfg.Ports.Max {
		return nil, fmt.Errorf("invalid port range %d-%d", cfg.Ports.Min, cfg.Ports.Max)
	}

	return &cfg, nil
}
