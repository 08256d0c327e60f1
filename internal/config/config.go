package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Telegraf   TelegrafConfig   `yaml:"telegraf"`
	Filters    FiltersConfig    `yaml:"filters"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Admin      AdminConfig      `yaml:"admin"`
}

// TelegrafConfig describes the metrics receiver endpoint.
type TelegrafConfig struct {
	SocketPath  string `yaml:"socket_path"`
	Measurement string `yaml:"measurement"`
}

// FiltersConfig holds comma-separated glob pattern lists controlling which
// units are emitted. Patterns support `*` as the only wildcard and are
// matched against the full unit name.
type FiltersConfig struct {
	Include string `yaml:"include"`
	Exclude string `yaml:"exclude"`
}

// MonitoringConfig holds polling behavior settings.
type MonitoringConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval"`
}

// PollInterval returns the poll interval as a duration.
func (m MonitoringConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// AdminConfig describes the optional local HTTP endpoint serving health and
// Prometheus metrics for the monitor itself.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}
	if c.Telegraf.SocketPath == "" {
		c.Telegraf.SocketPath = "/run/telegraf/telegraf.sock"
	}
	if c.Telegraf.Measurement == "" {
		c.Telegraf.Measurement = "systemd_units"
	}
	if c.Monitoring.PollIntervalSeconds == 0 {
		c.Monitoring.PollIntervalSeconds = 10
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:9472"
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Monitoring.PollIntervalSeconds < 1 {
		return fmt.Errorf("monitoring.poll_interval must be >= 1 second, got %d", c.Monitoring.PollIntervalSeconds)
	}
	if c.Telegraf.Measurement == "" {
		return fmt.Errorf("telegraf.measurement must not be empty")
	}
	if strings.ContainsAny(c.Telegraf.Measurement, " ,") {
		return fmt.Errorf("telegraf.measurement %q must not contain spaces or commas", c.Telegraf.Measurement)
	}
	if c.Telegraf.SocketPath == "" {
		return fmt.Errorf("telegraf.socket_path must not be empty")
	}
	return nil
}

// loadEnvFile loads environment variables from a .env file if present.
func loadEnvFile() error {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		return err
	}
	return godotenv.Load()
}
