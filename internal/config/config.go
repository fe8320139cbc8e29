package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models flowline.yml.
type Config struct {
	Studio struct {
		Name string `yaml:"name"`
	} `yaml:"studio"`
	Horizon struct {
		ForecastDays int `yaml:"forecast_days"`
		RiskDays     int `yaml:"risk_days"`
		DueSoonDays  int `yaml:"due_soon_days"`
	} `yaml:"horizon"`
	Momentum struct {
		RedBelowPct   int `yaml:"red_below_pct"`
		AmberBelowPct int `yaml:"amber_below_pct"`
	} `yaml:"momentum"`
	Flow struct {
		FallbackDriver string `yaml:"fallback_driver"`
	} `yaml:"flow"`
	Snapshot struct {
		Path string `yaml:"path"`
	} `yaml:"snapshot"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run fl init or pass --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Horizon.ForecastDays <= 0 {
		return fmt.Errorf("config.horizon.forecast_days must be positive")
	}
	if c.Horizon.RiskDays <= 0 {
		return fmt.Errorf("config.horizon.risk_days must be positive")
	}
	if c.Horizon.DueSoonDays <= 0 {
		return fmt.Errorf("config.horizon.due_soon_days must be positive")
	}
	if c.Momentum.RedBelowPct < 0 || c.Momentum.AmberBelowPct < 0 {
		return fmt.Errorf("config.momentum thresholds must be non-negative")
	}
	if c.Momentum.RedBelowPct > c.Momentum.AmberBelowPct {
		return fmt.Errorf("config.momentum.red_below_pct must not exceed amber_below_pct")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flowline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `studio:
  name: Flowline

horizon:
  forecast_days: 30
  risk_days: 30
  due_soon_days: 7

momentum:
  red_below_pct: 40
  amber_below_pct: 70

flow:
  fallback_driver: "Everything looks steady"

snapshot:
  path: snapshot.yml
`
