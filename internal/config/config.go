package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"plazos/internal/holidays"
)

// Config models plazos.yml.
type Config struct {
	Timezone string `yaml:"timezone"`
	Rulesets struct {
		File string `yaml:"file"`
	} `yaml:"rulesets"`
	Holidays map[string]map[int][]string `yaml:"holidays"`
	Scheduler struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Window   time.Duration `yaml:"window"`
		ClaimTTL time.Duration `yaml:"claim_ttl"`
		Mode     string        `yaml:"mode"`
	} `yaml:"scheduler"`
	Notify struct {
		Transport string `yaml:"transport"`
		Webhook   struct {
			URL     string        `yaml:"url"`
			Secret  string        `yaml:"secret"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"webhook"`
	} `yaml:"notify"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with plazos init", path)
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone %q is not a known zone", c.Timezone)
		}
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("config.scheduler.interval must be positive")
	}
	if c.Scheduler.Window <= 0 {
		return fmt.Errorf("config.scheduler.window must be positive")
	}
	if c.Scheduler.ClaimTTL <= 0 {
		return fmt.Errorf("config.scheduler.claim_ttl must be positive")
	}
	if strings.TrimSpace(c.Scheduler.Mode) == "" {
		return fmt.Errorf("config.scheduler.mode is required")
	}
	switch c.Notify.Transport {
	case "log":
	case "webhook":
		if c.Notify.Webhook.URL == "" {
			return fmt.Errorf("config.notify.webhook.url is required for the webhook transport")
		}
	default:
		return fmt.Errorf("config.notify.transport must be log or webhook, got %q", c.Notify.Transport)
	}
	for country, years := range c.Holidays {
		if strings.TrimSpace(country) == "" {
			return fmt.Errorf("config.holidays has empty country code")
		}
		for year, days := range years {
			if err := holidays.ValidateDates(days); err != nil {
				return fmt.Errorf("config.holidays.%s.%d: %w", country, year, err)
			}
		}
	}
	return nil
}

// HolidaySource returns the built-in holiday data merged with the config's.
func (c *Config) HolidaySource() holidays.StaticSource {
	return holidays.Builtin().Merge(holidays.StaticSource(c.Holidays))
}

// RulesetsPath resolves the rulesets file relative to workspace. Empty means
// the bundled registry.
func (c *Config) RulesetsPath(workspace string) string {
	if c.Rulesets.File == "" || filepath.IsAbs(c.Rulesets.File) {
		return c.Rulesets.File
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Rulesets.File)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plazos.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
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

const defaultTemplate = `timezone: America/Lima

rulesets:
  # empty uses the bundled registry
  file: ""

# extra holiday dates merged into the built-in lists
holidays: {}

scheduler:
  enabled: true
  interval: 1m
  window: 72h
  claim_ttl: 5m
  mode: push

notify:
  transport: log
  webhook:
    url: ""
    secret: ""
    timeout: 10s

log:
  level: info
  development: false
`
