package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mp21695/urbanwatch/internal/workflow"
)

// Config models urbanwatch.yml.
type Config struct {
	Registry struct {
		SeedOnEmpty bool `yaml:"seed_on_empty"`
	} `yaml:"registry"`
	SLA struct {
		// Hours overrides the built-in per-category SLA defaults.
		Hours map[string]int `yaml:"hours"`
	} `yaml:"sla"`
	Monitor struct {
		Interval     string `yaml:"interval"`
		InitialDelay string `yaml:"initial_delay"`
	} `yaml:"monitor"`
	Generator struct {
		Provider    string `yaml:"provider"`
		Model       string `yaml:"model"`
		OllamaURL   string `yaml:"ollama_url"`
		OpenAIModel string `yaml:"openai_model"`
		APIKeyEnv   string `yaml:"api_key_env"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"generator"`
	Server struct {
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with urbanwatch config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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
	for category, hours := range c.SLA.Hours {
		if !workflow.ValidIssueType(category) {
			return fmt.Errorf("sla.hours references unknown issue category %s", category)
		}
		if hours <= 0 {
			return fmt.Errorf("sla.hours.%s must be positive", category)
		}
	}
	if _, err := c.MonitorInterval(); err != nil {
		return fmt.Errorf("monitor.interval: %w", err)
	}
	if _, err := c.MonitorInitialDelay(); err != nil {
		return fmt.Errorf("monitor.initial_delay: %w", err)
	}
	if _, err := c.GeneratorTimeout(); err != nil {
		return fmt.Errorf("generator.timeout: %w", err)
	}
	switch c.Generator.Provider {
	case "", "ollama", "openai", "static":
	default:
		return fmt.Errorf("generator.provider must be ollama, openai or static")
	}
	return nil
}

// SLAHoursFor returns the SLA window for a category, applying overrides
// over the built-in defaults.
func (c *Config) SLAHoursFor(category string) int {
	if h, ok := c.SLA.Hours[category]; ok {
		return h
	}
	return workflow.SLAHoursFor(category)
}

// MonitorInterval parses the scan cadence; zero means run a single scan
// after the initial delay and stop.
func (c *Config) MonitorInterval() (time.Duration, error) {
	return parseDuration(c.Monitor.Interval, 5*time.Minute)
}

// MonitorInitialDelay parses the delay before the first scan after startup.
func (c *Config) MonitorInitialDelay() (time.Duration, error) {
	return parseDuration(c.Monitor.InitialDelay, 5*time.Second)
}

// GeneratorTimeout parses the per-call generator deadline.
func (c *Config) GeneratorTimeout() (time.Duration, error) {
	return parseDuration(c.Generator.Timeout, 2*time.Minute)
}

func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s is negative", v)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "urbanwatch.yml")
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `registry:
  seed_on_empty: true

sla:
  hours: {}

monitor:
  interval: 5m
  initial_delay: 5s

generator:
  provider: ollama
  model: llama3.1
  ollama_url: http://localhost:11434
  openai_model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  timeout: 2m

server:
  base_path: /v0
`
