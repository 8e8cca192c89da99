package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gestor.yml.
type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		TokenEnv       string `yaml:"token_env"`
		RateBudget     int    `yaml:"rate_budget"`
		ConnectTimeout int    `yaml:"connect_timeout_seconds"`
		ReadTimeout    int    `yaml:"read_timeout_seconds"`
		PageSize       int    `yaml:"page_size"`
	} `yaml:"api"`
	Sync struct {
		MonthsHistory int      `yaml:"months_history"`
		Statuses      []string `yaml:"statuses"`
	} `yaml:"sync"`
	Deadlines struct {
		ReinfDay       int `yaml:"reinf_day"`
		EFDContribDay  int `yaml:"efd_contrib_day"`
		RiskWindowDays int `yaml:"risk_window_days"`
	} `yaml:"deadlines"`
	Fusion struct {
		PreferMailKeywords []string `yaml:"prefer_mail_keywords"`
	} `yaml:"fusion"`
	RulesFile string `yaml:"rules_file"`
	DataDir   string `yaml:"data_dir"`
}

// Load reads config from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
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
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if c.API.RateBudget < 1 {
		return fmt.Errorf("config.api.rate_budget must be >= 1")
	}
	if c.API.PageSize < 1 {
		return fmt.Errorf("config.api.page_size must be >= 1")
	}
	if c.Deadlines.ReinfDay < 1 || c.Deadlines.ReinfDay > 28 {
		return fmt.Errorf("config.deadlines.reinf_day must be within 1..28")
	}
	if c.Deadlines.EFDContribDay < 1 || c.Deadlines.EFDContribDay > 28 {
		return fmt.Errorf("config.deadlines.efd_contrib_day must be within 1..28")
	}
	if c.Deadlines.RiskWindowDays < 0 {
		return fmt.Errorf("config.deadlines.risk_window_days must be >= 0")
	}
	if c.Sync.MonthsHistory < 1 {
		return fmt.Errorf("config.sync.months_history must be >= 1")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gestor.yml")
}

// Default returns the built-in config. Values mirror the deployed
// defaults: Acessórias base URL, 90 calls/minute, REINF on the 15th and
// EFD-Contribuições on the 20th with a 5-day risk window.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
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

const defaultTemplate = `api:
  base_url: https://api.acessorias.com
  token_env: ACESSORIAS_TOKEN
  rate_budget: 90
  connect_timeout_seconds: 10
  read_timeout_seconds: 30
  page_size: 100

sync:
  months_history: 6
  statuses: []

deadlines:
  reinf_day: 15
  efd_contrib_day: 20
  risk_window_days: 5

fusion:
  prefer_mail_keywords: [mit, dispensa, confirma]

rules_file: rules.json
data_dir: data
`
