package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models peerproof.yml.
type Config struct {
	Instance struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
	} `yaml:"instance"`
	Points struct {
		ValidatorReward   int64 `yaml:"validator_reward"`
		ReportReviewBonus int64 `yaml:"report_review_bonus"`
	} `yaml:"points"`
	Stats struct {
		LeaderboardSize int `yaml:"leaderboard_size"`
	} `yaml:"stats"`
	Rejections struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"rejections"`
	Reports struct {
		Reasons []string `yaml:"reasons"`
	} `yaml:"reports"`
	Media struct {
		UploadURL string `yaml:"upload_url"`
	} `yaml:"media"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pp config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Instance.Name == "" {
		return fmt.Errorf("config.instance.name is required")
	}
	if c.Instance.Kind != "challenge-community" {
		return fmt.Errorf("config.instance.kind must be 'challenge-community'")
	}
	if c.Points.ValidatorReward < 0 {
		return fmt.Errorf("config.points.validator_reward must not be negative")
	}
	if c.Points.ReportReviewBonus < 0 {
		return fmt.Errorf("config.points.report_review_bonus must not be negative")
	}
	if c.Stats.LeaderboardSize <= 0 {
		return fmt.Errorf("config.stats.leaderboard_size must be positive")
	}
	if len(c.Rejections.Catalog) == 0 {
		return fmt.Errorf("config.rejections.catalog is required")
	}
	for reason := range c.Rejections.Catalog {
		if reason == "" {
			return fmt.Errorf("config.rejections.catalog contains empty reason")
		}
	}
	if len(c.Reports.Reasons) == 0 {
		return fmt.Errorf("config.reports.reasons is required")
	}
	for _, reason := range c.Reports.Reasons {
		if reason == "" {
			return fmt.Errorf("config.reports.reasons contains empty reason")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ValidRejectionReason reports whether reason is in the fixed catalog.
func (c *Config) ValidRejectionReason(reason string) bool {
	_, ok := c.Rejections.Catalog[reason]
	return ok
}

// ValidReportReason reports whether reason is in the fixed report set.
func (c *Config) ValidReportReason(reason string) bool {
	for _, r := range c.Reports.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "peerproof.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an instance.
func Default(name string) *Config {
	var cfg Config
	cfg.Instance.Name = name
	cfg.Instance.Kind = "challenge-community"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `instance:
  name: %s
  kind: challenge-community

points:
  validator_reward: 5
  report_review_bonus: 0

stats:
  leaderboard_size: 10

rejections:
  catalog:
    proof.insufficient:
      description: "Insufficient proof provided"
    proof.unrelated:
      description: "Proof does not match the challenge"
    proof.duplicate:
      description: "Proof reused from another submission"
    proof.expired:
      description: "Challenge attempt was outside the allowed window"
    rules.violation:
      description: "Submission violates community rules"

reports:
  reasons:
    - spam
    - offensive
    - cheating
    - copyright
    - other
`
