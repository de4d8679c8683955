// Package config loads helpdesk settings from YAML, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Policy values for priority resolution when a subcategory has no rules.
const (
	NoRulesElevated = "elevated"
	NoRulesAsk      = "ask"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Log        LogConfig        `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type GmailConfig struct {
	Credentials string `mapstructure:"credentials"`
	Token       string `mapstructure:"token"`
	Query       string `mapstructure:"query"`
}

type RulesConfig struct {
	Path string `mapstructure:"path"`
}

type PolicyConfig struct {
	ConfidenceGap     float64 `mapstructure:"confidence_gap"`
	MaxQuestions      int     `mapstructure:"max_questions"`
	MinRuleConfidence float64 `mapstructure:"min_rule_confidence"`
	NoRules           string  `mapstructure:"no_rules"`
}

type WorkflowConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	AwaitTimeout time.Duration `mapstructure:"await_timeout"`
	MaxReentries int           `mapstructure:"max_reentries"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Workers      int           `mapstructure:"workers"`
}

type EscalationConfig struct {
	Supervisor string `mapstructure:"supervisor"`
}

type IntakeConfig struct {
	AllowedSenders []string `mapstructure:"allowed_senders"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(".helpdesk", "helpdesk.db"))
	v.SetDefault("database.url", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("gmail.credentials", "credentials.json")
	v.SetDefault("gmail.token", "token.json")
	v.SetDefault("gmail.query", "in:inbox is:unread newer_than:3d")
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("policy.confidence_gap", 0.2)
	v.SetDefault("policy.max_questions", 3)
	v.SetDefault("policy.min_rule_confidence", 0.5)
	v.SetDefault("policy.no_rules", NoRulesElevated)
	v.SetDefault("workflow.poll_interval", "10s")
	v.SetDefault("workflow.await_timeout", "48h")
	v.SetDefault("workflow.max_reentries", 3)
	v.SetDefault("workflow.max_attempts", 5)
	v.SetDefault("workflow.workers", 4)
	v.SetDefault("escalation.supervisor", "")
	v.SetDefault("intake.allowed_senders", []string{})
	v.SetDefault("log.development", false)
}

// Load reads configuration. An empty path searches for .helpdesk/config.yaml
// from the working directory upward; without a file only defaults and the
// environment apply. HD_-prefixed variables override file values, e.g.
// HD_WORKFLOW_POLL_INTERVAL for workflow.poll_interval.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("HD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "HD_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "HD_DATABASE_URL", "DATABASE_URL")

	if path == "" {
		path = Discover()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path

	// A DATABASE_URL without an explicit driver means postgres.
	if cfg.Database.URL != "" && !v.InConfig("database.driver") && os.Getenv("HD_DATABASE_DRIVER") == "" {
		cfg.Database.Driver = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks policy values and driver selection.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Policy.ConfidenceGap < 0 || c.Policy.ConfidenceGap > 1 {
		return fmt.Errorf("policy.confidence_gap must be within [0,1], got %v", c.Policy.ConfidenceGap)
	}
	if c.Policy.MaxQuestions < 1 {
		return fmt.Errorf("policy.max_questions must be positive, got %d", c.Policy.MaxQuestions)
	}
	if c.Policy.NoRules != NoRulesElevated && c.Policy.NoRules != NoRulesAsk {
		return fmt.Errorf("policy.no_rules must be %q or %q, got %q", NoRulesElevated, NoRulesAsk, c.Policy.NoRules)
	}
	if c.Workflow.PollInterval <= 0 {
		return fmt.Errorf("workflow.poll_interval must be positive")
	}
	if c.Workflow.MaxReentries < 1 || c.Workflow.MaxAttempts < 1 || c.Workflow.Workers < 1 {
		return fmt.Errorf("workflow.max_reentries, max_attempts and workers must be positive")
	}
	return nil
}

// Discover walks up from cwd looking for .helpdesk/config.yaml.
func Discover() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".helpdesk", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// Default is the template written by `hd init`.
const Default = `# helpdesk configuration
database:
  driver: sqlite
  path: .helpdesk/helpdesk.db

openai:
  model: gpt-4o-mini

gmail:
  credentials: credentials.json
  token: token.json
  query: "in:inbox is:unread newer_than:3d"

rules:
  path: rules.yaml

policy:
  confidence_gap: 0.2
  max_questions: 3
  min_rule_confidence: 0.5
  no_rules: elevated

workflow:
  poll_interval: 10s
  await_timeout: 48h
  max_reentries: 3
  max_attempts: 5
  workers: 4

escalation:
  supervisor: ""

intake:
  allowed_senders: []
`
