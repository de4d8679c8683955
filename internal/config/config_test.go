package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultTemplate(t *testing.T) {
	cfg, err := Load(writeConfig(t, Default))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.ConfidenceGap != 0.2 {
		t.Errorf("expected gap 0.2, got %v", cfg.Policy.ConfidenceGap)
	}
	if cfg.Policy.MaxQuestions != 3 {
		t.Errorf("expected 3 questions, got %d", cfg.Policy.MaxQuestions)
	}
	if cfg.Workflow.PollInterval != 10*time.Second {
		t.Errorf("expected 10s poll interval, got %v", cfg.Workflow.PollInterval)
	}
	if cfg.Workflow.AwaitTimeout != 48*time.Hour {
		t.Errorf("expected 48h timeout, got %v", cfg.Workflow.AwaitTimeout)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  confidence_gap: 0.3
  no_rules: ask
intake:
  allowed_senders: [ops@example.com, it@example.com]
escalation:
  supervisor: boss@example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.ConfidenceGap != 0.3 {
		t.Errorf("expected gap 0.3, got %v", cfg.Policy.ConfidenceGap)
	}
	if cfg.Policy.NoRules != NoRulesAsk {
		t.Errorf("expected no_rules ask, got %q", cfg.Policy.NoRules)
	}
	if len(cfg.Intake.AllowedSenders) != 2 {
		t.Errorf("expected 2 allowed senders, got %v", cfg.Intake.AllowedSenders)
	}
	if cfg.Escalation.Supervisor != "boss@example.com" {
		t.Errorf("unexpected supervisor %q", cfg.Escalation.Supervisor)
	}
	// Untouched keys keep defaults.
	if cfg.Workflow.MaxReentries != 3 {
		t.Errorf("expected default max_reentries 3, got %d", cfg.Workflow.MaxReentries)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HD_WORKFLOW_POLL_INTERVAL", "30s")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, Default))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.PollInterval != 30*time.Second {
		t.Errorf("expected 30s from env, got %v", cfg.Workflow.PollInterval)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("expected api key from env, got %q", cfg.OpenAI.APIKey)
	}
}

func TestLoadDatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/hd?sslmode=disable")

	cfg, err := Load(writeConfig(t, "log:\n  development: true\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"gap", "policy:\n  confidence_gap: 1.5\n", "confidence_gap"},
		{"no rules", "policy:\n  no_rules: guess\n", "no_rules"},
		{"driver", "database:\n  driver: mysql\n", "database.driver"},
		{"questions", "policy:\n  max_questions: 0\n", "max_questions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
