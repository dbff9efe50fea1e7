package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// validJSON returns a minimal valid configuration JSON string.
func validJSON() string {
	return `{
		"instance_id": "alpha",
		"db_path": "/tmp/test.db",
		"autonomy": {
			"risk_threshold": 0.25,
			"max_mutations_per_session": 4,
			"trusted_sources": ["ChatGPT"]
		},
		"rollback": {"max_snapshots": 3}
	}`
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_ValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "alpha" {
		t.Errorf("InstanceID = %q, want alpha", cfg.InstanceID)
	}
	if cfg.Autonomy.RiskThreshold != 0.25 {
		t.Errorf("RiskThreshold = %f, want 0.25", cfg.Autonomy.RiskThreshold)
	}
	if cfg.Autonomy.MaxMutationsPerSession != 4 {
		t.Errorf("MaxMutationsPerSession = %d, want 4", cfg.Autonomy.MaxMutationsPerSession)
	}
	if len(cfg.Autonomy.TrustedSources) != 1 {
		t.Errorf("TrustedSources = %v, want 1 entry", cfg.Autonomy.TrustedSources)
	}
	if cfg.Rollback.MaxSnapshots != 3 {
		t.Errorf("MaxSnapshots = %d, want 3", cfg.Rollback.MaxSnapshots)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "governor.yaml", `
instance_id: beta
db_path: /tmp/beta.db
autonomy:
  auto_approve_low_risk: false
healing:
  max_attempts: 5
fitness:
  weights:
    success_rate: 0.25
    healing_speed: 0.25
    cost_efficiency: 0.25
    uptime: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "beta" {
		t.Errorf("InstanceID = %q, want beta", cfg.InstanceID)
	}
	if cfg.Autonomy.AutoApprove() {
		t.Error("AutoApprove() = true, want false from file")
	}
	if cfg.Healing.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Healing.MaxAttempts)
	}
	if cfg.Fitness.Weights.Uptime != 0.25 {
		t.Errorf("Uptime weight = %f, want 0.25", cfg.Fitness.Weights.Uptime)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{not valid json}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestLoad_WeightsMustSumToOne(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"fitness": {"weights": {"success_rate": 0.5, "healing_speed": 0.5, "cost_efficiency": 0.5, "uptime": 0.5}}
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for weights summing to 2.0, got nil")
	}
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("error = %v, want ErrConfigInvalid", err)
	}
}

func TestLoad_RiskThresholdOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{"autonomy": {"risk_threshold": 1.5}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for risk_threshold 1.5, got nil")
	}
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("error = %v, want code %d", err, domain.ErrConfigInvalid.Code)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{"log_level": "chatty"}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "default" {
		t.Errorf("InstanceID = %q, want default", cfg.InstanceID)
	}
	if cfg.ListenAddr != ":9810" {
		t.Errorf("ListenAddr = %q, want :9810", cfg.ListenAddr)
	}
	if cfg.Autonomy.RiskThreshold != 0.3 {
		t.Errorf("RiskThreshold = %f, want 0.3", cfg.Autonomy.RiskThreshold)
	}
	if !cfg.Autonomy.AutoApprove() {
		t.Error("AutoApprove() = false, want true by default")
	}
	if cfg.Healing.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Healing.MaxAttempts)
	}
	if cfg.Rollback.MaxSnapshots != 10 {
		t.Errorf("MaxSnapshots = %d, want 10", cfg.Rollback.MaxSnapshots)
	}
	if !cfg.Rollback.SnapshotsBeforeMutation() {
		t.Error("SnapshotsBeforeMutation() = false, want true by default")
	}
	if got := cfg.Fitness.Weights.Sum(); got < 0.999999 || got > 1.000001 {
		t.Errorf("default weights sum = %f, want 1.0", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GOVERNOR_RISK_THRESHOLD", "0.5")
	t.Setenv("GOVERNOR_MAX_MUTATIONS", "7")
	t.Setenv("GOVERNOR_AUTO_APPROVE", "false")
	t.Setenv("GOVERNOR_DB_PATH", "/tmp/env.db")

	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Autonomy.RiskThreshold != 0.5 {
		t.Errorf("RiskThreshold = %f, want 0.5", cfg.Autonomy.RiskThreshold)
	}
	if cfg.Autonomy.MaxMutationsPerSession != 7 {
		t.Errorf("MaxMutationsPerSession = %d, want 7", cfg.Autonomy.MaxMutationsPerSession)
	}
	if cfg.Autonomy.AutoApprove() {
		t.Error("AutoApprove() = true, want false from env")
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("DBPath = %q, want /tmp/env.db", cfg.DBPath)
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}
