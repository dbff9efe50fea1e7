// Package config loads and validates the governor's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// AutonomyConfig controls risk assessment and auto-approval.
type AutonomyConfig struct {
	RiskThreshold          float64  `json:"risk_threshold" yaml:"risk_threshold" validate:"gte=0,lte=1"`
	MaxMutationsPerSession int      `json:"max_mutations_per_session" yaml:"max_mutations_per_session" validate:"gte=0"`
	AutoApproveLowRisk     *bool    `json:"auto_approve_low_risk" yaml:"auto_approve_low_risk"`
	ImpactThreshold        float64  `json:"impact_threshold" yaml:"impact_threshold" validate:"gte=0"`
	TrustedSources         []string `json:"trusted_sources" yaml:"trusted_sources"`
	ApprovalTTLSec         int      `json:"approval_ttl_sec" yaml:"approval_ttl_sec" validate:"gte=0"`
}

// HealingConfig controls the self healer.
type HealingConfig struct {
	MaxAttempts  int `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	RetryDelayMS int `json:"retry_delay_ms" yaml:"retry_delay_ms" validate:"gte=0"`
	HistorySize  int `json:"history_size" yaml:"history_size" validate:"gte=1"`
}

// FitnessWeights are the component weights of the overall score.
type FitnessWeights struct {
	SuccessRate    float64 `json:"success_rate" yaml:"success_rate" validate:"gte=0,lte=1"`
	HealingSpeed   float64 `json:"healing_speed" yaml:"healing_speed" validate:"gte=0,lte=1"`
	CostEfficiency float64 `json:"cost_efficiency" yaml:"cost_efficiency" validate:"gte=0,lte=1"`
	Uptime         float64 `json:"uptime" yaml:"uptime" validate:"gte=0,lte=1"`
}

// Sum returns the total of all weights.
func (w FitnessWeights) Sum() float64 {
	return w.SuccessRate + w.HealingSpeed + w.CostEfficiency + w.Uptime
}

// FitnessConfig controls the fitness monitor.
type FitnessConfig struct {
	Weights                     *FitnessWeights `json:"weights" yaml:"weights"`
	DegradationThresholdPercent float64         `json:"degradation_threshold_percent" yaml:"degradation_threshold_percent" validate:"gte=0,lte=100"`
	TrendWindow                 int             `json:"trend_window" yaml:"trend_window" validate:"gte=2"`
	HistorySize                 int             `json:"history_size" yaml:"history_size" validate:"gte=2"`
	BaselineOpsPerCost          float64         `json:"baseline_ops_per_cost" yaml:"baseline_ops_per_cost" validate:"gt=0"`
}

// RollbackConfig controls snapshot retention.
type RollbackConfig struct {
	MaxSnapshots           int   `json:"max_snapshots" yaml:"max_snapshots" validate:"gte=1"`
	SnapshotBeforeMutation *bool `json:"snapshot_before_mutation" yaml:"snapshot_before_mutation"`
}

// Config holds the governor's runtime configuration.
type Config struct {
	InstanceID         string         `json:"instance_id" yaml:"instance_id" validate:"required"`
	DBPath             string         `json:"db_path" yaml:"db_path" validate:"required"`
	LocalStorePath     string         `json:"local_store_path" yaml:"local_store_path"`
	ListenAddr         string         `json:"listen_addr" yaml:"listen_addr"`
	LogLevel           string         `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON            bool           `json:"log_json" yaml:"log_json"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
	Autonomy           AutonomyConfig `json:"autonomy" yaml:"autonomy"`
	Healing            HealingConfig  `json:"healing" yaml:"healing"`
	Fitness            FitnessConfig  `json:"fitness" yaml:"fitness"`
	Rollback           RollbackConfig `json:"rollback" yaml:"rollback"`
}

// DefaultTrustedSources are the proposers that carry no source penalty.
var DefaultTrustedSources = []string{"ChatGPT", "Claude", "Gemini", "FitnessMonitor", "operator"}

var validate = validator.New()

// Load reads a JSON or YAML config file, applies defaults and environment
// overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration using only defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.DBPath == "" {
		c.DBPath = "governor.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}

	a := &c.Autonomy
	if a.RiskThreshold == 0 {
		a.RiskThreshold = 0.3
	}
	if a.MaxMutationsPerSession == 0 {
		a.MaxMutationsPerSession = 10
	}
	if a.AutoApproveLowRisk == nil {
		a.AutoApproveLowRisk = boolPtr(true)
	}
	if a.ImpactThreshold == 0 {
		a.ImpactThreshold = 5.0
	}
	if len(a.TrustedSources) == 0 {
		a.TrustedSources = append([]string(nil), DefaultTrustedSources...)
	}

	h := &c.Healing
	if h.MaxAttempts == 0 {
		h.MaxAttempts = 3
	}
	if h.RetryDelayMS == 0 {
		h.RetryDelayMS = 1000
	}
	if h.HistorySize == 0 {
		h.HistorySize = 1000
	}

	f := &c.Fitness
	if f.Weights == nil {
		f.Weights = &FitnessWeights{SuccessRate: 0.4, HealingSpeed: 0.2, CostEfficiency: 0.2, Uptime: 0.2}
	}
	if f.DegradationThresholdPercent == 0 {
		f.DegradationThresholdPercent = 10
	}
	if f.TrendWindow == 0 {
		f.TrendWindow = 10
	}
	if f.HistorySize == 0 {
		f.HistorySize = 100
	}
	if f.BaselineOpsPerCost == 0 {
		f.BaselineOpsPerCost = 100
	}

	r := &c.Rollback
	if r.MaxSnapshots == 0 {
		r.MaxSnapshots = 10
	}
	if r.SnapshotBeforeMutation == nil {
		r.SnapshotBeforeMutation = boolPtr(true)
	}
}

// applyEnv overlays GOVERNOR_* environment variables. Unparseable values are
// ignored so the file value stands.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("GOVERNOR_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("GOVERNOR_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("GOVERNOR_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv("GOVERNOR_RISK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Autonomy.RiskThreshold = f
		}
	}
	if v := getenv("GOVERNOR_MAX_MUTATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Autonomy.MaxMutationsPerSession = n
		}
	}
	if v := getenv("GOVERNOR_AUTO_APPROVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Autonomy.AutoApproveLowRisk = boolPtr(b)
		}
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if c.Fitness.Weights != nil {
		if err := ValidateWeights(*c.Fitness.Weights); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// ValidateWeights requires the fitness weights to sum to 1.0.
func ValidateWeights(w FitnessWeights) error {
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("fitness weights must sum to 1.0, got %.4f", w.Sum())
	}
	return nil
}

// AutoApprove reports the effective auto-approval flag.
func (a AutonomyConfig) AutoApprove() bool {
	return a.AutoApproveLowRisk == nil || *a.AutoApproveLowRisk
}

// SnapshotsBeforeMutation reports the effective pre-mutation snapshot flag.
func (r RollbackConfig) SnapshotsBeforeMutation() bool {
	return r.SnapshotBeforeMutation == nil || *r.SnapshotBeforeMutation
}

func boolPtr(b bool) *bool { return &b }
