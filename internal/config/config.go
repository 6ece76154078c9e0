package config

import (
	"fmt"
	"time"

	"github.com/steveyegge/qgate/internal/ai"
	"github.com/steveyegge/qgate/internal/cost"
	"github.com/steveyegge/qgate/internal/escalation"
	"github.com/steveyegge/qgate/internal/resolver"
)

// Config represents the full qgate configuration. File keys are the
// mapstructure names; environment variables use the QGATE_ prefix with
// dots replaced by underscores.
type Config struct {
	// Enabled turns escalation on or off; a disabled gate still classifies
	// and blocks on errors but never calls the reasoning model
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Debug switches logging to debug level
	// Default: false
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// EscalationSensitivity picks the initial complexity threshold
	// Options: "conservative", "balanced", "aggressive"
	// Default: "balanced"
	EscalationSensitivity string `mapstructure:"escalation_sensitivity" yaml:"escalation_sensitivity" validate:"oneof=conservative balanced aggressive"`

	// MaxEscalationRate is the escalation ceiling over the rolling window
	// Default: 0.15, Range: (0, 1]
	MaxEscalationRate float64 `mapstructure:"max_escalation_rate" yaml:"max_escalation_rate" validate:"gt=0,lte=1"`

	// MinComplexityScore overrides the sensitivity table's minimum when > 0
	// Default: 0, Range: 0-100
	MinComplexityScore int `mapstructure:"min_complexity_score" yaml:"min_complexity_score" validate:"gte=0,lte=100"`

	// MonthlyCostLimit stops escalations once the month's spend reaches it (USD)
	// Default: 0 (unlimited)
	MonthlyCostLimit float64 `mapstructure:"monthly_cost_limit" yaml:"monthly_cost_limit" validate:"gte=0"`

	// DailyInvocationLimit stops escalations after this many calls in a day
	// Default: 0 (unlimited)
	DailyInvocationLimit int `mapstructure:"daily_invocation_limit" yaml:"daily_invocation_limit" validate:"gte=0"`

	// TimeoutMs bounds a single reasoning call
	// Default: 30000
	TimeoutMs int `mapstructure:"timeout_ms" yaml:"timeout_ms" validate:"gte=1000,lte=600000"`

	// EscalationCooldownMs is the minimum time between two escalations
	// Default: 10000
	EscalationCooldownMs int `mapstructure:"escalation_cooldown_ms" yaml:"escalation_cooldown_ms" validate:"gte=0"`

	// WindowSize bounds the rolling check window. The rate ceiling needs 20 samples.
	// Default: 100
	WindowSize int `mapstructure:"window_size" yaml:"window_size" validate:"gte=20,lte=10000"`

	// Workers is the number of files checked concurrently
	// Default: 4
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=1,lte=64"`

	// MaxConcurrentCalls caps in-flight reasoning calls
	// Default: 2
	MaxConcurrentCalls int `mapstructure:"max_concurrent_calls" yaml:"max_concurrent_calls" validate:"gte=1,lte=16"`

	// Model is the reasoning model name
	Model string `mapstructure:"model" yaml:"model" validate:"required"`

	// MaxTokens caps the reasoning response length
	// Default: 4096
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gte=256,lte=64000"`

	// StatePath is the SQLite state store, relative to the project root
	// Default: ".qgate/state.db"
	StatePath string `mapstructure:"state_path" yaml:"state_path" validate:"required"`

	// CachePath is the persisted config resolver cache, relative to the project root
	// Default: ".qgate/config-cache.json"
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// DefaultConfig is the project config used when nothing else matches
	// Default: "tsconfig.json"
	DefaultConfig string `mapstructure:"default_config" yaml:"default_config" validate:"required"`

	// ConfigCandidates are project config files in priority order, most specific first
	ConfigCandidates []string `mapstructure:"config_candidates" yaml:"config_candidates" validate:"min=1,dive,required"`

	// AlwaysEscalatePatterns are regexes that bypass the complexity gate
	AlwaysEscalatePatterns []string `mapstructure:"always_escalate_patterns" yaml:"always_escalate_patterns"`

	// NeverEscalatePatterns are regexes that suppress escalation; they beat always-patterns
	NeverEscalatePatterns []string `mapstructure:"never_escalate_patterns" yaml:"never_escalate_patterns"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Cost           CostConfig           `mapstructure:"cost" yaml:"cost"`
	Tuning         TuningConfig         `mapstructure:"tuning" yaml:"tuning"`
}

// CircuitBreakerConfig configures the reasoning circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures consecutive failures open the circuit
	// Default: 3
	MaxFailures int `mapstructure:"max_failures" yaml:"max_failures" validate:"gte=1,lte=100"`

	// CooldownMs is how long the circuit stays open after the last failure
	// Default: 60000
	CooldownMs int `mapstructure:"cooldown_ms" yaml:"cooldown_ms" validate:"gte=1000"`
}

// CostConfig configures pricing and the usage ledger
type CostConfig struct {
	InputTokenCost           float64 `mapstructure:"input_token_cost" yaml:"input_token_cost" validate:"gte=0"`
	OutputTokenCost          float64 `mapstructure:"output_token_cost" yaml:"output_token_cost" validate:"gte=0"`
	AssumedInvocationsPerDay int     `mapstructure:"assumed_invocations_per_day" yaml:"assumed_invocations_per_day" validate:"gte=0"`
	AverageWindow            int     `mapstructure:"average_window" yaml:"average_window" validate:"gte=1"`
	HighTokenThreshold       int64   `mapstructure:"high_token_threshold" yaml:"high_token_threshold" validate:"gte=1"`
	HistorySize              int     `mapstructure:"history_size" yaml:"history_size" validate:"gtefield=AverageWindow,lte=100000"`
}

// TuningConfig holds the adaptive threshold constants
type TuningConfig struct {
	MinSamples     int     `mapstructure:"min_samples" yaml:"min_samples" validate:"gte=1"`
	Step           int     `mapstructure:"step" yaml:"step" validate:"gte=1,lte=50"`
	HardFloor      int     `mapstructure:"hard_floor" yaml:"hard_floor" validate:"gte=0,lte=100"`
	Ceiling        int     `mapstructure:"ceiling" yaml:"ceiling" validate:"gtefield=HardFloor,lte=100"`
	ErrorFrequency float64 `mapstructure:"error_frequency" yaml:"error_frequency" validate:"gte=0"`
	FloorRatio     float64 `mapstructure:"floor_ratio" yaml:"floor_ratio" validate:"gte=0,lte=1"`
}

// Default returns the default configuration
func Default() *Config {
	costDefaults := cost.DefaultConfig()
	tuning := escalation.DefaultTuningConfig()
	return &Config{
		Enabled:               true,
		EscalationSensitivity: string(escalation.SensitivityBalanced),
		MaxEscalationRate:     0.15,
		TimeoutMs:             30000,
		EscalationCooldownMs:  10000,
		WindowSize:            escalation.DefaultWindowSize,
		Workers:               4,
		MaxConcurrentCalls:    2,
		Model:                 ai.ModelSonnet,
		MaxTokens:             4096,
		StatePath:             ".qgate/state.db",
		CachePath:             ".qgate/config-cache.json",
		DefaultConfig:         resolver.DefaultConfigName,
		ConfigCandidates:      append([]string(nil), resolver.DefaultCandidates...),
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures: 3,
			CooldownMs:  60000,
		},
		Cost: CostConfig{
			InputTokenCost:           costDefaults.InputTokenCost,
			OutputTokenCost:          costDefaults.OutputTokenCost,
			AssumedInvocationsPerDay: costDefaults.AssumedInvocationsPerDay,
			AverageWindow:            costDefaults.AverageWindow,
			HighTokenThreshold:       costDefaults.HighTokenThreshold,
			HistorySize:              costDefaults.HistorySize,
		},
		Tuning: TuningConfig{
			MinSamples:     tuning.MinSamples,
			Step:           tuning.Step,
			HardFloor:      tuning.HardFloor,
			Ceiling:        tuning.Ceiling,
			ErrorFrequency: tuning.ErrorFrequency,
			FloorRatio:     tuning.FloorRatio,
		},
	}
}

// Timeout returns the per-call reasoning timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BreakerCooldown returns the circuit breaker cooldown
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.CircuitBreaker.CooldownMs) * time.Millisecond
}

// Escalation converts to the controller's configuration
func (c *Config) Escalation() escalation.Config {
	return escalation.Config{
		Enabled:                c.Enabled,
		Sensitivity:            escalation.Sensitivity(c.EscalationSensitivity),
		MaxEscalationRate:      c.MaxEscalationRate,
		MinComplexityScore:     c.MinComplexityScore,
		Cooldown:               time.Duration(c.EscalationCooldownMs) * time.Millisecond,
		WindowSize:             c.WindowSize,
		AlwaysEscalatePatterns: append([]string(nil), c.AlwaysEscalatePatterns...),
		NeverEscalatePatterns:  append([]string(nil), c.NeverEscalatePatterns...),
		Tuning: escalation.TuningConfig{
			MinSamples:     c.Tuning.MinSamples,
			Step:           c.Tuning.Step,
			HardFloor:      c.Tuning.HardFloor,
			Ceiling:        c.Tuning.Ceiling,
			ErrorFrequency: c.Tuning.ErrorFrequency,
			FloorRatio:     c.Tuning.FloorRatio,
		},
	}
}

// Ledger converts to the usage ledger's configuration
func (c *Config) Ledger() *cost.Config {
	return &cost.Config{
		InputTokenCost:           c.Cost.InputTokenCost,
		OutputTokenCost:          c.Cost.OutputTokenCost,
		MonthlyCostLimit:         c.MonthlyCostLimit,
		DailyInvocationLimit:     c.DailyInvocationLimit,
		AssumedInvocationsPerDay: c.Cost.AssumedInvocationsPerDay,
		AverageWindow:            c.Cost.AverageWindow,
		HighTokenThreshold:       c.Cost.HighTokenThreshold,
		HistorySize:              c.Cost.HistorySize,
		MaxEscalationRate:        c.MaxEscalationRate,
	}
}

// String summarises the settings that matter most when debugging a gate
func (c *Config) String() string {
	return fmt.Sprintf("enabled=%t sensitivity=%s max_rate=%.2f timeout=%s breaker=%d/%s",
		c.Enabled, c.EscalationSensitivity, c.MaxEscalationRate, c.Timeout(),
		c.CircuitBreaker.MaxFailures, c.BreakerCooldown())
}
