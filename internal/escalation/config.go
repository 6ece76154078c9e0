package escalation

import (
	"fmt"
	"regexp"
	"time"
)

// Sensitivity selects how readily diagnostics are escalated
type Sensitivity string

const (
	SensitivityConservative Sensitivity = "conservative"
	SensitivityBalanced     Sensitivity = "balanced"
	SensitivityAggressive   Sensitivity = "aggressive"
)

// SensitivityProfile is the starting point for the adaptive threshold
type SensitivityProfile struct {
	// MinComplexity is the initial threshold; a score must exceed it to escalate
	MinComplexity int
	// TargetRate is the escalation-rate midpoint the tuner steers towards
	TargetRate float64
}

// SensitivityTable maps each sensitivity level to its profile.
// Lower minimum complexity means more escalations.
var SensitivityTable = map[Sensitivity]SensitivityProfile{
	SensitivityConservative: {MinComplexity: 70, TargetRate: 0.05},
	SensitivityBalanced:     {MinComplexity: 50, TargetRate: 0.10},
	SensitivityAggressive:   {MinComplexity: 30, TargetRate: 0.15},
}

// IsValid checks if the sensitivity value is valid
func (s Sensitivity) IsValid() bool {
	_, ok := SensitivityTable[s]
	return ok
}

// minRateSamples is how many outcomes the window needs before the rate ceiling applies
const minRateSamples = 20

// TuningConfig holds the feedback-loop constants. All of them are tunable.
type TuningConfig struct {
	// MinSamples is how many outcomes are recorded between tuning passes
	// Default: 10
	MinSamples int `json:"min_samples"`

	// Step is how far the threshold moves per tuning pass
	// Default: 5
	Step int `json:"step"`

	// HardFloor is the lowest the threshold can be tuned down to
	// Default: 10
	HardFloor int `json:"hard_floor"`

	// Ceiling is the highest the threshold can be tuned up to
	// Default: 95
	Ceiling int `json:"ceiling"`

	// ErrorFrequency is the mean errors per check at or above which errors count as frequent
	// Default: 1.0
	ErrorFrequency float64 `json:"error_frequency"`

	// FloorRatio scales the target rate into the low-water mark that allows lowering the threshold
	// Default: 0.5
	FloorRatio float64 `json:"floor_ratio"`
}

// DefaultTuningConfig returns the default tuning constants
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		MinSamples:     10,
		Step:           5,
		HardFloor:      10,
		Ceiling:        95,
		ErrorFrequency: 1.0,
		FloorRatio:     0.5,
	}
}

// Config configures a Controller
type Config struct {
	// Enabled controls whether anything is ever escalated
	// Default: true
	Enabled bool

	// Sensitivity picks the initial threshold and target rate
	// Default: balanced
	Sensitivity Sensitivity

	// MaxEscalationRate is the rate ceiling, in (0,1]
	// Default: 0.15
	MaxEscalationRate float64

	// MinComplexityScore overrides the sensitivity table's minimum when > 0
	MinComplexityScore int

	// Cooldown is the minimum time between two escalations
	// Default: 10 seconds
	Cooldown time.Duration

	// WindowSize bounds the rolling check window
	// Default: 100
	WindowSize int

	// AlwaysEscalatePatterns escalate a matching message regardless of complexity
	AlwaysEscalatePatterns []string

	// NeverEscalatePatterns suppress escalation for a matching message; they beat always-patterns
	NeverEscalatePatterns []string

	Tuning TuningConfig
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Sensitivity:       SensitivityBalanced,
		MaxEscalationRate: 0.15,
		Cooldown:          10 * time.Second,
		WindowSize:        DefaultWindowSize,
		Tuning:            DefaultTuningConfig(),
	}
}

// initialThreshold resolves the starting threshold from the table or the override
func (c Config) initialThreshold() int {
	if c.MinComplexityScore > 0 {
		return c.MinComplexityScore
	}
	return SensitivityTable[c.Sensitivity].MinComplexity
}

func compilePatterns(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
