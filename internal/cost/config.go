package cost

import (
	"fmt"
)

// Config holds ledger and budget configuration
type Config struct {
	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `json:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `json:"output_token_cost"`

	// MonthlyCostLimit stops escalations once the month's spend reaches it (USD)
	// 0 = unlimited
	MonthlyCostLimit float64 `json:"monthly_cost_limit"`

	// DailyInvocationLimit stops escalations after this many calls in a day
	// 0 = unlimited
	DailyInvocationLimit int `json:"daily_invocation_limit"`

	// AssumedInvocationsPerDay drives the monthly projection
	// Default: 50
	AssumedInvocationsPerDay int `json:"assumed_invocations_per_day"`

	// AverageWindow is how many recent invocations the rolling average covers
	// Default: 50
	AverageWindow int `json:"average_window"`

	// HighTokenThreshold is the average tokens per call above which narrower context is recommended
	// Default: 4000
	HighTokenThreshold int64 `json:"high_token_threshold"`

	// HistorySize bounds the invocation history kept in memory and in the state store
	// Default: 1000
	HistorySize int `json:"history_size"`

	// MaxEscalationRate is the escalation ceiling recommendations compare against
	// Default: 0.15
	MaxEscalationRate float64 `json:"max_escalation_rate"`
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() *Config {
	return &Config{
		InputTokenCost:           3.00,  // $3 per 1M input tokens
		OutputTokenCost:          15.00, // $15 per 1M output tokens
		AssumedInvocationsPerDay: 50,
		AverageWindow:            50,
		HighTokenThreshold:       4000,
		HistorySize:              1000,
		MaxEscalationRate:        0.15,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	if c.MonthlyCostLimit < 0 {
		return fmt.Errorf("monthly_cost_limit must be non-negative, got %.2f", c.MonthlyCostLimit)
	}
	if c.DailyInvocationLimit < 0 {
		return fmt.Errorf("daily_invocation_limit must be non-negative, got %d", c.DailyInvocationLimit)
	}
	if c.AssumedInvocationsPerDay < 0 {
		return fmt.Errorf("assumed_invocations_per_day must be non-negative, got %d", c.AssumedInvocationsPerDay)
	}
	if c.AverageWindow <= 0 {
		return fmt.Errorf("average_window must be positive, got %d", c.AverageWindow)
	}
	if c.HistorySize < c.AverageWindow {
		return fmt.Errorf("history_size (%d) must be at least average_window (%d)", c.HistorySize, c.AverageWindow)
	}
	if c.MaxEscalationRate <= 0 || c.MaxEscalationRate > 1.0 {
		return fmt.Errorf("max_escalation_rate must be between 0 and 1, got %.2f", c.MaxEscalationRate)
	}
	return nil
}
