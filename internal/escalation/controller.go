// Package escalation decides whether a classified diagnostic is worth a
// deep-reasoning analysis. Decisions are bounded by a rate ceiling over a
// rolling window of check outcomes, a cooldown between escalations, the
// orchestrator's circuit breaker and an adaptive complexity threshold.
package escalation

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/steveyegge/qgate/internal/classifier"
	"github.com/steveyegge/qgate/internal/types"
)

// BreakerView is the read-only view of the orchestrator's circuit breaker
type BreakerView interface {
	IsOpen() bool
}

// Reason explains a decision
type Reason string

const (
	ReasonDisabled       Reason = "disabled"
	ReasonNeverPattern   Reason = "never-escalate pattern"
	ReasonCircuitOpen    Reason = "circuit breaker open"
	ReasonAutoFixable    Reason = "auto-fixable"
	ReasonCooldown       Reason = "cooldown"
	ReasonRateCeiling    Reason = "rate ceiling reached"
	ReasonAlwaysPattern  Reason = "always-escalate pattern"
	ReasonAboveThreshold Reason = "complexity above threshold"
	ReasonBelowThreshold Reason = "complexity at or below threshold"
	ReasonInternalError  Reason = "internal error"
)

// Decision is the controller's verdict for one diagnostic
type Decision struct {
	Escalate  bool    `json:"escalate"`
	Reason    Reason  `json:"reason"`
	Threshold int     `json:"threshold"`
	Rate      float64 `json:"rate"`
}

// State is the persistable part of the controller
type State struct {
	Threshold        int                  `json:"threshold"`
	LastEscalation   time.Time            `json:"last_escalation"`
	SamplesSinceTune int                  `json:"samples_since_tune"`
	Window           []types.CheckOutcome `json:"window"`
}

// Controller makes escalation decisions and tunes its threshold from outcomes
type Controller struct {
	cfg     Config
	breaker BreakerView
	logger  *slog.Logger
	window  *RollingWindow
	always  []*regexp.Regexp
	never   []*regexp.Regexp
	target  float64

	mu               sync.Mutex
	threshold        int
	lastEscalation   time.Time
	samplesSinceTune int
	now              func() time.Time
}

// New creates a controller. breaker may be nil when no orchestrator is wired.
func New(cfg Config, breaker BreakerView, logger *slog.Logger) (*Controller, error) {
	if !cfg.Sensitivity.IsValid() {
		return nil, fmt.Errorf("invalid escalation sensitivity %q", cfg.Sensitivity)
	}
	always, err := compilePatterns("always-escalate", cfg.AlwaysEscalatePatterns)
	if err != nil {
		return nil, err
	}
	never, err := compilePatterns("never-escalate", cfg.NeverEscalatePatterns)
	if err != nil {
		return nil, err
	}
	if cfg.Tuning == (TuningConfig{}) {
		cfg.Tuning = DefaultTuningConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:       cfg,
		breaker:   breaker,
		logger:    logger,
		window:    NewRollingWindow(cfg.WindowSize),
		always:    always,
		never:     never,
		target:    SensitivityTable[cfg.Sensitivity].TargetRate,
		threshold: cfg.initialThreshold(),
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source (tests)
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Window exposes the rolling check window
func (c *Controller) Window() *RollingWindow {
	return c.window
}

// Threshold returns the current adaptive threshold
func (c *Controller) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// ShouldEscalate reports whether the diagnostic should be escalated
func (c *Controller) ShouldEscalate(result classifier.Result, message string) bool {
	return c.Decide(result, message).Escalate
}

// MatchesPatterns reports whether message matches a never-escalate or an
// always-escalate pattern
func (c *Controller) MatchesPatterns(message string) (never, always bool) {
	return matchesAny(c.never, message), matchesAny(c.always, message)
}

// Decide evaluates the gates in order and records the escalation time when
// the answer is yes. Any internal failure results in "do not escalate".
func (c *Controller) Decide(result classifier.Result, message string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("escalation decision failed", "panic", r)
			d = Decision{Reason: ReasonInternalError}
		}
	}()

	if !c.cfg.Enabled {
		return Decision{Reason: ReasonDisabled}
	}

	if matchesAny(c.never, message) {
		return Decision{Reason: ReasonNeverPattern}
	}

	if c.breaker != nil && c.breaker.IsOpen() {
		c.logger.Debug("escalation refused, circuit open")
		return Decision{Reason: ReasonCircuitOpen}
	}

	if result.Category == types.CategoryAutoFixable {
		return Decision{Reason: ReasonAutoFixable}
	}

	rate := c.window.RollingEscalationRate()
	samples := c.window.Len()

	c.mu.Lock()
	defer c.mu.Unlock()

	d = Decision{Threshold: c.threshold, Rate: rate}
	now := c.now()

	if !c.lastEscalation.IsZero() && now.Sub(c.lastEscalation) < c.cfg.Cooldown {
		d.Reason = ReasonCooldown
		return d
	}

	if samples >= minRateSamples && rate >= c.cfg.MaxEscalationRate {
		d.Reason = ReasonRateCeiling
		return d
	}

	switch {
	case matchesAny(c.always, message):
		d.Escalate, d.Reason = true, ReasonAlwaysPattern
	case result.ComplexityScore > c.threshold:
		d.Escalate, d.Reason = true, ReasonAboveThreshold
	default:
		d.Reason = ReasonBelowThreshold
		return d
	}

	c.lastEscalation = now
	return d
}

// RecordOutcome appends a check outcome to the window and runs a tuning
// pass once enough outcomes have accumulated
func (c *Controller) RecordOutcome(o types.CheckOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("recording check outcome failed", "panic", r)
		}
	}()

	if o.Timestamp.IsZero() {
		o.Timestamp = c.clock()
	}
	c.window.Append(o)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samplesSinceTune++
	if c.samplesSinceTune < c.cfg.Tuning.MinSamples {
		return
	}
	c.samplesSinceTune = 0
	c.tune()
}

// tune is one proportional feedback step. Must be called with c.mu held.
func (c *Controller) tune() {
	t := c.cfg.Tuning
	rate := c.window.RollingEscalationRate()
	meanErrors := c.window.MeanErrorCount()
	prev := c.threshold

	switch {
	case rate > c.cfg.MaxEscalationRate:
		c.threshold = min(c.threshold+t.Step, t.Ceiling)
	case rate < c.target*t.FloorRatio && meanErrors >= t.ErrorFrequency:
		c.threshold = max(c.threshold-t.Step, t.HardFloor)
	}

	if c.threshold != prev {
		c.logger.Debug("escalation threshold tuned",
			"from", prev, "to", c.threshold, "rate", rate, "mean_errors", meanErrors)
	}
}

// Snapshot returns the persistable state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Threshold:        c.threshold,
		LastEscalation:   c.lastEscalation,
		SamplesSinceTune: c.samplesSinceTune,
		Window:           c.window.Records(),
	}
}

// Restore loads persisted state. A threshold outside the tuning bounds is
// ignored in favour of the configured starting point.
func (c *Controller) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Threshold >= c.cfg.Tuning.HardFloor && s.Threshold <= c.cfg.Tuning.Ceiling {
		c.threshold = s.Threshold
	}
	c.lastEscalation = s.LastEscalation
	c.samplesSinceTune = s.SamplesSinceTune
	c.window.Replace(s.Window)
}

func (c *Controller) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
