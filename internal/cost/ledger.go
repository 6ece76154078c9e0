// Package cost is the usage ledger: it aggregates reasoning invocations and
// check outcomes into statistics, a monthly cost projection, threshold-based
// recommendations and the budget gate consulted before each call.
package cost

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/qgate/internal/types"
)

// ErrBudgetExceeded is reported when the daily or monthly budget is used up
var ErrBudgetExceeded = errors.New("budget exceeded")

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (80% or more)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// alertThreshold is the budget usage fraction that turns the status to warning
const alertThreshold = 0.80

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// State is the persisted ledger state
type State struct {
	Invocations      []types.InvocationRecord `json:"invocations"`
	TotalChecks      int64                    `json:"total_checks"`
	ChecksWithErrors int64                    `json:"checks_with_errors"`
	EscalatedChecks  int64                    `json:"escalated_checks"`
	Refusals         int64                    `json:"refusals"`
	TotalCost        float64                  `json:"total_cost"`

	// Budget periods
	Month          string  `json:"month"` // YYYY-MM
	MonthCost      float64 `json:"month_cost"`
	Day            string  `json:"day"` // YYYY-MM-DD
	DayInvocations int     `json:"day_invocations"`
}

// Statistics is a point-in-time summary. A ledger with no data reports zeros.
type Statistics struct {
	TotalChecks          int64   `json:"total_checks"`
	ChecksWithErrors     int64   `json:"checks_with_errors"`
	EscalatedChecks      int64   `json:"escalated_checks"`
	EscalationPercentage float64 `json:"escalation_percentage"`

	TotalInvocations      int     `json:"total_invocations"`
	SuccessfulInvocations int     `json:"successful_invocations"`
	FailedInvocations     int     `json:"failed_invocations"`
	CachedInvocations     int     `json:"cached_invocations"`
	CacheHitRate          float64 `json:"cache_hit_rate"`
	Refusals              int64   `json:"refusals"`

	TotalTokens      int64   `json:"total_tokens"`
	AverageTokens    float64 `json:"average_tokens"` // over the rolling average window
	TotalCost        float64 `json:"total_cost"`
	MonthCost        float64 `json:"month_cost"`
	TodayInvocations int     `json:"today_invocations"`

	Status BudgetStatus `json:"status"`
}

// Projection is the monthly cost projection
type Projection struct {
	SampleSize        int     `json:"sample_size"`
	AverageTokens     float64 `json:"average_tokens"`
	CostPerToken      float64 `json:"cost_per_token"` // USD, flat rate
	InvocationsPerDay int     `json:"invocations_per_day"`
	MonthlyTokens     float64 `json:"monthly_tokens"`
	MonthlyCost       float64 `json:"monthly_cost"`
}

// daysPerMonth is the flat month length used by the projection
const daysPerMonth = 30

// Ledger records invocations and check outcomes
type Ledger struct {
	config  *Config
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// NewLedger creates a ledger. metrics may be nil.
func NewLedger(cfg *Config, metrics *Metrics, logger *slog.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{config: cfg, metrics: metrics, logger: logger, now: time.Now}, nil
}

// SetClock replaces the time source (tests)
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// RecordInvocation appends an invocation record
func (l *Ledger) RecordInvocation(rec types.InvocationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	c := l.recordCost(rec)

	l.rollPeriods()
	l.state.Invocations = append(l.state.Invocations, rec)
	if over := len(l.state.Invocations) - l.config.HistorySize; over > 0 {
		l.state.Invocations = append(l.state.Invocations[:0], l.state.Invocations[over:]...)
	}
	l.state.TotalCost += c
	l.state.MonthCost += c
	l.state.DayInvocations++

	if l.metrics != nil {
		l.metrics.observeInvocation(rec, c)
	}
}

// RecordRefusal counts an escalation refused before a call was attempted
func (l *Ledger) RecordRefusal(reason string) {
	l.mu.Lock()
	l.state.Refusals++
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.refusals.Inc()
	}
	l.logger.Debug("reasoning call refused", "reason", reason)
}

// RecordCheck counts a file check
func (l *Ledger) RecordCheck(o types.CheckOutcome) {
	l.mu.Lock()
	l.state.TotalChecks++
	if o.HadErrors {
		l.state.ChecksWithErrors++
	}
	if o.WasEscalated {
		l.state.EscalatedChecks++
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.observeCheck(o)
	}
}

// Statistics summarizes everything recorded so far
func (l *Ledger) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollPeriods()

	s := Statistics{
		TotalChecks:      l.state.TotalChecks,
		ChecksWithErrors: l.state.ChecksWithErrors,
		EscalatedChecks:  l.state.EscalatedChecks,
		Refusals:         l.state.Refusals,
		TotalCost:        l.state.TotalCost,
		MonthCost:        l.state.MonthCost,
		TodayInvocations: l.state.DayInvocations,
		TotalInvocations: len(l.state.Invocations),
	}
	if s.TotalChecks > 0 {
		s.EscalationPercentage = float64(s.EscalatedChecks) / float64(s.TotalChecks) * 100
	}

	for _, rec := range l.state.Invocations {
		if rec.Succeeded {
			s.SuccessfulInvocations++
		} else {
			s.FailedInvocations++
		}
		if rec.Cached {
			s.CachedInvocations++
		}
		s.TotalTokens += rec.EstimatedTokens()
	}
	if s.TotalInvocations > 0 {
		s.CacheHitRate = float64(s.CachedInvocations) / float64(s.TotalInvocations)
	}
	s.AverageTokens, _ = l.rollingAverage()
	s.Status = l.status()
	return s
}

// CostProjection projects the monthly cost from the rolling average
func (l *Ledger) CostProjection() Projection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.projection()
}

func (l *Ledger) projection() Projection {
	avg, n := l.rollingAverage()
	p := Projection{
		SampleSize:        n,
		AverageTokens:     avg,
		CostPerToken:      l.flatTokenCost(),
		InvocationsPerDay: l.config.AssumedInvocationsPerDay,
	}
	p.MonthlyTokens = avg * float64(p.InvocationsPerDay) * daysPerMonth
	p.MonthlyCost = p.MonthlyTokens * p.CostPerToken
	return p
}

// Recommendations returns threshold-based hints; nil when nothing stands out
func (l *Ledger) Recommendations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var recs []string
	avg, n := l.rollingAverage()
	if n > 0 && avg > float64(l.config.HighTokenThreshold) {
		recs = append(recs, fmt.Sprintf(
			"Average token usage is high (%.0f tokens per analysis); consider sending narrower file context", avg))
	}

	total := len(l.state.Invocations)
	if total > 0 {
		cached, failed := 0, 0
		for _, rec := range l.state.Invocations {
			if rec.Cached {
				cached++
			}
			if !rec.Succeeded {
				failed++
			}
		}
		if hit := float64(cached) / float64(total); hit < 0.5 {
			recs = append(recs, fmt.Sprintf(
				"Cache hit rate is low (%.0f%%); the cached instructions expire after a few idle minutes, so sparse calls rarely hit", hit*100))
		}
		if total >= 4 && float64(failed)/float64(total) > 0.25 {
			recs = append(recs, fmt.Sprintf(
				"%d of %d reasoning calls failed; check connectivity or raise timeout_ms", failed, total))
		}
	}

	if l.state.TotalChecks >= 20 {
		rate := float64(l.state.EscalatedChecks) / float64(l.state.TotalChecks)
		if rate > l.config.MaxEscalationRate {
			recs = append(recs, fmt.Sprintf(
				"Escalation rate %.1f%% is above the %.1f%% ceiling; consider a more conservative escalation_sensitivity",
				rate*100, l.config.MaxEscalationRate*100))
		}
	}

	if limit := l.config.MonthlyCostLimit; limit > 0 {
		if p := l.projection(); p.MonthlyCost > limit {
			recs = append(recs, fmt.Sprintf(
				"Projected monthly cost $%.2f exceeds the $%.2f limit; lower daily_invocation_limit or escalation_sensitivity",
				p.MonthlyCost, limit))
		}
	}

	if l.state.Refusals > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d escalations were refused by the budget gate or circuit breaker", l.state.Refusals))
	}
	return recs
}

// CanProceed reports whether another reasoning call fits the budget
func (l *Ledger) CanProceed() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollPeriods()

	if limit := l.config.DailyInvocationLimit; limit > 0 && l.state.DayInvocations >= limit {
		return false, fmt.Sprintf("%v: daily invocation limit reached (%d/%d)", ErrBudgetExceeded, l.state.DayInvocations, limit)
	}
	if limit := l.config.MonthlyCostLimit; limit > 0 && l.state.MonthCost >= limit {
		return false, fmt.Sprintf("%v: monthly cost limit reached ($%.2f/$%.2f)", ErrBudgetExceeded, l.state.MonthCost, limit)
	}
	return true, ""
}

// Snapshot returns a copy of the persistable state
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.state
	s.Invocations = append([]types.InvocationRecord(nil), l.state.Invocations...)
	return s
}

// Restore replaces the state with a persisted one
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if over := len(s.Invocations) - l.config.HistorySize; over > 0 {
		s.Invocations = s.Invocations[over:]
	}
	s.Invocations = append([]types.InvocationRecord(nil), s.Invocations...)
	l.state = s
	l.rollPeriods()
}

// rollingAverage is the mean token count over the last AverageWindow
// invocations. Must be called with the lock held.
func (l *Ledger) rollingAverage() (float64, int) {
	recs := l.state.Invocations
	if len(recs) > l.config.AverageWindow {
		recs = recs[len(recs)-l.config.AverageWindow:]
	}
	if len(recs) == 0 {
		return 0, 0
	}
	var total int64
	for _, r := range recs {
		total += r.EstimatedTokens()
	}
	return float64(total) / float64(len(recs)), len(recs)
}

// flatTokenCost blends input and output prices by the observed token split
// of the rolling window, or averages them when nothing was reported
func (l *Ledger) flatTokenCost() float64 {
	recs := l.state.Invocations
	if len(recs) > l.config.AverageWindow {
		recs = recs[len(recs)-l.config.AverageWindow:]
	}
	var in, out int64
	for _, r := range recs {
		i, o := splitTokens(r)
		in += i
		out += o
	}
	if in+out == 0 {
		return (l.config.InputTokenCost + l.config.OutputTokenCost) / 2 / 1_000_000
	}
	return (float64(in)*l.config.InputTokenCost + float64(out)*l.config.OutputTokenCost) /
		float64(in+out) / 1_000_000
}

// recordCost prices one invocation
func (l *Ledger) recordCost(rec types.InvocationRecord) float64 {
	in, out := splitTokens(rec)
	return (float64(in)*l.config.InputTokenCost + float64(out)*l.config.OutputTokenCost) / 1_000_000
}

// splitTokens returns reported tokens, or a size-based estimate
func splitTokens(rec types.InvocationRecord) (in, out int64) {
	if rec.InputTokens > 0 || rec.OutputTokens > 0 {
		return rec.InputTokens, rec.OutputTokens
	}
	return int64(rec.PromptSize) / 4, int64(rec.ResponseSize) / 4
}

// rollPeriods resets the daily and monthly counters when the period changed.
// Must be called with the write lock held.
func (l *Ledger) rollPeriods() {
	now := l.now()
	day, month := now.Format("2006-01-02"), now.Format("2006-01")
	if l.state.Day != day {
		l.state.Day = day
		l.state.DayInvocations = 0
	}
	if l.state.Month != month {
		l.state.Month = month
		l.state.MonthCost = 0
	}
}

// status compares usage against the configured limits
func (l *Ledger) status() BudgetStatus {
	usage := 0.0
	if limit := l.config.DailyInvocationLimit; limit > 0 {
		usage = max(usage, float64(l.state.DayInvocations)/float64(limit))
	}
	if limit := l.config.MonthlyCostLimit; limit > 0 {
		usage = max(usage, l.state.MonthCost/limit)
	}
	switch {
	case usage >= 1.0:
		return BudgetExceeded
	case usage >= alertThreshold:
		return BudgetWarning
	default:
		return BudgetHealthy
	}
}
