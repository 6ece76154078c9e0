package cost

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/qgate/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLedger(t *testing.T, mutate func(*Config)) (*Ledger, *clock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	l, err := NewLedger(cfg, nil, nil)
	require.NoError(t, err)
	clk := &clock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	l.SetClock(clk.now)
	return l, clk
}

func invocation(in, out int64, succeeded, cached bool) types.InvocationRecord {
	return types.InvocationRecord{
		InputTokens:  in,
		OutputTokens: out,
		Succeeded:    succeeded,
		Cached:       cached,
		Model:        "claude-sonnet-4-5-20250929",
	}
}

func TestEmptyLedgerReportsZeros(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	s := l.Statistics()
	assert.Equal(t, int64(0), s.TotalChecks)
	assert.Equal(t, 0.0, s.EscalationPercentage)
	assert.Equal(t, 0, s.TotalInvocations)
	assert.Equal(t, 0.0, s.CacheHitRate)
	assert.Equal(t, BudgetHealthy, s.Status)

	p := l.CostProjection()
	assert.Equal(t, 0, p.SampleSize)
	assert.Equal(t, 0.0, p.MonthlyCost)

	assert.Empty(t, l.Recommendations())
}

func TestStatistics(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	for i := 0; i < 10; i++ {
		l.RecordCheck(types.CheckOutcome{HadErrors: i < 6, ErrorCount: 1, WasEscalated: i < 2})
	}
	l.RecordInvocation(invocation(1000, 200, true, true))
	l.RecordInvocation(invocation(3000, 600, true, false))
	l.RecordInvocation(types.InvocationRecord{PromptSize: 4000, ResponseSize: 0, Failure: types.FailureTimeout})

	s := l.Statistics()
	assert.Equal(t, int64(10), s.TotalChecks)
	assert.Equal(t, int64(6), s.ChecksWithErrors)
	assert.Equal(t, int64(2), s.EscalatedChecks)
	assert.InDelta(t, 20.0, s.EscalationPercentage, 1e-9)

	assert.Equal(t, 3, s.TotalInvocations)
	assert.Equal(t, 2, s.SuccessfulInvocations)
	assert.Equal(t, 1, s.FailedInvocations)
	assert.Equal(t, 1, s.CachedInvocations)
	assert.InDelta(t, 1.0/3.0, s.CacheHitRate, 1e-9)
	assert.Equal(t, int64(1200+3600+1000), s.TotalTokens)
	assert.InDelta(t, 5800.0/3.0, s.AverageTokens, 1e-9)
	assert.Equal(t, 3, s.TodayInvocations)

	// 1000*3 + 200*15 + 3000*3 + 600*15 + 1000*3 per million
	assert.InDelta(t, 0.027, s.TotalCost, 1e-9)
	assert.InDelta(t, 0.027, s.MonthCost, 1e-9)
}

func TestCostProjection(t *testing.T) {
	l, _ := newTestLedger(t, func(c *Config) {
		c.AverageWindow = 2
		c.AssumedInvocationsPerDay = 10
	})

	// Outside the rolling window
	l.RecordInvocation(invocation(100000, 0, true, false))
	// Inside: 2000 tokens each, split 1500 in / 500 out
	l.RecordInvocation(invocation(1500, 500, true, false))
	l.RecordInvocation(invocation(1500, 500, true, false))

	p := l.CostProjection()
	assert.Equal(t, 2, p.SampleSize)
	assert.InDelta(t, 2000.0, p.AverageTokens, 1e-9)
	assert.Equal(t, 10, p.InvocationsPerDay)
	assert.InDelta(t, 2000.0*10*30, p.MonthlyTokens, 1e-9)

	// Blended rate: (1500*3 + 500*15) / 2000 = 6 USD per 1M tokens
	assert.InDelta(t, 6.0/1_000_000, p.CostPerToken, 1e-15)
	assert.InDelta(t, 600000*6.0/1_000_000, p.MonthlyCost, 1e-9)
}

func TestProjectionUsesSizeEstimateWithoutTokenCounts(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	l.RecordInvocation(types.InvocationRecord{PromptSize: 8000, ResponseSize: 4000, Succeeded: true})

	p := l.CostProjection()
	assert.InDelta(t, 3000.0, p.AverageTokens, 1e-9)
	assert.Greater(t, p.MonthlyCost, 0.0)
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fill   func(*Ledger)
		want   []string
	}{
		{
			name: "high token usage",
			fill: func(l *Ledger) {
				l.RecordInvocation(invocation(9000, 1000, true, true))
			},
			want: []string{"Average token usage is high"},
		},
		{
			name: "low cache hit rate",
			fill: func(l *Ledger) {
				l.RecordInvocation(invocation(100, 100, true, false))
				l.RecordInvocation(invocation(100, 100, true, true))
				l.RecordInvocation(invocation(100, 100, true, false))
			},
			want: []string{"Cache hit rate is low (33%)"},
		},
		{
			name: "frequent failures",
			fill: func(l *Ledger) {
				for i := 0; i < 4; i++ {
					l.RecordInvocation(invocation(100, 100, i == 0, true))
				}
			},
			want: []string{"3 of 4 reasoning calls failed"},
		},
		{
			name: "escalation above ceiling",
			fill: func(l *Ledger) {
				for i := 0; i < 20; i++ {
					l.RecordCheck(types.CheckOutcome{HadErrors: true, WasEscalated: i < 5})
				}
			},
			want: []string{"Escalation rate 25.0% is above the 15.0% ceiling"},
		},
		{
			name:   "projection over the monthly limit",
			mutate: func(c *Config) { c.MonthlyCostLimit = 1 },
			fill: func(l *Ledger) {
				l.RecordInvocation(invocation(3000, 1000, true, true))
			},
			want: []string{"Projected monthly cost $36.00 exceeds the $1.00 limit"},
		},
		{
			name: "refusals",
			fill: func(l *Ledger) {
				l.RecordRefusal("circuit open")
			},
			want: []string{"1 escalations were refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t, tt.mutate)
			tt.fill(l)
			recs := l.Recommendations()
			require.Len(t, recs, len(tt.want), "got %v", recs)
			for i, want := range tt.want {
				assert.True(t, strings.HasPrefix(recs[i], want), "%q should start with %q", recs[i], want)
			}
		})
	}
}

func TestCanProceedDailyLimit(t *testing.T) {
	l, clk := newTestLedger(t, func(c *Config) { c.DailyInvocationLimit = 2 })

	ok, _ := l.CanProceed()
	assert.True(t, ok)

	l.RecordInvocation(invocation(10, 10, true, false))
	l.RecordInvocation(invocation(10, 10, false, false))
	ok, reason := l.CanProceed()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily invocation limit reached (2/2)")
	assert.Equal(t, BudgetExceeded, l.Statistics().Status)

	clk.t = clk.t.Add(24 * time.Hour)
	ok, _ = l.CanProceed()
	assert.True(t, ok, "the daily counter resets on a new day")
}

func TestCanProceedMonthlyLimit(t *testing.T) {
	l, clk := newTestLedger(t, func(c *Config) { c.MonthlyCostLimit = 0.10 })

	l.RecordInvocation(invocation(0, 5000, true, false)) // $0.075
	ok, _ := l.CanProceed()
	assert.True(t, ok)
	assert.Equal(t, BudgetHealthy, l.Statistics().Status)

	l.RecordInvocation(invocation(0, 1000, true, false)) // $0.09 total
	assert.Equal(t, BudgetWarning, l.Statistics().Status)

	l.RecordInvocation(invocation(0, 1000, true, false)) // $0.105 total
	ok, reason := l.CanProceed()
	assert.False(t, ok)
	assert.Contains(t, reason, "monthly cost limit")

	clk.t = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ok, _ = l.CanProceed()
	assert.True(t, ok, "spend resets with the month")
	assert.InDelta(t, 0.105, l.Statistics().TotalCost, 1e-9, "lifetime spend is kept")
}

func TestHistoryIsBounded(t *testing.T) {
	l, _ := newTestLedger(t, func(c *Config) {
		c.HistorySize = 5
		c.AverageWindow = 5
	})
	for i := 0; i < 12; i++ {
		l.RecordInvocation(invocation(int64(i), 0, true, false))
	}
	snap := l.Snapshot()
	require.Len(t, snap.Invocations, 5)
	assert.Equal(t, int64(7), snap.Invocations[0].InputTokens)
}

func TestSnapshotRestore(t *testing.T) {
	l, clk := newTestLedger(t, func(c *Config) { c.DailyInvocationLimit = 3 })
	l.RecordCheck(types.CheckOutcome{HadErrors: true, WasEscalated: true})
	l.RecordInvocation(invocation(100, 100, true, false))
	l.RecordInvocation(invocation(100, 100, true, false))
	snap := l.Snapshot()

	restored, _ := newTestLedger(t, func(c *Config) { c.DailyInvocationLimit = 3 })
	restored.SetClock(clk.now)
	restored.Restore(snap)
	assert.Equal(t, l.Statistics(), restored.Statistics())

	restored.RecordInvocation(invocation(100, 100, true, false))
	ok, _ := restored.CanProceed()
	assert.False(t, ok, "the daily count survives a restart")

	// A snapshot from yesterday does not count against today
	tomorrow := &clock{t: clk.t.Add(24 * time.Hour)}
	fresh, _ := newTestLedger(t, func(c *Config) { c.DailyInvocationLimit = 3 })
	fresh.SetClock(tomorrow.now)
	fresh.Restore(restored.Snapshot())
	assert.Equal(t, 0, fresh.Statistics().TodayInvocations)
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewLedger(nil, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.AverageWindow = 0
	_, err = NewLedger(cfg, nil, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxEscalationRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestMetricsRegisteredOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	l, err := NewLedger(DefaultConfig(), NewMetrics(reg), nil)
	require.NoError(t, err)

	l.RecordInvocation(invocation(1000, 500, true, false))
	l.RecordInvocation(types.InvocationRecord{Failure: types.FailureTimeout})
	l.RecordRefusal("budget")
	l.RecordCheck(types.CheckOutcome{HadErrors: true, WasEscalated: true})
	l.RecordCheck(types.CheckOutcome{})

	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.invocations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.invocations.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.refusals))
	assert.Equal(t, 1000.0, testutil.ToFloat64(l.metrics.tokens.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.checks.WithLabelValues("escalated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.checks.WithLabelValues("clean")))

	// A second ledger on its own registry does not collide
	_, err = NewLedger(DefaultConfig(), NewMetrics(prometheus.NewRegistry()), nil)
	assert.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
