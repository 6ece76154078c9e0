package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/qgate/internal/classifier"
	"github.com/steveyegge/qgate/internal/types"
)

type fakeBreaker struct{ open bool }

func (f *fakeBreaker) IsOpen() bool { return f.open }

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newController(t *testing.T, mutate func(*Config)) (*Controller, *fakeBreaker, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	br := &fakeBreaker{}
	c, err := New(cfg, br, nil)
	require.NoError(t, err)
	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c.SetClock(clk.now)
	return c, br, clk
}

func reasoning(score int) classifier.Result {
	return classifier.Result{Category: types.CategoryNeedsReasoning, ComplexityScore: score}
}

func fillWindow(c *Controller, total, escalated int) {
	for i := 0; i < total; i++ {
		c.window.Append(types.CheckOutcome{HadErrors: true, ErrorCount: 1, WasEscalated: i < escalated})
	}
}

func TestRollingEscalationRate(t *testing.T) {
	w := NewRollingWindow(100)
	assert.Equal(t, 0.0, w.RollingEscalationRate())

	for i := 0; i < 20; i++ {
		w.Append(types.CheckOutcome{WasEscalated: i%7 == 0}) // 0, 7, 14
	}
	assert.InDelta(t, 0.15, w.RollingEscalationRate(), 1e-9)
}

func TestRollingWindowEviction(t *testing.T) {
	w := NewRollingWindow(5)
	for i := 0; i < 8; i++ {
		w.Append(types.CheckOutcome{ErrorCount: i})
	}
	require.Equal(t, 5, w.Len())
	recs := w.Records()
	assert.Equal(t, 3, recs[0].ErrorCount, "oldest records are evicted first")
	assert.Equal(t, 7, recs[4].ErrorCount)
	assert.InDelta(t, 5.0, w.MeanErrorCount(), 1e-9)

	w.Replace([]types.CheckOutcome{{ErrorCount: 1}, {ErrorCount: 2}, {ErrorCount: 3}, {ErrorCount: 4}, {ErrorCount: 5}, {ErrorCount: 6}})
	assert.Equal(t, 5, w.Len())
	assert.Equal(t, 2, w.Records()[0].ErrorCount)
}

func TestThresholdGate(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		escalate bool
		reason   Reason
	}{
		{"above threshold", 51, true, ReasonAboveThreshold},
		{"at threshold", 50, false, ReasonBelowThreshold},
		{"below threshold", 20, false, ReasonBelowThreshold},
		{"maximum", 100, true, ReasonAboveThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newController(t, nil) // balanced: threshold 50
			d := c.Decide(reasoning(tt.score), "msg")
			assert.Equal(t, tt.escalate, d.Escalate)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, 50, d.Threshold)
		})
	}
}

func TestSensitivityTable(t *testing.T) {
	for s, want := range map[Sensitivity]int{
		SensitivityConservative: 70,
		SensitivityBalanced:     50,
		SensitivityAggressive:   30,
	} {
		c, _, _ := newController(t, func(cfg *Config) { cfg.Sensitivity = s })
		assert.Equal(t, want, c.Threshold(), string(s))
	}

	c, _, _ := newController(t, func(cfg *Config) { cfg.MinComplexityScore = 42 })
	assert.Equal(t, 42, c.Threshold(), "explicit minimum overrides the table")

	_, err := New(Config{Sensitivity: "reckless"}, nil, nil)
	assert.Error(t, err)
}

func TestAutoFixableNeverEscalated(t *testing.T) {
	c, _, _ := newController(t, func(cfg *Config) {
		cfg.Sensitivity = SensitivityAggressive
		cfg.AlwaysEscalatePatterns = []string{"semicolon"}
	})

	res := classifier.New().Classify("Missing semicolon (semi)")
	require.Equal(t, types.CategoryAutoFixable, res.Category)
	require.Less(t, res.ComplexityScore, 20)

	d := c.Decide(res, "Missing semicolon (semi)")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonAutoFixable, d.Reason)
}

func TestConstraintErrorEscalatedWhenAggressive(t *testing.T) {
	c, _, _ := newController(t, func(cfg *Config) { cfg.Sensitivity = SensitivityAggressive })

	msg := "Type 'X' does not satisfy the constraint 'Y'"
	res := classifier.New().Classify(msg)
	require.Equal(t, types.CategoryNeedsReasoning, res.Category)
	require.GreaterOrEqual(t, res.ComplexityScore, 55)

	assert.True(t, c.ShouldEscalate(res, msg))
}

func TestRateCeiling(t *testing.T) {
	c, _, _ := newController(t, nil)
	fillWindow(c, 25, 5) // 0.20 >= 0.15

	d := c.Decide(reasoning(100), "msg")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonRateCeiling, d.Reason)
	assert.InDelta(t, 0.2, d.Rate, 1e-9)
}

func TestRateCeilingNeedsEnoughSamples(t *testing.T) {
	c, _, _ := newController(t, nil)
	fillWindow(c, 10, 5) // 0.5, but only 10 samples

	assert.True(t, c.ShouldEscalate(reasoning(100), "msg"))
}

func TestRateCeilingBeatsAlwaysPattern(t *testing.T) {
	c, _, _ := newController(t, func(cfg *Config) { cfg.AlwaysEscalatePatterns = []string{"circular"} })
	fillWindow(c, 20, 3) // exactly at the ceiling

	d := c.Decide(reasoning(5), "circular reference detected")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonRateCeiling, d.Reason)
}

func TestCooldown(t *testing.T) {
	c, _, clk := newController(t, nil)

	assert.True(t, c.ShouldEscalate(reasoning(90), "first"))

	d := c.Decide(reasoning(90), "second")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonCooldown, d.Reason)

	clk.advance(9 * time.Second)
	assert.False(t, c.ShouldEscalate(reasoning(90), "still cooling"))

	clk.advance(time.Second)
	assert.True(t, c.ShouldEscalate(reasoning(90), "cooldown elapsed"))
}

func TestRefusalDoesNotStartCooldown(t *testing.T) {
	c, _, _ := newController(t, nil)

	assert.False(t, c.ShouldEscalate(reasoning(10), "low"))
	assert.True(t, c.ShouldEscalate(reasoning(90), "high"))
}

func TestCircuitOpenRefuses(t *testing.T) {
	c, br, _ := newController(t, nil)
	br.open = true

	d := c.Decide(reasoning(100), "msg")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonCircuitOpen, d.Reason)

	br.open = false
	assert.True(t, c.ShouldEscalate(reasoning(100), "msg"))
}

func TestPatternLists(t *testing.T) {
	c, _, _ := newController(t, func(cfg *Config) {
		cfg.NeverEscalatePatterns = []string{"Cannot find module"}
		cfg.AlwaysEscalatePatterns = []string{"Cannot find", "circular"}
	})

	d := c.Decide(reasoning(100), "Cannot find module 'x'")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonNeverPattern, d.Reason, "never-list beats a matching always-pattern")

	d = c.Decide(reasoning(1), "circular import in src/a.ts")
	assert.True(t, d.Escalate, "always-list bypasses the complexity gate")
	assert.Equal(t, ReasonAlwaysPattern, d.Reason)
}

func TestInvalidPatternRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NeverEscalatePatterns = []string{"("}
	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	c, _, _ := newController(t, func(cfg *Config) { cfg.Enabled = false })
	d := c.Decide(reasoning(100), "msg")
	assert.False(t, d.Escalate)
	assert.Equal(t, ReasonDisabled, d.Reason)
}

func TestAdaptiveTuningRaisesThreshold(t *testing.T) {
	c, _, _ := newController(t, nil)

	for i := 0; i < 9; i++ {
		c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 1, WasEscalated: true})
	}
	assert.Equal(t, 50, c.Threshold(), "no tuning before min samples")

	c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 1, WasEscalated: true})
	assert.Equal(t, 55, c.Threshold())

	// Keeps climbing but stops at the ceiling
	for i := 0; i < 200; i++ {
		c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 1, WasEscalated: true})
	}
	assert.Equal(t, 95, c.Threshold())
}

func TestAdaptiveTuningLowersThresholdToFloor(t *testing.T) {
	c, _, _ := newController(t, nil)

	for i := 0; i < 10; i++ {
		c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 3})
	}
	assert.Equal(t, 45, c.Threshold())

	for i := 0; i < 500; i++ {
		c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 3})
	}
	assert.Equal(t, 10, c.Threshold(), "never below the hard floor")
}

func TestAdaptiveTuningHoldsWhenErrorsRare(t *testing.T) {
	c, _, _ := newController(t, nil)
	for i := 0; i < 30; i++ {
		c.RecordOutcome(types.CheckOutcome{})
	}
	assert.Equal(t, 50, c.Threshold())
}

func TestSnapshotRestore(t *testing.T) {
	c, _, clk := newController(t, nil)
	require.True(t, c.ShouldEscalate(reasoning(90), "msg"))
	for i := 0; i < 10; i++ {
		c.RecordOutcome(types.CheckOutcome{HadErrors: true, ErrorCount: 2})
	}
	snap := c.Snapshot()
	assert.Equal(t, 45, snap.Threshold)
	assert.Len(t, snap.Window, 10)
	assert.Equal(t, clk.t, snap.LastEscalation)

	restored, _, _ := newController(t, nil)
	restored.SetClock(clk.now)
	restored.Restore(snap)
	assert.Equal(t, 45, restored.Threshold())
	assert.Equal(t, 10, restored.Window().Len())
	assert.Equal(t, ReasonCooldown, restored.Decide(reasoning(90), "msg").Reason)

	// Out-of-range thresholds are ignored
	restored.Restore(State{Threshold: 500})
	assert.Equal(t, 45, restored.Threshold())
}
