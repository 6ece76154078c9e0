package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/qgate/internal/ai"
	"github.com/steveyegge/qgate/internal/cost"
	"github.com/steveyegge/qgate/internal/escalation"
	"github.com/steveyegge/qgate/internal/storage/sqlite"
	"github.com/steveyegge/qgate/internal/types"
)

func TestGroupDiagnosticsSingleFile(t *testing.T) {
	lines := []string{
		"src/other.ts(1,1): error TS2304: Cannot find name 'x'.",
		"",
		"  3:1  error  Missing semicolon  semi",
	}
	reqs := groupDiagnostics([]string{"src/app.ts"}, lines)

	require.Len(t, reqs, 1)
	assert.Equal(t, "src/app.ts", reqs[0].FilePath)
	assert.Len(t, reqs[0].Diagnostics, 2, "blank lines are dropped, every other line kept")
}

func TestGroupDiagnosticsMultipleFiles(t *testing.T) {
	files := []string{"src/a.ts", "src/b.ts"}
	lines := []string{
		"src/b.ts(4,2): error TS2344: Type 'X' does not satisfy the constraint 'Y'.",
		"/work/project/src/b.ts",
		"  3:1  error  Missing semicolon  semi",
		"src/a.ts:9:1 - error TS2322: Type 'string' is not assignable to type 'number'.",
		"/work/project/src/a.ts",
		"  7:3  warning  Unexpected console statement  no-console",
	}
	reqs := groupDiagnostics(files, lines)

	require.Len(t, reqs, 2)
	assert.Equal(t, []string{lines[3], lines[5]}, reqs[0].Diagnostics)
	assert.Equal(t, []string{lines[0], lines[2]}, reqs[1].Diagnostics)
}

func TestGroupDiagnosticsDefaultsToFirstFile(t *testing.T) {
	reqs := groupDiagnostics([]string{"a.ts", "b.ts"}, []string{"something went wrong"})
	assert.Equal(t, []string{"something went wrong"}, reqs[0].Diagnostics)
	assert.Empty(t, reqs[1].Diagnostics)
}

func TestMatchFile(t *testing.T) {
	files := []string{"src/a.ts", "/abs/lib/b.ts"}
	tests := []struct {
		path string
		want int
	}{
		{"src/a.ts", 0},
		{"./src/a.ts", 0},
		{"/work/src/a.ts", 0},
		{"lib/b.ts", 1},
		{"b.ts", 1},
		{"src/aa.ts", -1},
		{"c.ts", -1},
	}
	for _, tt := range tests {
		if got := matchFile(files, tt.path); got != tt.want {
			t.Errorf("matchFile(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("one\ntwo\n\nthree"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "", "three"}, lines)
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		tokens int64
		want   string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_500_000, "2.50M"},
	}
	for _, tt := range tests {
		if got := formatTokens(tt.tokens); got != tt.want {
			t.Errorf("formatTokens(%d) = %q, want %q", tt.tokens, got, tt.want)
		}
	}
}

type fakeLoader struct {
	snap *sqlite.Snapshot
	err  error
}

func (f fakeLoader) Load(context.Context) (*sqlite.Snapshot, error) {
	return f.snap, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStateCollector(t *testing.T) {
	snap := &sqlite.Snapshot{
		Controller: escalation.State{
			Threshold: 62,
			Window: []types.CheckOutcome{
				{HadErrors: true, ErrorCount: 2, WasEscalated: true},
				{HadErrors: true, ErrorCount: 1},
				{},
				{},
			},
		},
		Breaker: ai.BreakerState{IsOpen: true, ConsecutiveFailures: 3},
		Ledger: cost.State{
			TotalChecks:      4,
			ChecksWithErrors: 2,
			EscalatedChecks:  1,
			TotalCost:        1.5,
			MonthCost:        0.25,
		},
	}
	c := newStateCollector(fakeLoader{snap: snap}, 20, discardLogger())

	expected := `
# HELP qgate_state_circuit_open 1 when the reasoning circuit breaker is open
# TYPE qgate_state_circuit_open gauge
qgate_state_circuit_open 1
# HELP qgate_state_cost_usd Estimated reasoning spend
# TYPE qgate_state_cost_usd gauge
qgate_state_cost_usd{period="month"} 0.25
qgate_state_cost_usd{period="total"} 1.5
# HELP qgate_state_threshold Current escalation complexity threshold
# TYPE qgate_state_threshold gauge
qgate_state_threshold 62
# HELP qgate_state_window_escalation_rate Escalation rate over the rolling window
# TYPE qgate_state_window_escalation_rate gauge
qgate_state_window_escalation_rate 0.25
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"qgate_state_circuit_open",
		"qgate_state_cost_usd",
		"qgate_state_threshold",
		"qgate_state_window_escalation_rate",
	)
	require.NoError(t, err)
	assert.Equal(t, 12, testutil.CollectAndCount(c))
}

func TestStateCollectorLoadFailure(t *testing.T) {
	c := newStateCollector(fakeLoader{err: errors.New("locked")}, 20, discardLogger())

	expected := `
# HELP qgate_state_up 1 when the state database could be read
# TYPE qgate_state_up gauge
qgate_state_up 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "qgate_state_up"))
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestUnavailableClient(t *testing.T) {
	c := unavailableClient{err: errors.New("ANTHROPIC_API_KEY not set")}
	_, err := c.Analyze(context.Background(), &ai.AnalysisRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}
