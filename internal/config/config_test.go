package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/qgate/internal/escalation"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, used, err := Load(Options{SearchDir: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, used)

	def := Default()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, def.EscalationSensitivity, cfg.EscalationSensitivity)
	assert.Equal(t, def.MaxEscalationRate, cfg.MaxEscalationRate)
	assert.Equal(t, def.TimeoutMs, cfg.TimeoutMs)
	assert.Equal(t, def.CircuitBreaker, cfg.CircuitBreaker)
	assert.Equal(t, def.Cost, cfg.Cost)
	assert.Equal(t, def.Tuning, cfg.Tuning)
	assert.Equal(t, def.ConfigCandidates, cfg.ConfigCandidates)
	assert.Empty(t, cfg.NeverEscalatePatterns)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, `
escalation_sensitivity: aggressive
timeout_ms: 20000
circuit_breaker:
  max_failures: 5
never_escalate_patterns:
  - "from file"
cost:
  average_window: 20
`)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, used, err := Load(Options{SearchDir: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, FileName), used)
		assert.Equal(t, "aggressive", cfg.EscalationSensitivity)
		assert.Equal(t, 20000, cfg.TimeoutMs)
		assert.Equal(t, 5, cfg.CircuitBreaker.MaxFailures)
		assert.Equal(t, 60000, cfg.CircuitBreaker.CooldownMs)
		assert.Equal(t, 20, cfg.Cost.AverageWindow)
		assert.Equal(t, []string{"from file"}, cfg.NeverEscalatePatterns)
	})

	t.Run("environment over file", func(t *testing.T) {
		t.Setenv("QGATE_CIRCUIT_BREAKER_MAX_FAILURES", "7")
		t.Setenv("QGATE_NEVER_ESCALATE_PATTERNS", "Cannot find module,^TS6133")
		t.Setenv("QGATE_ENABLED", "false")

		cfg, _, err := Load(Options{SearchDir: dir})
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.CircuitBreaker.MaxFailures)
		assert.Equal(t, []string{"Cannot find module", "^TS6133"}, cfg.NeverEscalatePatterns)
		assert.False(t, cfg.Enabled)
		assert.Equal(t, "aggressive", cfg.EscalationSensitivity)
	})

	t.Run("flags over environment", func(t *testing.T) {
		t.Setenv("QGATE_ESCALATION_SENSITIVITY", "balanced")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.String("sensitivity", "balanced", "")
		fs.Int("timeout", 30000, "")
		fs.Bool("debug", false, "")
		fs.String("unrelated", "", "")
		require.NoError(t, fs.Parse([]string{"--sensitivity=conservative", "--debug"}))

		cfg, _, err := Load(Options{SearchDir: dir, Flags: fs})
		require.NoError(t, err)
		assert.Equal(t, "conservative", cfg.EscalationSensitivity)
		assert.True(t, cfg.Debug)
		// Unchanged flags do not mask the file
		assert.Equal(t, 20000, cfg.TimeoutMs)
	})
}

func TestLoadExplicitFile(t *testing.T) {
	_, _, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	dir := t.TempDir()
	p := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(p, []byte("workers: 8\n"), 0644))
	cfg, used, err := Load(Options{ConfigFile: p})
	require.NoError(t, err)
	assert.Equal(t, p, used)
	assert.Equal(t, 8, cfg.Workers)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "max_escalation_rate: 2\nescalation_sensitivity: reckless\n")

	_, _, err := Load(Options{SearchDir: dir})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Len(t, verr.Violations, 2)
}

func TestValidateListsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.MaxEscalationRate = 0
	cfg.EscalationSensitivity = "wild"
	cfg.MinComplexityScore = 101
	cfg.CircuitBreaker.MaxFailures = 0
	cfg.Cost.HistorySize = 10 // below average_window
	cfg.NeverEscalatePatterns = []string{"ok", "(unclosed"}

	err := cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	want := []string{
		"escalation_sensitivity: must be one of conservative, balanced, aggressive (got wild)",
		"max_escalation_rate: must be greater than 0 (got 0)",
		"min_complexity_score: must be at most 100 (got 101)",
		"circuit_breaker.max_failures: must be at least 1 (got 0)",
		"cost.history_size: must be at least average_window (got 10)",
	}
	for _, w := range want {
		assert.Contains(t, verr.Violations, w)
	}
	assert.Len(t, verr.Violations, len(want)+1)
	assert.Contains(t, verr.Violations[len(verr.Violations)-1], "never_escalate_patterns[1]: invalid regex")
	assert.Contains(t, err.Error(), "6 problems")
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, FileName)

	require.NoError(t, WriteDefault(p, false))
	assert.Error(t, WriteDefault(p, false), "refuses to overwrite")
	require.NoError(t, WriteDefault(p, true))

	cfg, used, err := Load(Options{SearchDir: dir})
	require.NoError(t, err)
	assert.Equal(t, p, used)
	assert.Equal(t, Default().Tuning, cfg.Tuning)
	assert.Equal(t, Default().Model, cfg.Model)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "escalation_sensitivity: balanced")
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.EscalationCooldownMs = 2500
	cfg.NeverEscalatePatterns = []string{"x"}
	cfg.DailyInvocationLimit = 40

	esc := cfg.Escalation()
	assert.Equal(t, escalation.SensitivityBalanced, esc.Sensitivity)
	assert.Equal(t, 2500*time.Millisecond, esc.Cooldown)
	assert.Equal(t, []string{"x"}, esc.NeverEscalatePatterns)
	assert.Equal(t, escalation.DefaultTuningConfig(), esc.Tuning)

	ledger := cfg.Ledger()
	assert.Equal(t, 40, ledger.DailyInvocationLimit)
	assert.Equal(t, 0.15, ledger.MaxEscalationRate)
	assert.NoError(t, ledger.Validate())

	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, time.Minute, cfg.BreakerCooldown())
	assert.Contains(t, cfg.String(), "sensitivity=balanced")
}
