package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/cost"
	"github.com/steveyegge/qgate/internal/gates"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show escalation, usage and cost statistics",
	Long:  `Display check and escalation statistics, reasoning usage, the monthly cost projection and recommendations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		if noColor {
			color.NoColor = true
		}

		engine, closeStore, err := a.openEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer closeStore()

		report := buildReport(engine)
		if statsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(cmd.OutOrStdout(), report, a.settings.MonthlyCostLimit)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

type report struct {
	Statistics      cost.Statistics `json:"statistics"`
	Projection      cost.Projection `json:"projection"`
	Recommendations []string        `json:"recommendations"`
	Threshold       int             `json:"threshold"`
	WindowSize      int             `json:"window_size"`
	WindowRate      float64         `json:"window_escalation_rate"`
	Circuit         string          `json:"circuit"`
	Failures        int             `json:"consecutive_failures"`
}

func buildReport(e *gates.Engine) report {
	state, failures := e.Breaker().GetMetrics()
	window := e.Controller().Window()
	return report{
		Statistics:      e.Ledger().Statistics(),
		Projection:      e.Ledger().CostProjection(),
		Recommendations: e.Ledger().Recommendations(),
		Threshold:       e.Controller().Threshold(),
		WindowSize:      window.Len(),
		WindowRate:      window.RollingEscalationRate(),
		Circuit:         state.String(),
		Failures:        failures,
	}
}

func printReport(w io.Writer, r report, monthlyLimit float64) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	s := r.Statistics

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Quality Gate Statistics ==="))

	statusColor := color.New(color.FgGreen)
	statusIcon := "✓"
	switch s.Status {
	case cost.BudgetWarning:
		statusColor = color.New(color.FgYellow)
		statusIcon = "⚠️"
	case cost.BudgetExceeded:
		statusColor = color.New(color.FgRed, color.Bold)
		statusIcon = "🚨"
	}
	fmt.Fprintf(w, "%s Budget Status: %s\n\n", statusIcon, statusColor.Sprint(s.Status.String()))

	fmt.Fprintf(w, "%s\n", yellow("Checks:"))
	fmt.Fprintf(w, "  Total:        %d\n", s.TotalChecks)
	fmt.Fprintf(w, "  With errors:  %d\n", s.ChecksWithErrors)
	fmt.Fprintf(w, "  Escalated:    %d (%.1f%%)\n", s.EscalatedChecks, s.EscalationPercentage)
	fmt.Fprintf(w, "  Window:       %d checks, %.1f%% escalated\n", r.WindowSize, r.WindowRate*100)
	fmt.Fprintf(w, "  Threshold:    %d\n", r.Threshold)
	fmt.Fprintf(w, "  Circuit:      %s (%d consecutive failures)\n\n", r.Circuit, r.Failures)

	fmt.Fprintf(w, "%s\n", yellow("Reasoning calls:"))
	fmt.Fprintf(w, "  Total:        %d (%d ok, %d failed, %d refused)\n",
		s.TotalInvocations, s.SuccessfulInvocations, s.FailedInvocations, s.Refusals)
	fmt.Fprintf(w, "  Cache hits:   %.0f%%\n", s.CacheHitRate*100)
	fmt.Fprintf(w, "  Tokens:       %s (avg %.0f per call)\n", formatTokens(s.TotalTokens), s.AverageTokens)
	fmt.Fprintf(w, "  Today:        %d calls\n\n", s.TodayInvocations)

	fmt.Fprintf(w, "%s\n", yellow("Cost:"))
	fmt.Fprintf(w, "  All time:     $%.4f\n", s.TotalCost)
	if monthlyLimit > 0 {
		fmt.Fprintf(w, "  This month:   $%.4f / $%.2f\n", s.MonthCost, monthlyLimit)
	} else {
		fmt.Fprintf(w, "  This month:   $%.4f (unlimited)\n", s.MonthCost)
	}
	p := r.Projection
	fmt.Fprintf(w, "  Projected:    $%.2f/month (%d calls/day, %s tokens, %d samples)\n\n",
		p.MonthlyCost, p.InvocationsPerDay, formatTokens(int64(p.MonthlyTokens)), p.SampleSize)

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(w, "%s\n", yellow("Recommendations:"))
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
		fmt.Fprintln(w)
	}
}

// formatTokens formats a token count with K/M suffixes for readability
func formatTokens(tokens int64) string {
	switch {
	case tokens < 1000:
		return fmt.Sprintf("%d", tokens)
	case tokens < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
	}
}
