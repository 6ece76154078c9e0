package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/classifier"
	"github.com/steveyegge/qgate/internal/types"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify [diagnostic...]",
	Short: "Show the category and complexity score of diagnostics",
	Long: `Classify diagnostics given as arguments, or one per line on stdin.
Nothing is escalated and no state is changed.

Example:
  qgate classify "Type 'X' does not satisfy the constraint 'Y'"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lines := args
		if len(lines) == 0 {
			var err error
			if lines, err = readLines(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("failed to read diagnostics: %w", err)
			}
		}

		c := classifier.New()
		var diags []types.Diagnostic
		for _, l := range lines {
			if strings.TrimSpace(l) == "" {
				continue
			}
			diags = append(diags, c.Diagnose(l, ""))
		}

		out := cmd.OutOrStdout()
		if classifyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(diags)
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tSCORE\tMESSAGE")
		for _, d := range diags {
			fmt.Fprintf(w, "%s\t%d\t%s\n", d.Category, d.ComplexityScore, d.Message)
		}
		return w.Flush()
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print diagnostics as JSON")
	rootCmd.AddCommand(classifyCmd)
}
