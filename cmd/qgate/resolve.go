package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/resolver"
	"github.com/steveyegge/qgate/internal/storage"
)

var resolveStats bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <file> [file...]",
	Short: "Show which project config governs each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}

		r := resolver.New(resolver.Options{
			Root:          a.root,
			Candidates:    a.settings.ConfigCandidates,
			DefaultConfig: a.settings.DefaultConfig,
			CachePath:     storage.ProjectPath(a.root, a.settings.CachePath),
			Logger:        a.logger,
		})

		out := cmd.OutOrStdout()
		for _, f := range args {
			resolved := r.Resolve(f)
			if rel, err := filepath.Rel(a.root, resolved); err == nil {
				resolved = rel
			}
			fmt.Fprintf(out, "%s -> %s\n", f, resolved)
		}

		if resolveStats {
			st := r.Stats()
			fmt.Fprintf(out, "\nconfigs: %d  rebuilds: %d  hits: %d  fallbacks: %d\n",
				st.Entries, st.Rebuilds, st.Hits, st.Fallbacks)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveStats, "stats", false, "print resolver statistics")
	rootCmd.AddCommand(resolveCmd)
}
