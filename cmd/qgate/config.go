package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/config"
	"github.com/steveyegge/qgate/internal/storage"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .qgate.yaml in the project root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir
		if root == "" {
			discovered, err := storage.DiscoverProjectRoot("")
			if err != nil {
				return err
			}
			root = discovered
		}

		path := cfgFile
		if path == "" {
			path = filepath.Join(root, config.FileName)
		}
		if err := config.WriteDefault(path, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", color.GreenString("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after defaults, the config file, QGATE_* environment variables and flags are merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		out, err := a.settings.YAML()
		if err != nil {
			return err
		}

		source := a.cfgUsed
		if source == "" {
			source = "(defaults, no config file)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n# root: %s\n%s", source, a.root, out)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list every problem",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, err := setup(cmd)

		var verr *config.ValidationError
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s configuration is valid\n", color.GreenString("✓"))
			return nil
		case errors.As(err, &verr):
			fmt.Fprintf(out, "%s %d configuration problem(s):\n", color.RedString("✗"), len(verr.Violations))
			for _, v := range verr.Violations {
				fmt.Fprintf(out, "  - %s\n", v)
			}
			return &exitError{code: 1}
		default:
			return err
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
