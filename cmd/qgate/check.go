package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/classifier"
	"github.com/steveyegge/qgate/internal/gates"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check <file> [file...]",
	Short: "Decide the disposition of diagnostics read from stdin",
	Long: `Read checker, linter or formatter output from stdin and decide, per file,
whether to fix silently, block with the raw diagnostics, or block with a
deep-reasoning explanation.

With several files, each diagnostic line goes to the file it names. Lines that
name no file (eslint's stylish format) go to the most recent file header.

Exit status is 0 when nothing blocks and 2 when at least one file blocks.

Example:
  npx tsc --noEmit 2>&1 | qgate check src/app.ts
  npx eslint src/a.ts src/b.ts | qgate check src/a.ts src/b.ts`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}

		lines, err := readLines(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read diagnostics: %w", err)
		}

		reqs := groupDiagnostics(args, lines)
		for i := range reqs {
			// Content only enriches the reasoning context; a missing file is fine
			if data, err := os.ReadFile(reqs[i].FilePath); err == nil {
				reqs[i].FileContent = string(data)
			}
		}

		ctx := cmd.Context()
		engine, closeStore, err := a.openEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		results := engine.CheckFiles(ctx, reqs)

		out := cmd.OutOrStdout()
		if checkJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
		} else {
			formatter := gates.NewFormatter(enhancedOutput())
			for _, r := range results {
				fmt.Fprint(out, formatter.Format(r))
			}
		}

		if code := gates.ExitCodeAll(results); code != gates.ExitOK {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(checkCmd)
}

func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// groupDiagnostics assigns raw output lines to the files being checked.
// A line that is just a file path switches the current file; a line whose
// parsed location names one of the files goes to that file; anything else
// goes to the current file (initially the first one).
func groupDiagnostics(files, lines []string) []gates.CheckRequest {
	reqs := make([]gates.CheckRequest, len(files))
	for i, f := range files {
		reqs[i].FilePath = f
	}
	if len(files) == 1 {
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				reqs[0].Diagnostics = append(reqs[0].Diagnostics, l)
			}
		}
		return reqs
	}

	current := 0
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if i := matchFile(files, trimmed); i >= 0 {
			current = i
			continue
		}
		if p := classifier.ParseLine(trimmed, "").FilePath; p != "" {
			if i := matchFile(files, p); i >= 0 {
				reqs[i].Diagnostics = append(reqs[i].Diagnostics, l)
				continue
			}
		}
		reqs[current].Diagnostics = append(reqs[current].Diagnostics, l)
	}
	return reqs
}

// matchFile finds the file p refers to, allowing either side to be a
// path suffix of the other (tools print absolute or relative paths)
func matchFile(files []string, p string) int {
	p = filepath.ToSlash(filepath.Clean(p))
	for i, f := range files {
		f = filepath.ToSlash(filepath.Clean(f))
		if p == f || strings.HasSuffix(p, "/"+f) || strings.HasSuffix(f, "/"+p) {
			return i
		}
	}
	return -1
}
