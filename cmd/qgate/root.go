package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/ai"
	"github.com/steveyegge/qgate/internal/config"
	"github.com/steveyegge/qgate/internal/gates"
	"github.com/steveyegge/qgate/internal/storage"
	"github.com/steveyegge/qgate/internal/storage/sqlite"
)

var (
	cfgFile string
	rootDir string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "qgate",
	Short: "Quality-gate decisions for static-analysis diagnostics",
	Long: `qgate sits between a type checker or linter and the agent editing the code.

For every file it decides whether the reported diagnostics are fixed silently,
sent back as instructions, or escalated to a deep-reasoning analysis, while
keeping the escalation rate, cost and failure exposure bounded.

Example (as a post-edit hook):
  npx tsc --noEmit -p . 2>&1 | qgate check src/app.ts`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is <root>/.qgate.yaml)")
	pf.StringVar(&rootDir, "root", "", "project root (default: discovered from the working directory)")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("sensitivity", "", "escalation sensitivity (conservative, balanced, aggressive)")
}

// app is the per-invocation context shared by the subcommands
type app struct {
	root     string
	settings *config.Config
	cfgUsed  string
	logger   *slog.Logger
}

func setup(cmd *cobra.Command) (*app, error) {
	root := rootDir
	if root == "" {
		discovered, err := storage.DiscoverProjectRoot("")
		if err != nil {
			return nil, err
		}
		root = discovered
	}

	settings, used, err := config.Load(config.Options{
		ConfigFile: cfgFile,
		SearchDir:  root,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		root:     root,
		settings: settings,
		cfgUsed:  used,
		logger:   newLogger(settings.Debug),
	}, nil
}

// newLogger writes to stderr: stdout belongs to the hook transport
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine builds the engine with its state store. A store that cannot be
// opened is logged and the engine runs without persistence.
func (a *app) openEngine(ctx context.Context, reg prometheus.Registerer) (*gates.Engine, func(), error) {
	var store gates.StateStore
	closeStore := func() {}

	statePath := storage.ProjectPath(a.root, a.settings.StatePath)
	if s, err := sqlite.New(statePath); err != nil {
		a.logger.Warn("state store unavailable, running without persistence", "path", statePath, "error", err)
	} else {
		s.SetHistorySize(a.settings.Cost.HistorySize)
		store = s
		closeStore = func() { _ = s.Close() }
	}

	engine, err := gates.NewEngine(ctx, &gates.Config{
		Settings: a.settings,
		Client:   a.reasoningClient(),
		Root:     a.root,
		Store:    store,
		Registry: reg,
		Logger:   a.logger,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return engine, closeStore, nil
}

func (a *app) reasoningClient() ai.ReasoningClient {
	client, err := ai.NewAnthropicClient("", a.settings.Model, a.settings.MaxTokens)
	if err != nil {
		a.logger.Debug("reasoning unavailable", "error", err)
		return unavailableClient{err: err}
	}
	return client
}

// unavailableClient fails every call, so escalations fall back to raw
// diagnostics (and trip the breaker) when no API key is configured
type unavailableClient struct {
	err error
}

func (c unavailableClient) Analyze(context.Context, *ai.AnalysisRequest) (*ai.RawResponse, error) {
	return nil, fmt.Errorf("reasoning client unavailable: %w", c.err)
}

// enhancedOutput reports whether colors should be used on stdout
func enhancedOutput() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
