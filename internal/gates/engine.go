package gates

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/qgate/internal/ai"
	"github.com/steveyegge/qgate/internal/classifier"
	"github.com/steveyegge/qgate/internal/config"
	"github.com/steveyegge/qgate/internal/cost"
	"github.com/steveyegge/qgate/internal/escalation"
	"github.com/steveyegge/qgate/internal/resolver"
	"github.com/steveyegge/qgate/internal/storage/sqlite"
	"github.com/steveyegge/qgate/internal/types"
)

// CheckRequest is one file to check
type CheckRequest struct {
	FilePath    string
	Diagnostics []string // raw checker/linter output lines, in order
	FileContent string   // optional; enriches the reasoning context
}

// Result is the disposition of one checked file
type Result struct {
	FilePath    string             `json:"file_path"`
	ConfigPath  string             `json:"config_path,omitempty"`
	Disposition types.Disposition  `json:"disposition"`
	Diagnostics []types.Diagnostic `json:"diagnostics,omitempty"`

	// Decision is the controller's answer for the most complex diagnostic.
	// Zero when the controller was not consulted.
	Decision escalation.Decision `json:"decision"`

	// Analysis is set only for human-required results
	Analysis *ai.AnalysisResult `json:"analysis,omitempty"`
}

// StateStore persists engine state between runs
type StateStore interface {
	Load(ctx context.Context) (*sqlite.Snapshot, error)
	Save(ctx context.Context, snap *sqlite.Snapshot) error
}

// Config holds engine configuration
type Config struct {
	Settings *config.Config        // required
	Client   ai.ReasoningClient    // required
	Root     string                // project root; defaults to "."
	Store    StateStore            // optional: state is not carried over without one
	Registry prometheus.Registerer // optional: metrics go to a private registry without one
	Logger   *slog.Logger
}

// Engine wires the resolver, classifier, escalation controller, orchestrator
// and ledger into a single check pipeline. It is safe for concurrent use.
type Engine struct {
	settings   *config.Config
	logger     *slog.Logger
	store      StateStore
	resolver   *resolver.Resolver
	classifier *classifier.Classifier
	controller *escalation.Controller
	orch       *ai.Orchestrator
	ledger     *cost.Ledger
	builder    *ai.ContextBuilder

	saveMu sync.Mutex
}

// NewEngine creates an engine and restores persisted state. A state store
// that cannot be read is logged and ignored.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("reasoning client is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	s := cfg.Settings
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	ledger, err := cost.NewLedger(s.Ledger(), cost.NewMetrics(reg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	orch, err := ai.NewOrchestrator(&ai.Config{
		Client:             cfg.Client,
		Budget:             ledger,
		Recorder:           ledger,
		Logger:             logger,
		Model:              s.Model,
		Timeout:            s.Timeout(),
		MaxFailures:        s.CircuitBreaker.MaxFailures,
		Cooldown:           s.BreakerCooldown(),
		MaxConcurrentCalls: s.MaxConcurrentCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	controller, err := escalation.New(s.Escalation(), orch.Breaker(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalation controller: %w", err)
	}

	cachePath := s.CachePath
	if cachePath != "" && !filepath.IsAbs(cachePath) {
		cachePath = filepath.Join(root, cachePath)
	}

	e := &Engine{
		settings: s,
		logger:   logger,
		store:    cfg.Store,
		resolver: resolver.New(resolver.Options{
			Root:          root,
			Candidates:    s.ConfigCandidates,
			DefaultConfig: s.DefaultConfig,
			CachePath:     cachePath,
			Logger:        logger,
		}),
		classifier: classifier.New(),
		controller: controller,
		orch:       orch,
		ledger:     ledger,
		builder:    ai.NewContextBuilder(root),
	}
	e.restore(ctx)
	return e, nil
}

// Check classifies a file's diagnostics and decides its disposition.
// It never fails: every internal problem degrades to the raw diagnostics.
func (e *Engine) Check(ctx context.Context, req CheckRequest) *Result {
	r := e.check(ctx, req)
	e.Save(ctx)
	return r
}

// CheckFiles checks files on a bounded worker pool and saves state once at
// the end. Results keep the order of reqs.
func (e *Engine) CheckFiles(ctx context.Context, reqs []CheckRequest) []*Result {
	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.check(gctx, req)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	e.Save(ctx)
	return results
}

func (e *Engine) check(ctx context.Context, req CheckRequest) (result *Result) {
	result = &Result{FilePath: req.FilePath, Disposition: types.DispositionPass}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("check aborted", "file", req.FilePath, "panic", r)
			if len(result.Diagnostics) > 0 {
				result.Disposition = types.DispositionClaudeFixable
				result.Analysis = nil
			}
		}
	}()

	for _, raw := range req.Diagnostics {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		result.Diagnostics = append(result.Diagnostics, e.classifier.Diagnose(raw, req.FilePath))
	}

	outcome := types.CheckOutcome{
		FilePath:   req.FilePath,
		HadErrors:  len(result.Diagnostics) > 0,
		ErrorCount: len(result.Diagnostics),
	}
	defer func() {
		outcome.WasEscalated = result.Decision.Escalate
		e.controller.RecordOutcome(outcome)
		e.ledger.RecordCheck(outcome)
	}()

	if len(result.Diagnostics) == 0 {
		return result
	}

	result.ConfigPath = e.resolver.Resolve(req.FilePath)

	var reasoning []types.Diagnostic
	for _, d := range result.Diagnostics {
		if d.Category != types.CategoryAutoFixable {
			reasoning = append(reasoning, d)
		}
	}
	if len(reasoning) == 0 {
		result.Disposition = types.DispositionAutoFixable
		return result
	}

	result.Disposition = types.DispositionClaudeFixable

	candidates, top := e.escalationCandidates(reasoning)
	result.Decision = e.controller.Decide(classifier.Result{
		Category:        top.Category,
		ComplexityScore: top.ComplexityScore,
	}, top.Message)
	e.logger.Debug("escalation decision",
		"file", req.FilePath,
		"escalate", result.Decision.Escalate,
		"reason", result.Decision.Reason,
		"score", top.ComplexityScore,
		"threshold", result.Decision.Threshold)

	if !result.Decision.Escalate {
		return result
	}

	areq := e.builder.Build(req.FilePath, result.ConfigPath, req.FileContent, candidates)
	if analysis := e.orch.Analyze(ctx, areq, 0); analysis != nil {
		result.Disposition = types.DispositionHumanRequired
		result.Analysis = analysis
	}
	return result
}

// escalationCandidates drops diagnostics matching a never-escalate pattern
// and picks the one the controller decides on: the first always-escalate
// match, otherwise the most complex. When every diagnostic is excluded the
// most complex one is returned so the decision records the exclusion.
func (e *Engine) escalationCandidates(reasoning []types.Diagnostic) ([]types.Diagnostic, types.Diagnostic) {
	var candidates []types.Diagnostic
	pinned := -1
	for _, d := range reasoning {
		never, always := e.controller.MatchesPatterns(d.Message)
		if never {
			continue
		}
		if always && pinned < 0 {
			pinned = len(candidates)
		}
		candidates = append(candidates, d)
	}
	switch {
	case len(candidates) == 0:
		return nil, mostComplex(reasoning)
	case pinned >= 0:
		return candidates, candidates[pinned]
	default:
		return candidates, mostComplex(candidates)
	}
}

// mostComplex returns the highest-scoring diagnostic; the first wins ties
func mostComplex(diags []types.Diagnostic) types.Diagnostic {
	best := diags[0]
	for _, d := range diags[1:] {
		if d.ComplexityScore > best.ComplexityScore {
			best = d
		}
	}
	return best
}

// Resolve maps a file to its project config
func (e *Engine) Resolve(filePath string) string {
	return e.resolver.Resolve(filePath)
}

// Classify classifies a single diagnostic line
func (e *Engine) Classify(raw, filePath string) types.Diagnostic {
	return e.classifier.Diagnose(raw, filePath)
}

// Ledger exposes usage statistics and recommendations
func (e *Engine) Ledger() *cost.Ledger {
	return e.ledger
}

// Controller exposes the escalation controller (threshold and window)
func (e *Engine) Controller() *escalation.Controller {
	return e.controller
}

// Breaker exposes the reasoning circuit breaker
func (e *Engine) Breaker() *ai.CircuitBreaker {
	return e.orch.Breaker()
}

// ResolverStats reports config resolver activity
func (e *Engine) ResolverStats() resolver.Stats {
	return e.resolver.Stats()
}

// Save persists the current state. Failures are logged, never returned.
func (e *Engine) Save(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := &sqlite.Snapshot{
		Controller: e.controller.Snapshot(),
		Breaker:    e.orch.Breaker().Snapshot(),
		Ledger:     e.ledger.Snapshot(),
	}
	if err := e.store.Save(ctx, snap); err != nil {
		e.logger.Warn("failed to save state", "error", err)
	}
}

func (e *Engine) restore(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("failed to load state, starting fresh", "error", err)
		return
	}
	if snap == nil {
		return
	}
	e.controller.Restore(snap.Controller)
	e.orch.Breaker().Restore(snap.Breaker)
	e.ledger.Restore(snap.Ledger)
}
