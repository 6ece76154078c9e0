// Package ai is the sub-agent orchestrator: it packages diagnostics and file
// context into a request, calls the external reasoning service under a
// timeout, validates what comes back and owns the circuit breaker that
// protects the rest of the system from a failing service.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/qgate/internal/types"
)

// BudgetGate decides whether another external call is affordable
type BudgetGate interface {
	CanProceed() (bool, string)
}

// InvocationRecorder receives one record per attempted call, plus a note for
// every call refused before it was attempted
type InvocationRecorder interface {
	RecordInvocation(rec types.InvocationRecord)
	RecordRefusal(reason string)
}

// Config holds orchestrator configuration
type Config struct {
	Client   ReasoningClient    // required
	Budget   BudgetGate         // optional
	Recorder InvocationRecorder // optional
	Logger   *slog.Logger

	// Model is reported in invocation records when the client does not name one
	Model string

	// Timeout bounds a single call
	// Default: 30 seconds
	Timeout time.Duration

	// MaxFailures consecutive failures open the circuit
	// Default: 3
	MaxFailures int

	// Cooldown is how long the circuit stays open after the last failure
	// Default: 60 seconds
	Cooldown time.Duration

	// MaxConcurrentCalls limits in-flight calls; 0 means unlimited
	// Default: 2
	MaxConcurrentCalls int
}

// Orchestrator runs deep-reasoning analyses
type Orchestrator struct {
	client   ReasoningClient
	budget   BudgetGate
	recorder InvocationRecorder
	logger   *slog.Logger
	breaker  *CircuitBreaker
	sem      *semaphore.Weighted
	validate *validator.Validate
	model    string
	timeout  time.Duration
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator with its own circuit breaker
func NewOrchestrator(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("reasoning client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = ModelSonnet
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}

	return &Orchestrator{
		client:   cfg.Client,
		budget:   cfg.Budget,
		recorder: cfg.Recorder,
		logger:   logger,
		breaker:  NewCircuitBreaker(maxFailures, cooldown, logger),
		sem:      sem,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		model:    model,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// Breaker exposes the circuit breaker (the escalation controller reads it)
func (o *Orchestrator) Breaker() *CircuitBreaker {
	return o.breaker
}

// Analyze runs one analysis. It returns nil on any failure or refusal, in
// which case the caller falls back to the raw diagnostics. A zero timeout
// uses the configured one.
func (o *Orchestrator) Analyze(ctx context.Context, req *AnalysisRequest, timeout time.Duration) (result *AnalysisResult) {
	// settled is false while a breaker reservation awaits its outcome
	settled := true
	defer func() {
		if r := recover(); r != nil {
			o.logger.Debug("analysis aborted", "panic", r)
			if !settled {
				o.breaker.RecordFailure()
			}
			result = nil
		}
	}()

	if req == nil || len(req.Diagnostics) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = o.timeout
	}

	if o.budget != nil {
		if ok, reason := o.budget.CanProceed(); !ok {
			o.refuse("budget: " + reason)
			return nil
		}
	}

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.refuse("context done while waiting for a call slot")
			return nil
		}
		defer o.sem.Release(1)
	}

	// Reserved last so an abandoned half-open probe cannot happen
	if err := o.breaker.Allow(); err != nil {
		o.logger.Debug("analysis refused", "error", err)
		o.refuse("circuit open")
		return nil
	}
	settled = false

	req.Prompt = buildAnalysisPrompt(req)
	rec := types.InvocationRecord{
		ID:         uuid.NewString(),
		Timestamp:  o.now(),
		PromptSize: len(analysisInstructions) + len(req.Prompt),
		Model:      o.model,
		Category:   mostComplex(req.Diagnostics).Category,
	}

	start := time.Now()
	resp, err := o.call(ctx, req, timeout)
	rec.Duration = time.Since(start)

	if resp != nil {
		rec.ResponseSize = len(resp.Text)
		rec.InputTokens = resp.InputTokens
		rec.OutputTokens = resp.OutputTokens
		rec.Cached = resp.CachedTokens > 0
		if resp.Model != "" {
			rec.Model = resp.Model
		}
	}

	if err == nil {
		result, err = o.decode(resp)
	}

	if err != nil {
		rec.Failure = classifyFailure(err)
		o.record(rec)
		o.breaker.RecordFailure()
		settled = true
		o.logger.Debug("analysis failed", "file", req.FilePath, "failure", rec.Failure, "error", err)
		return nil
	}

	rec.Succeeded = true
	o.record(rec)
	o.breaker.RecordSuccess()
	settled = true
	o.logger.Debug("analysis completed", "file", req.FilePath,
		"explanations", len(result.Explanations), "duration", rec.Duration)
	return result
}

type reply struct {
	resp *RawResponse
	err  error
}

// call runs the client outside every lock. The reply channel is buffered so
// a response arriving after the timeout is dropped without blocking.
func (o *Orchestrator) call(ctx context.Context, req *AnalysisRequest, timeout time.Duration) (*RawResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("reasoning client panicked: %v", r)}
			}
		}()
		resp, err := o.client.Analyze(callCtx, req)
		ch <- reply{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.resp == nil {
			return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
		}
		return r.resp, r.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("reasoning call timed out after %v: %w", timeout, context.DeadlineExceeded)
	}
}

func (o *Orchestrator) decode(resp *RawResponse) (*AnalysisResult, error) {
	result, err := decodeResponse[AnalysisResult](resp.Text)
	if err != nil {
		return nil, err
	}
	if err := validateResult(o.validate, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (o *Orchestrator) record(rec types.InvocationRecord) {
	if o.recorder != nil {
		o.recorder.RecordInvocation(rec)
	}
}

func (o *Orchestrator) refuse(reason string) {
	if o.recorder != nil {
		o.recorder.RecordRefusal(reason)
	}
}

// classifyFailure maps an error onto the failure kinds the breaker counts
func classifyFailure(err error) types.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.FailureTimeout
	case errors.Is(err, ErrInvalidResponse):
		return types.FailureInvalidResponse
	default:
		return types.FailureTransport
	}
}

func mostComplex(diags []types.Diagnostic) types.Diagnostic {
	var best types.Diagnostic
	for i, d := range diags {
		if i == 0 || d.ComplexityScore > best.ComplexityScore {
			best = d
		}
	}
	return best
}
