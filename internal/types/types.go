package types

import (
	"fmt"
	"time"
)

// Category is the classifier's verdict for a single diagnostic
type Category string

const (
	// CategoryAutoFixable covers formatter and lint-rule findings that tools fix on their own
	CategoryAutoFixable Category = "auto-fixable"
	// CategoryNeedsReasoning covers type-system problems that benefit from an explanation
	CategoryNeedsReasoning Category = "needs-reasoning"
	// CategoryDependencyWarning covers errors that originate outside the edited file
	CategoryDependencyWarning Category = "dependency-warning"
)

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryAutoFixable, CategoryNeedsReasoning, CategoryDependencyWarning:
		return true
	}
	return false
}

// Disposition is the engine's final decision for a checked file
type Disposition string

const (
	// DispositionPass means there was nothing to report
	DispositionPass Disposition = "pass"
	// DispositionAutoFixable is a silent fix: tools repair the file, nothing is shown
	DispositionAutoFixable Disposition = "auto-fixable"
	// DispositionClaudeFixable blocks with the raw diagnostics as instructions
	DispositionClaudeFixable Disposition = "claude-fixable"
	// DispositionHumanRequired blocks with a deep-reasoning explanation attached
	DispositionHumanRequired Disposition = "human-required"
)

// IsValid checks if the disposition value is valid
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionPass, DispositionAutoFixable, DispositionClaudeFixable, DispositionHumanRequired:
		return true
	}
	return false
}

// Blocks reports whether the disposition should stop the caller until the file is fixed
func (d Disposition) Blocks() bool {
	return d == DispositionClaudeFixable || d == DispositionHumanRequired
}

// Diagnostic is one reported issue from an external static-analysis tool.
// It is created per check, never mutated after classification and never persisted.
type Diagnostic struct {
	Message         string   `json:"message"`
	FilePath        string   `json:"file_path"`
	Line            int      `json:"line,omitempty"`   // 0 when unknown
	Column          int      `json:"column,omitempty"` // 0 when unknown
	Code            string   `json:"code,omitempty"`   // e.g. TS2344 or an eslint rule id
	Category        Category `json:"category"`
	ComplexityScore int      `json:"complexity_score"`
}

// Location renders file:line:col, omitting unknown parts
func (d Diagnostic) Location() string {
	switch {
	case d.Line > 0 && d.Column > 0:
		return fmt.Sprintf("%s:%d:%d", d.FilePath, d.Line, d.Column)
	case d.Line > 0:
		return fmt.Sprintf("%s:%d", d.FilePath, d.Line)
	default:
		return d.FilePath
	}
}

// CheckOutcome is one entry of the rolling check window
type CheckOutcome struct {
	Timestamp    time.Time `json:"timestamp"`
	FilePath     string    `json:"file_path,omitempty"`
	HadErrors    bool      `json:"had_errors"`
	ErrorCount   int       `json:"error_count"`
	WasEscalated bool      `json:"was_escalated"`
}

// FailureKind explains why an external reasoning call did not produce a usable analysis
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureTimeout         FailureKind = "timeout"
	FailureTransport       FailureKind = "transport"
	FailureInvalidResponse FailureKind = "invalid_response"
)

// InvocationRecord describes a single call to the reasoning boundary.
// Records are appended by the orchestrator and never mutated afterwards.
type InvocationRecord struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	PromptSize   int           `json:"prompt_size"`   // characters sent
	ResponseSize int           `json:"response_size"` // characters received
	InputTokens  int64         `json:"input_tokens,omitempty"`
	OutputTokens int64         `json:"output_tokens,omitempty"`
	Model        string        `json:"model"`
	Succeeded    bool          `json:"succeeded"`
	Cached       bool          `json:"cached"`
	Category     Category      `json:"category,omitempty"`
	Duration     time.Duration `json:"duration"`
	Failure      FailureKind   `json:"failure,omitempty"`
}

// EstimatedTokens returns the reported token usage, or a size-based
// estimate (4 characters per token) when the boundary reported none
func (r InvocationRecord) EstimatedTokens() int64 {
	if r.InputTokens > 0 || r.OutputTokens > 0 {
		return r.InputTokens + r.OutputTokens
	}
	return int64(r.PromptSize+r.ResponseSize) / 4
}
