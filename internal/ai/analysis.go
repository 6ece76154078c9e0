package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/steveyegge/qgate/internal/types"
)

// ErrInvalidResponse marks a response that could not be parsed or failed validation
var ErrInvalidResponse = errors.New("invalid reasoning response")

// AnalysisRequest is everything sent across the reasoning boundary for one file
type AnalysisRequest struct {
	FilePath       string             `json:"file_path"`
	ConfigPath     string             `json:"config_path"`
	Diagnostics    []types.Diagnostic `json:"diagnostics"`
	FileContent    string             `json:"file_content,omitempty"`
	Truncated      bool               `json:"truncated,omitempty"`
	Imports        []ImportRef        `json:"imports,omitempty"`
	WorkspaceHints []WorkspaceHint    `json:"workspace_hints,omitempty"`

	// Prompt is rendered by the orchestrator before the client is called
	Prompt string `json:"-"`
}

// Explanation is the analysis of one diagnostic
type Explanation struct {
	Diagnostic   string `json:"diagnostic"`
	RootCause    string `json:"root_cause" validate:"required"`
	SuggestedFix string `json:"suggested_fix" validate:"required"`
	CodeExample  string `json:"code_example,omitempty"`
}

// AnalysisResult is a validated deep-reasoning response
type AnalysisResult struct {
	Success          bool          `json:"success"`
	Explanations     []Explanation `json:"explanations" validate:"required,min=1,dive"`
	ImpactAssessment string        `json:"impact_assessment" validate:"required"`
	BestPractices    []string      `json:"best_practices" validate:"required"`
}

// validateResult checks the response shape. A false success flag is treated
// the same as a malformed response.
func validateResult(v *validator.Validate, r *AnalysisResult) error {
	if err := v.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidResponse, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !r.Success {
		return fmt.Errorf("%w: success flag is false", ErrInvalidResponse)
	}
	return nil
}

// analysisInstructions is the request-independent part of every analysis
// call. It is sent as a cacheable system block so repeated calls reuse it.
const analysisInstructions = `You are reviewing static-analysis errors in a TypeScript workspace. Explain each error's root cause and how to fix it.

Respond with JSON only, in this shape:
{
  "success": true,
  "explanations": [
    {"diagnostic": "<error text>", "root_cause": "...", "suggested_fix": "...", "code_example": "optional"}
  ],
  "impact_assessment": "what breaks if this is left unfixed",
  "best_practices": ["..."]
}
Provide one explanation per error.`

// buildAnalysisPrompt renders the request-specific part of an analysis call
func buildAnalysisPrompt(req *AnalysisRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "File: %s\n", req.FilePath)
	fmt.Fprintf(&b, "Project config: %s\n", req.ConfigPath)

	if len(req.WorkspaceHints) > 0 {
		b.WriteString("\nWorkspace:\n")
		for _, h := range req.WorkspaceHints {
			fmt.Fprintf(&b, "- %s (%s)", h.Kind, h.Path)
			if len(h.Packages) > 0 {
				fmt.Fprintf(&b, ": %s", strings.Join(h.Packages, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(req.Imports) > 0 {
		b.WriteString("\nImports:\n")
		for _, imp := range req.Imports {
			origin := "package"
			if imp.Local {
				origin = "local"
			}
			fmt.Fprintf(&b, "- %s [%s]\n", imp.Specifier, origin)
		}
	}

	b.WriteString("\nErrors:\n")
	for i, d := range req.Diagnostics {
		fmt.Fprintf(&b, "%d. %s", i+1, d.Location())
		if d.Code != "" {
			fmt.Fprintf(&b, " %s", d.Code)
		}
		fmt.Fprintf(&b, ": %s\n", d.Message)
	}

	if req.FileContent != "" {
		b.WriteString("\nFile content")
		if req.Truncated {
			b.WriteString(" (truncated)")
		}
		b.WriteString(":\n```\n")
		b.WriteString(req.FileContent)
		b.WriteString("\n```\n")
	}

	return b.String()
}
