package gates

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/steveyegge/qgate/internal/types"
)

// Exit codes for the hook transport
const (
	ExitOK    = 0
	ExitBlock = 2
)

// ExitCode maps a result to the hook exit code: blocking dispositions stop
// the caller, everything else lets it continue
func ExitCode(r *Result) int {
	if r != nil && r.Disposition.Blocks() {
		return ExitBlock
	}
	return ExitOK
}

// ExitCodeAll returns ExitBlock if any result blocks
func ExitCodeAll(results []*Result) int {
	for _, r := range results {
		if ExitCode(r) == ExitBlock {
			return ExitBlock
		}
	}
	return ExitOK
}

// Formatter renders a result for the consumer. Non-blocking results render
// as the empty string: silent fixes are not shown.
type Formatter interface {
	Format(r *Result) string
}

// NewFormatter picks the color formatter when enhanced output is wanted
func NewFormatter(enhanced bool) Formatter {
	if enhanced {
		return NewColorFormatter()
	}
	return PlainFormatter{}
}

// PlainFormatter renders plain text
type PlainFormatter struct{}

func (PlainFormatter) Format(r *Result) string {
	return render(r, plainStyle)
}

// ColorFormatter renders with ANSI colors
type ColorFormatter struct {
	style style
}

// NewColorFormatter creates a formatter that always emits colors
func NewColorFormatter() *ColorFormatter {
	paint := func(attrs ...color.Attribute) func(string) string {
		c := color.New(attrs...)
		c.EnableColor()
		return func(s string) string { return c.Sprint(s) }
	}
	return &ColorFormatter{style: style{
		header:   paint(color.FgRed, color.Bold),
		location: paint(color.FgCyan),
		category: paint(color.FgHiBlack),
		section:  paint(color.FgYellow, color.Bold),
		code:     paint(color.FgGreen),
	}}
}

func (f *ColorFormatter) Format(r *Result) string {
	return render(r, f.style)
}

type style struct {
	header   func(string) string
	location func(string) string
	category func(string) string
	section  func(string) string
	code     func(string) string
}

func identity(s string) string { return s }

var plainStyle = style{
	header:   identity,
	location: identity,
	category: identity,
	section:  identity,
	code:     identity,
}

func render(r *Result, st style) string {
	if r == nil || !r.Disposition.Blocks() {
		return ""
	}

	var b strings.Builder
	var blocking []types.Diagnostic
	for _, d := range r.Diagnostics {
		if d.Category != types.CategoryAutoFixable {
			blocking = append(blocking, d)
		}
	}

	title := fmt.Sprintf("✗ Quality gate: %d issue(s) in %s", len(blocking), r.FilePath)
	if r.ConfigPath != "" {
		title += fmt.Sprintf(" (config: %s)", r.ConfigPath)
	}
	b.WriteString(st.header(title))
	b.WriteString("\n")

	for i, d := range blocking {
		loc := d.Location()
		if d.Code != "" {
			loc += " " + d.Code
		}
		fmt.Fprintf(&b, "  %d. %s: %s %s\n", i+1, st.location(loc), d.Message,
			st.category(fmt.Sprintf("[%s, complexity %d]", d.Category, d.ComplexityScore)))
	}

	if r.Disposition == types.DispositionHumanRequired && r.Analysis != nil {
		a := r.Analysis
		b.WriteString("\n")
		b.WriteString(st.section("Analysis:"))
		b.WriteString("\n")
		for _, ex := range a.Explanations {
			fmt.Fprintf(&b, "  • %s\n", ex.Diagnostic)
			fmt.Fprintf(&b, "    Root cause: %s\n", ex.RootCause)
			fmt.Fprintf(&b, "    Suggested fix: %s\n", ex.SuggestedFix)
			if ex.CodeExample != "" {
				b.WriteString("    Example:\n")
				for _, line := range strings.Split(strings.TrimRight(ex.CodeExample, "\n"), "\n") {
					b.WriteString("      " + st.code(line) + "\n")
				}
			}
		}
		fmt.Fprintf(&b, "\n%s %s\n", st.section("Impact:"), a.ImpactAssessment)
		if len(a.BestPractices) > 0 {
			b.WriteString(st.section("Best practices:"))
			b.WriteString("\n")
			for _, p := range a.BestPractices {
				fmt.Fprintf(&b, "  - %s\n", p)
			}
		}
	} else {
		b.WriteString("\nFix these issues before continuing.\n")
	}

	return b.String()
}
