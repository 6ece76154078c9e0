// Package classifier assigns a category and a complexity score to raw
// static-analysis diagnostics. Classification is a transparent rule table,
// not a learned model: the same text always yields the same result.
package classifier

import (
	"path/filepath"
	"strings"

	"github.com/steveyegge/qgate/internal/types"
)

// Result is the outcome of classifying one diagnostic
type Result struct {
	Category        types.Category `json:"category"`
	ComplexityScore int            `json:"complexity_score"`
	Rule            string         `json:"rule,omitempty"` // name of the matching rule, empty for the default
}

// Classifier evaluates an ordered rule table. It holds no mutable state
// and is safe for concurrent use.
type Classifier struct {
	rules    []Rule
	keywords []Keyword
}

// New creates a classifier with the given rule table, or the default table when none is given
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{
		rules:    rules,
		keywords: DefaultKeywords(),
	}
}

// Classify returns the category and complexity score for a diagnostic message.
// Empty input yields the low-confidence default (dependency-warning, score 0).
func (c *Classifier) Classify(text string) Result {
	return c.classify(text, "")
}

// Diagnose parses a raw diagnostic line and returns the classified diagnostic.
// The path named in the line, when it is not the checked file itself, is
// offered to the origin rules.
func (c *Classifier) Diagnose(raw, filePath string) types.Diagnostic {
	d := ParseLine(raw, filePath)
	origin := ""
	if !sameFile(d.FilePath, filePath) {
		origin = d.FilePath
	}
	r := c.classify(d.Message, origin)
	d.Category = r.Category
	d.ComplexityScore = r.ComplexityScore
	return d
}

func (c *Classifier) classify(text, origin string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Category: types.CategoryDependencyWarning}
	}

	result := Result{Category: types.CategoryDependencyWarning}
	weight := 0
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(trimmed) || (rule.MatchPath && origin != "" && rule.Pattern.MatchString(origin)) {
			result.Category = rule.Category
			result.Rule = rule.Name
			weight = rule.Weight
			break
		}
	}

	result.ComplexityScore = c.score(trimmed, weight)
	return result
}

// sameFile reports whether a and b name the same file, allowing one to be a
// path suffix of the other (tools print relative or absolute paths)
func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	a = filepath.ToSlash(filepath.Clean(a))
	b = filepath.ToSlash(filepath.Clean(b))
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

func (c *Classifier) score(text string, ruleWeight int) int {
	lower := strings.ToLower(text)

	score := baseScore + ruleWeight
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw.Substr) {
			score += kw.Points
		}
	}

	bonus := len(text) / lengthDivisor
	if bonus > maxLengthBonus {
		bonus = maxLengthBonus
	}
	score += bonus

	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
