package classifier

import (
	"regexp"

	"github.com/steveyegge/qgate/internal/types"
)

// Rule maps a diagnostic phrase to a category. Rules are evaluated in
// table order and the first match decides the category; its Weight is
// added to the complexity score.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category types.Category
	Weight   int

	// MatchPath rules also match the file a diagnostic was reported in,
	// so an error raised inside a dependency is recognised by its origin
	MatchPath bool
}

// Keyword is a fixed complexity increment applied when Substr occurs
// (case-insensitively) anywhere in the diagnostic text.
type Keyword struct {
	Substr string
	Points int
}

// Scoring constants. Length bonus is one point per lengthDivisor characters.
const (
	baseScore      = 10
	lengthDivisor  = 10
	maxLengthBonus = 20
	maxScore       = 100
)

// DefaultRules returns the built-in rule table in priority order:
// tool-origin formatting first, dependency origin second, type-system
// complexity third. Anything unmatched falls through to dependency-warning.
func DefaultRules() []Rule {
	return []Rule{
		// (1) formatter / lint-rule origin
		{
			Name:     "lint-rule-suffix",
			Pattern:  regexp.MustCompile(`\((?:semi|quotes|indent|comma-dangle|no-trailing-spaces|eol-last|no-extra-semi|object-curly-spacing|space-before-function-paren|prettier/prettier|@stylistic/[\w-]+)\)\s*$`),
			Category: types.CategoryAutoFixable,
		},
		{
			Name:     "formatting-phrase",
			Pattern:  regexp.MustCompile(`(?i)missing semicolon|extra semicolon|unnecessary semicolon|trailing (?:whitespace|spaces|comma)|expected indentation|strings must use|newline required at end of file|\bprettier\b|\bformatting\b|code style`),
			Category: types.CategoryAutoFixable,
		},

		// (2) errors raised inside imported code
		{
			Name:      "node-modules",
			Pattern:   regexp.MustCompile(`(?i)node_modules[\\/]`),
			Category:  types.CategoryDependencyWarning,
			Weight:    5,
			MatchPath: true,
		},
		{
			Name:      "declaration-file",
			Pattern:   regexp.MustCompile(`(?i)\.d\.ts\b`),
			Category:  types.CategoryDependencyWarning,
			Weight:    5,
			MatchPath: true,
		},
		{
			Name:     "imported-origin",
			Pattern:  regexp.MustCompile(`(?i)in imported file|imported (?:module|dependency)|from (?:a )?dependency`),
			Category: types.CategoryDependencyWarning,
			Weight:   5,
		},

		// (3) type-system complexity
		{
			Name:     "constraint",
			Pattern:  regexp.MustCompile(`(?i)does not satisfy the constraint`),
			Category: types.CategoryNeedsReasoning,
			Weight:   30,
		},
		{
			Name:     "generic",
			Pattern:  regexp.MustCompile(`(?i)generic type|type parameter|type instantiation is excessively deep`),
			Category: types.CategoryNeedsReasoning,
			Weight:   25,
		},
		{
			Name:     "assignability",
			Pattern:  regexp.MustCompile(`(?i)is not assignable to`),
			Category: types.CategoryNeedsReasoning,
			Weight:   25,
		},
		{
			Name:     "overload",
			Pattern:  regexp.MustCompile(`(?i)no overload matches`),
			Category: types.CategoryNeedsReasoning,
			Weight:   25,
		},
		{
			Name:     "missing-member",
			Pattern:  regexp.MustCompile(`(?i)property '[^']*' (?:does not exist|is missing)|missing the following properties`),
			Category: types.CategoryNeedsReasoning,
			Weight:   20,
		},
		{
			Name:     "module-resolution",
			Pattern:  regexp.MustCompile(`(?i)cannot find module|could not find a declaration file|module resolution`),
			Category: types.CategoryNeedsReasoning,
			Weight:   20,
		},
		{
			Name:     "implicit-any",
			Pattern:  regexp.MustCompile(`(?i)implicitly has an? '?any'? type`),
			Category: types.CategoryNeedsReasoning,
			Weight:   10,
		},
	}
}

// DefaultKeywords returns the additive complexity increments
func DefaultKeywords() []Keyword {
	return []Keyword{
		{Substr: "generic", Points: 15},
		{Substr: "constraint", Points: 15},
		{Substr: "interface", Points: 10},
		{Substr: "assignab", Points: 10},
		{Substr: "promise<", Points: 10},
		{Substr: "extends", Points: 10},
		{Substr: "infer", Points: 10},
		{Substr: "keyof", Points: 10},
	}
}
