package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/qgate/internal/types"
)

func TestClassifyCategories(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		text     string
		category types.Category
		rule     string
	}{
		{
			name:     "eslint semi rule",
			text:     "Missing semicolon (semi)",
			category: types.CategoryAutoFixable,
			rule:     "lint-rule-suffix",
		},
		{
			name:     "prettier",
			text:     "Replace `··` with `····` (prettier/prettier)",
			category: types.CategoryAutoFixable,
			rule:     "lint-rule-suffix",
		},
		{
			name:     "trailing whitespace phrase",
			text:     "Trailing spaces not allowed",
			category: types.CategoryAutoFixable,
			rule:     "formatting-phrase",
		},
		{
			name:     "error inside node_modules",
			text:     "node_modules/@types/react/index.d.ts: Type 'X' is not assignable to type 'Y'",
			category: types.CategoryDependencyWarning,
			rule:     "node-modules",
		},
		{
			name:     "declaration file",
			text:     "Duplicate identifier 'Foo' in lib.dom.d.ts",
			category: types.CategoryDependencyWarning,
			rule:     "declaration-file",
		},
		{
			name:     "constraint",
			text:     "Type 'X' does not satisfy the constraint 'Y'",
			category: types.CategoryNeedsReasoning,
			rule:     "constraint",
		},
		{
			name:     "assignability",
			text:     "Type 'string' is not assignable to type 'number'.",
			category: types.CategoryNeedsReasoning,
			rule:     "assignability",
		},
		{
			name:     "missing member",
			text:     "Property 'foo' does not exist on type 'Bar'.",
			category: types.CategoryNeedsReasoning,
			rule:     "missing-member",
		},
		{
			name:     "module resolution",
			text:     "Cannot find module './utils' or its corresponding type declarations.",
			category: types.CategoryNeedsReasoning,
			rule:     "module-resolution",
		},
		{
			name:     "unknown falls through to dependency warning",
			text:     "Something unusual happened",
			category: types.CategoryDependencyWarning,
			rule:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Classify(tt.text)
			assert.Equal(t, tt.category, r.Category)
			assert.Equal(t, tt.rule, r.Rule)
			assert.GreaterOrEqual(t, r.ComplexityScore, 0)
			assert.LessOrEqual(t, r.ComplexityScore, 100)
		})
	}
}

func TestClassifyScenarios(t *testing.T) {
	c := New()

	semi := c.Classify("Missing semicolon (semi)")
	assert.Equal(t, types.CategoryAutoFixable, semi.Category)
	assert.Less(t, semi.ComplexityScore, 20)

	constraint := c.Classify("Type 'X' does not satisfy the constraint 'Y'")
	assert.Equal(t, types.CategoryNeedsReasoning, constraint.Category)
	assert.GreaterOrEqual(t, constraint.ComplexityScore, 55)
}

func TestClassifyEmptyInput(t *testing.T) {
	c := New()
	for _, text := range []string{"", "   ", "\n\t"} {
		r := c.Classify(text)
		assert.Equal(t, types.CategoryDependencyWarning, r.Category)
		assert.Equal(t, 0, r.ComplexityScore)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()
	inputs := []string{
		"Type 'Promise<T>' is not assignable to type 'keyof U' because T extends infer V",
		"Missing semicolon (semi)",
		"Cannot find module 'lodash'",
		strings.Repeat("very long diagnostic ", 40),
	}

	for _, in := range inputs {
		first := c.Classify(in)
		for i := 0; i < 50; i++ {
			require.Equal(t, first, c.Classify(in))
		}
		// A fresh classifier with the same table agrees
		assert.Equal(t, first, New().Classify(in))
	}
}

func TestScoreClampedAndAdditive(t *testing.T) {
	c := New()

	// Every keyword plus a long message must still clamp at 100
	text := "generic constraint interface assignable Promise<T> extends infer keyof does not satisfy the constraint " +
		strings.Repeat("x", 500)
	assert.Equal(t, 100, c.Classify(text).ComplexityScore)

	// Keywords raise the score relative to the plain message
	plain := c.Classify("Type 'A' is not assignable to type 'B'")
	richer := c.Classify("Type 'A' is not assignable to type 'B' because it extends keyof C")
	assert.Greater(t, richer.ComplexityScore, plain.ComplexityScore)
}

func TestCustomRuleTable(t *testing.T) {
	c := New(DefaultRules()[5:]...) // drop formatter and dependency rules

	r := c.Classify("Missing semicolon (semi)")
	assert.Equal(t, types.CategoryDependencyWarning, r.Category, "without lint rules the default applies")
}

func TestDiagnose(t *testing.T) {
	c := New()

	d := c.Diagnose("src/app.ts(12,5): error TS2344: Type 'X' does not satisfy the constraint 'Y'", "/repo/src/app.ts")
	assert.Equal(t, "src/app.ts", d.FilePath)
	assert.Equal(t, 12, d.Line)
	assert.Equal(t, 5, d.Column)
	assert.Equal(t, "TS2344", d.Code)
	assert.Equal(t, types.CategoryNeedsReasoning, d.Category)
	assert.GreaterOrEqual(t, d.ComplexityScore, 55)
}

func TestDiagnoseUsesReportedOrigin(t *testing.T) {
	c := New()

	d := c.Diagnose("node_modules/lib/index.d.ts(1,1): error TS2344: Type 'X' does not satisfy the constraint 'Y'", "src/app.ts")
	assert.Equal(t, "node_modules/lib/index.d.ts", d.FilePath)
	assert.Equal(t, types.CategoryDependencyWarning, d.Category)
	assert.Equal(t, c.Classify("node_modules/lib/index.d.ts(1,1): error TS2344: Type 'X' does not satisfy the constraint 'Y'").Category, d.Category)

	// the checked file itself is never treated as a dependency
	d = c.Diagnose("types/api.d.ts(4,2): error TS2344: Type 'X' does not satisfy the constraint 'Y'", "types/api.d.ts")
	assert.Equal(t, types.CategoryNeedsReasoning, d.Category)
}

func TestSameFile(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"src/app.ts", "src/app.ts", true},
		{"src/app.ts", "/repo/src/app.ts", true},
		{"./src/app.ts", "src/app.ts", true},
		{"src/app.ts", "src/zapp.ts", false},
		{"node_modules/x/index.d.ts", "src/app.ts", false},
		{"", "", true},
		{"", "src/app.ts", false},
	}
	for _, tt := range tests {
		if got := sameFile(tt.a, tt.b); got != tt.want {
			t.Errorf("sameFile(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		file    string
		line    int
		column  int
		code    string
		message string
	}{
		{
			name:    "tsc parenthesized",
			raw:     "src/a.ts(3,14): error TS2322: Type 'string' is not assignable to type 'number'.",
			file:    "src/a.ts",
			line:    3,
			column:  14,
			code:    "TS2322",
			message: "Type 'string' is not assignable to type 'number'.",
		},
		{
			name:    "tsc pretty",
			raw:     "src/b.ts:7:1 - error TS2307: Cannot find module 'x'.",
			file:    "src/b.ts",
			line:    7,
			column:  1,
			code:    "TS2307",
			message: "Cannot find module 'x'.",
		},
		{
			name:    "eslint stylish",
			raw:     "  12:5  error  Missing semicolon  semi",
			file:    "/repo/c.ts",
			line:    12,
			column:  5,
			code:    "semi",
			message: "Missing semicolon (semi)",
		},
		{
			name:    "free text",
			raw:     "  Missing semicolon (semi)  ",
			file:    "/repo/c.ts",
			message: "Missing semicolon (semi)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseLine(tt.raw, "/repo/c.ts")
			assert.Equal(t, tt.file, d.FilePath)
			assert.Equal(t, tt.line, d.Line)
			assert.Equal(t, tt.column, d.Column)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.message, d.Message)
		})
	}
}
