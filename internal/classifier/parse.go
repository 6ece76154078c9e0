package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/qgate/internal/types"
)

var (
	// src/a.ts(12,5): error TS2344: Type 'X' does not satisfy ...
	tscParenRegex = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s*(?:error|warning)\s+(TS\d+):\s*(.*)$`)

	// src/a.ts:12:5 - error TS2344: Type 'X' does not satisfy ...
	tscPrettyRegex = regexp.MustCompile(`^(.+?):(\d+):(\d+)\s+-\s+(?:error|warning)\s+(TS\d+):\s*(.*)$`)

	// eslint stylish:   12:5  error  Missing semicolon  semi
	eslintRegex = regexp.MustCompile(`^\s*(\d+):(\d+)\s+(?:error|warning)\s+(.+?)\s{2,}(\S+)\s*$`)
)

// ParseLine extracts location and message from one line of tool output.
// Unrecognized shapes keep the whole trimmed line as the message. The
// returned diagnostic is not yet classified.
func ParseLine(raw, filePath string) types.Diagnostic {
	line := strings.TrimSpace(raw)
	d := types.Diagnostic{Message: line, FilePath: filePath}

	if m := tscParenRegex.FindStringSubmatch(line); m != nil {
		d.FilePath = pickPath(m[1], filePath)
		d.Line = atoi(m[2])
		d.Column = atoi(m[3])
		d.Code = m[4]
		d.Message = m[5]
		return d
	}

	if m := tscPrettyRegex.FindStringSubmatch(line); m != nil {
		d.FilePath = pickPath(m[1], filePath)
		d.Line = atoi(m[2])
		d.Column = atoi(m[3])
		d.Code = m[4]
		d.Message = m[5]
		return d
	}

	if m := eslintRegex.FindStringSubmatch(raw); m != nil {
		d.Line = atoi(m[1])
		d.Column = atoi(m[2])
		d.Code = m[4]
		// Keep the rule id in the message so lint-origin rules can see it
		d.Message = m[3] + " (" + m[4] + ")"
		return d
	}

	return d
}

func pickPath(fromLine, fallback string) string {
	if fromLine != "" {
		return fromLine
	}
	return fallback
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
