package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"
)

// maxResponseSize bounds the text decodeResponse will look at
const maxResponseSize = 1 << 20

var (
	// ```json ... ``` anywhere in the text; the language tag is optional
	fenceRegex = regexp.MustCompile("(?s)```(?:json|jsonc|javascript|js)?\\s*(.*?)\\s*```")

	// {verdict: ...} -> {"verdict": ...}
	bareKeyRegex = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
)

// A rewrite turns a response that failed to decode into the next candidate.
// Rewrites apply cumulatively, in order, until one candidate decodes.
type rewrite struct {
	name  string
	apply func(string) string
}

var responseRewrites = []rewrite{
	{"unfenced", unfence},
	{"jsonc", standardize},
	{"quoted keys", func(s string) string { return standardize(quoteBareKeys(s)) }},
	{"extracted", func(s string) string { return standardize(outermostValue(s)) }},
}

// decodeResponse decodes the JSON value in a model response. Models wrap
// JSON in code fences, leave comments and trailing commas, drop key quotes
// or surround the value with prose; each rewrite undoes one of those.
// Every failure wraps ErrInvalidResponse.
func decodeResponse[T any](text string) (T, error) {
	var zero T
	if len(text) > maxResponseSize {
		return zero, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidResponse, maxResponseSize)
	}
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return zero, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	v, firstErr := unmarshal[T](candidate)
	if firstErr == nil {
		return v, nil
	}
	for _, rw := range responseRewrites {
		next := rw.apply(candidate)
		if next == candidate || next == "" {
			continue
		}
		candidate = next
		if v, err := unmarshal[T](candidate); err == nil {
			return v, nil
		}
	}
	return zero, fmt.Errorf("%w: no JSON value found (%v)", ErrInvalidResponse, firstErr)
}

func unmarshal[T any](s string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func unfence(s string) string {
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// standardize strips comments and trailing commas; input hujson cannot
// parse is returned unchanged
func standardize(s string) string {
	out, err := hujson.Standardize([]byte(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(string(out))
}

func quoteBareKeys(s string) string {
	return bareKeyRegex.ReplaceAllString(s, `$1"$2":`)
}

// outermostValue cuts the widest {...} or [...] span out of s. Whichever
// bracket comes first wins, so an array of objects stays an array.
func outermostValue(s string) string {
	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return ""
	}
	closer := byte('}')
	if s[open] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= open {
		return ""
	}
	return s[open : end+1]
}
