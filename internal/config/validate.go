package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "invalid configuration: " + e.Violations[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report config keys rather than Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks ranges, enums and regex patterns. It returns a
// *ValidationError naming every violation, or nil.
func (c *Config) Validate() error {
	var violations []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			violations = append(violations, describe(fe))
		}
	}

	violations = append(violations, checkPatterns("always_escalate_patterns", c.AlwaysEscalatePatterns)...)
	violations = append(violations, checkPatterns("never_escalate_patterns", c.NeverEscalatePatterns)...)

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func checkPatterns(key string, patterns []string) []string {
	var out []string
	for i, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			out = append(out, fmt.Sprintf("%s[%d]: invalid regex %q: %v", key, i, p, err))
		}
	}
	return out
}

// describe turns a validator field error into "key: problem (got value)"
func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:] // drop the root type name
	}

	var problem string
	switch fe.Tag() {
	case "required":
		return key + ": is required"
	case "oneof":
		problem = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		problem = "must be greater than " + fe.Param()
	case "gte":
		problem = "must be at least " + fe.Param()
	case "lt":
		problem = "must be less than " + fe.Param()
	case "lte":
		problem = "must be at most " + fe.Param()
	case "min":
		problem = "must have at least " + fe.Param() + " entries"
	case "gtefield":
		problem = "must be at least " + toKey(fe.Param())
	default:
		problem = "failed " + fe.Tag() + " check"
	}
	return fmt.Sprintf("%s: %s (got %v)", key, problem, fe.Value())
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// toKey converts a Go field name like AverageWindow to average_window
func toKey(field string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(field, "${1}_${2}"))
}
