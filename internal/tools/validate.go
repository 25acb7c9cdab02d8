package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValidateArgs checks args against the tool's declared schema: required
// fields, JSON types, enum membership and numeric bounds. Unknown args are
// ignored. All violations are reported together.
func ValidateArgs(t *Tool, args map[string]any) error {
	var problems []string

	for _, name := range t.Spec.InputSchema.Required {
		if v, ok := args[name]; !ok || v == nil {
			problems = append(problems, fmt.Sprintf("missing required argument %q", name))
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := args[name]
		if v == nil {
			continue
		}
		prop, ok := t.Spec.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		if msg := checkProperty(prop, v); msg != "" {
			problems = append(problems, fmt.Sprintf("argument %q %s", name, msg))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid arguments for %s: %s", t.Name(), strings.Join(problems, "; "))
	}
	return nil
}

func checkProperty(prop map[string]any, v any) string {
	typ, _ := prop["type"].(string)
	switch typ {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("must be a string, got %T", v)
		}
		if enum := stringList(prop["enum"]); len(enum) > 0 && !contains(enum, s) {
			return fmt.Sprintf("must be one of [%s]", strings.Join(enum, ", "))
		}
	case "number", "integer":
		n, ok := AsFloat(v)
		if !ok {
			return fmt.Sprintf("must be a number, got %T", v)
		}
		if typ == "integer" && n != math.Trunc(n) {
			return "must be an integer"
		}
		if lo, ok := AsFloat(prop["minimum"]); ok && n < lo {
			return fmt.Sprintf("must be >= %g", lo)
		}
		if hi, ok := AsFloat(prop["maximum"]); ok && n > hi {
			return fmt.Sprintf("must be <= %g", hi)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("must be a boolean, got %T", v)
		}
	case "array":
		switch v.(type) {
		case []any, []string, []float64, []map[string]any:
		default:
			return fmt.Sprintf("must be an array, got %T", v)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("must be an object, got %T", v)
		}
	}
	return ""
}

// AsFloat converts JSON-ish numeric values to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// AsString returns v as a string when it is one.
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
