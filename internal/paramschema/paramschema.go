// Package paramschema validates strategy parameter maps against a
// draft-07-flavoured schema subset: type, properties, required,
// minimum/maximum, enum, and items. It reports every violation rather than
// stopping at the first.
package paramschema

import (
	"fmt"
	"math"
	"reflect"
)

// Issue is one validation failure, addressed by parameter field.
type Issue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Schema is a decoded JSON schema object. Nil pointer fields mean "not
// constrained".
type Schema struct {
	Type       string             `json:"type,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
}

// Validate checks params against the schema and returns every issue found.
// An empty slice means the params are valid. A nil schema accepts anything.
func Validate(schema *Schema, params map[string]any) []Issue {
	if schema == nil {
		return nil
	}
	return validateValue(schema, "", params, nil)
}

func validateValue(s *Schema, field string, v any, issues []Issue) []Issue {
	if s == nil {
		return issues
	}

	if s.Type != "" {
		ok, reason := checkType(s.Type, v)
		if !ok {
			return append(issues, Issue{Field: orRoot(field), Reason: reason})
		}
	}

	if len(s.Enum) > 0 {
		found := false
		for _, allowed := range s.Enum {
			if looseEqual(allowed, v) {
				found = true
				break
			}
		}
		if !found {
			issues = append(issues, Issue{Field: orRoot(field), Reason: fmt.Sprintf("value %v is not one of the allowed values", v)})
		}
	}

	if n, ok := asNumber(v); ok {
		if s.Minimum != nil && n < *s.Minimum {
			issues = append(issues, Issue{Field: orRoot(field), Reason: fmt.Sprintf("value %v is below the minimum %v", n, *s.Minimum)})
		}
		if s.Maximum != nil && n > *s.Maximum {
			issues = append(issues, Issue{Field: orRoot(field), Reason: fmt.Sprintf("value %v is above the maximum %v", n, *s.Maximum)})
		}
	}

	if obj, ok := v.(map[string]any); ok {
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				issues = append(issues, Issue{Field: join(field, req), Reason: "required parameter is missing"})
			}
		}
		for name, sub := range s.Properties {
			if val, present := obj[name]; present {
				issues = validateValue(sub, join(field, name), val, issues)
			}
		}
	}

	if list, ok := v.([]any); ok && s.Items != nil {
		for i, item := range list {
			issues = validateValue(s.Items, fmt.Sprintf("%s[%d]", orRoot(field), i), item, issues)
		}
	}

	return issues
}

func checkType(want string, v any) (bool, string) {
	switch want {
	case "number":
		if _, ok := asNumber(v); ok {
			return true, ""
		}
	case "integer":
		if n, ok := asNumber(v); ok {
			if n == math.Trunc(n) {
				return true, ""
			}
			return false, fmt.Sprintf("value %v is not an integer", n)
		}
	case "string":
		if _, ok := v.(string); ok {
			return true, ""
		}
	case "boolean":
		if _, ok := v.(bool); ok {
			return true, ""
		}
	case "array":
		if _, ok := v.([]any); ok {
			return true, ""
		}
	case "object":
		if _, ok := v.(map[string]any); ok {
			return true, ""
		}
	default:
		return false, fmt.Sprintf("schema type %q is not supported", want)
	}
	return false, fmt.Sprintf("expected %s, got %s", want, typeOf(v))
}

// asNumber accepts the numeric shapes JSON decoding and Go callers produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func looseEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := asNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func orRoot(field string) string {
	if field == "" {
		return "params"
	}
	return field
}

func join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
