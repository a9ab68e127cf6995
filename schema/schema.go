// Package schema validates untyped job payloads against a declarative field
// list. Adding a field to a Schema never changes the validator itself.
package schema

import (
	"fmt"
	"math"
	"strings"
)

// Type is the primitive type tag a field must carry.
type Type string

// Supported type tags. The names match JSON value kinds.
const (
	String  Type = "string"
	Number  Type = "number"
	Integer Type = "integer"
	Boolean Type = "boolean"
	Object  Type = "object"
	Array   Type = "array"
)

// Field declares one payload key.
type Field struct {
	Name     string
	Type     Type
	Required bool
	// NonEmpty rejects strings that are blank after trimming.
	NonEmpty bool
}

// Schema is an ordered list of fields. Problems are reported in this order.
type Schema []Field

// Record is a validated payload holding only declared, present fields.
type Record map[string]any

// GetString returns the named field as a string.
func (r Record) GetString(name string) (string, bool) {
	v, ok := r[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether the field was present in the payload.
func (r Record) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// ValidationError carries every problem found in a payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Validate checks payload against s. It never stops at the first problem:
// either a Record is returned with a nil slice, or a nil Record with every
// field-level problem.
//
// A key mapped to nil counts as absent. Keys not declared in s are ignored.
// This is a pure function with no side effects.
func Validate(payload map[string]any, s Schema) (Record, []string) {
	var problems []string
	record := make(Record, len(s))

	for _, f := range s {
		value, present := payload[f.Name]
		if !present || value == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}

		if !matches(f.Type, value) {
			problems = append(problems, fmt.Sprintf("%s must be of type %s", f.Name, f.Type))
			continue
		}

		if f.NonEmpty {
			if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
				problems = append(problems, fmt.Sprintf("%s must not be empty", f.Name))
				continue
			}
		}

		record[f.Name] = value
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return record, nil
}

// ValidateErr is Validate with the problems folded into a *ValidationError.
func ValidateErr(payload map[string]any, s Schema) (Record, error) {
	record, problems := Validate(payload, s)
	if problems != nil {
		return nil, &ValidationError{Problems: problems}
	}
	return record, nil
}

// matches reports whether value has the JSON kind named by t.
// Numbers are accepted in any Go numeric type so payloads built in code
// validate the same as payloads decoded from JSON (float64).
func matches(t Type, value any) bool {
	switch t {
	case String:
		_, ok := value.(string)
		return ok
	case Boolean:
		_, ok := value.(bool)
		return ok
	case Number:
		_, ok := toFloat(value)
		return ok
	case Integer:
		f, ok := toFloat(value)
		return ok && !math.IsInf(f, 0) && f == math.Trunc(f)
	case Object:
		_, ok := value.(map[string]any)
		return ok
	case Array:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
