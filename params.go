package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamType is the logical type of a declared parameter.
type ParamType string

// Logical parameter types.
const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
	TypeAny     ParamType = "any"
)

// Param declares a single named parameter of a tool, prompt or method.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	// Default is used when the caller omits the parameter. It is ignored for required params.
	Default any
}

// Arguments holds validated call arguments. Numbers are float64, integers are int64 and
// nested objects and arrays hold plain decoded JSON values.
type Arguments map[string]any

// String returns the named argument as a string, or "" if it is absent or not a string.
func (a Arguments) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Float returns the named argument as a float64. Integer arguments are converted.
func (a Arguments) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns the named argument as an int64. Number arguments are truncated.
func (a Arguments) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns the named argument as a bool.
func (a Arguments) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeAny:
		return true
	}
	return false
}

func checkParams(params []Param) error {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter without a name", ErrInvalidDescriptor)
		}
		if !p.Type.valid() {
			return fmt.Errorf("%w: parameter %q has unknown type %q", ErrInvalidDescriptor, p.Name, p.Type)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("%w: parameter %q declared twice", ErrInvalidDescriptor, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// decodeParams decodes a params object. Absent or null params decode to an empty object.
func decodeParams(raw json.RawMessage) (map[string]any, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] != '{' {
		return nil, invalidParams("params must be an object", "params", string(TypeObject))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, invalidParams(fmt.Sprintf("failed to decode params: %s", err), "params", string(TypeObject))
	}
	return m, nil
}

// validateArguments checks values against the declared params in declaration order and
// reports the first failing parameter. Undeclared values are dropped.
func validateArguments(params []Param, values map[string]any) (Arguments, *Error) {
	args := make(Arguments, len(params))
	for _, p := range params {
		v, ok := values[p.Name]
		if ok && v == nil && p.Type != TypeAny {
			ok = false
		}
		if !ok {
			if p.Required {
				return nil, invalidParams(fmt.Sprintf("missing required parameter %q", p.Name), p.Name, string(p.Type))
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		nv, ok := coerce(p.Type, v)
		if !ok {
			return nil, invalidParams(fmt.Sprintf("parameter %q must be of type %s", p.Name, p.Type),
				p.Name, string(p.Type))
		}
		args[p.Name] = nv
	}
	return args, nil
}

func coerce(t ParamType, v any) (any, bool) {
	switch t {
	case TypeAny:
		return v, true
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeBoolean:
		b, ok := v.(bool)
		return b, ok
	case TypeNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return nil, false
		}
		return int64(f), true
	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		return m, true
	case TypeArray:
		s, ok := v.([]any)
		return s, ok
	}
	return nil, false
}

// normalize replaces json.Number values with float64 so handlers see plain Go values.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = normalize(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalize(e)
		}
		return v
	}
	return v
}

// inputSchema renders the declared params as a JSON Schema object.
func inputSchema(params []Param) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		prop := &jsonschema.Schema{Description: p.Description}
		if p.Type != TypeAny {
			prop.Type = string(p.Type)
		}
		if p.Default != nil {
			prop.Description = strings.TrimSpace(fmt.Sprintf("%s (default: %v)", p.Description, p.Default))
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
