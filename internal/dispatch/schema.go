package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parley-ai/parley/pkg/types"
)

// ValidateArgs checks the call's JSON arguments against the tool's parameter
// schema and returns the decoded argument map. The schema dialect is the
// subset the reasoning backends actually emit for function parameters:
// object type, per-property "type" and "enum", and "required".
//
// All violations are reported at once via [errors.Join].
func ValidateArgs(def types.ToolDefinition, raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}
	if def.Parameters == nil {
		return args, nil
	}

	props, _ := def.Parameters["properties"].(map[string]any)
	var errs []error

	if required, ok := def.Parameters["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				errs = append(errs, fmt.Errorf("missing required argument %q", name))
			}
		}
	}

	for name, val := range args {
		spec, ok := props[name].(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown argument %q", name))
			continue
		}
		if typ, ok := spec["type"].(string); ok {
			if err := checkType(name, typ, val); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if enum, ok := spec["enum"].([]any); ok {
			if err := checkEnum(name, enum, val); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return args, nil
}

// checkType verifies val against a JSON Schema primitive type name.
// json.Unmarshal decodes all numbers to float64, so "integer" additionally
// checks the value is whole.
func checkType(name, typ string, val any) error {
	ok := false
	switch typ {
	case "string":
		_, ok = val.(string)
	case "number":
		_, ok = val.(float64)
	case "integer":
		f, isNum := val.(float64)
		ok = isNum && f == float64(int64(f))
	case "boolean":
		_, ok = val.(bool)
	case "array":
		_, ok = val.([]any)
	case "object":
		_, ok = val.(map[string]any)
	default:
		// Unknown schema type; accept rather than reject valid calls.
		return nil
	}
	if !ok {
		return fmt.Errorf("argument %q: expected %s, got %T", name, typ, val)
	}
	return nil
}

func checkEnum(name string, enum []any, val any) error {
	for _, allowed := range enum {
		if allowed == val {
			return nil
		}
	}
	return fmt.Errorf("argument %q: value %v not in enum %v", name, val, enum)
}
