package toolregistry

import (
	"strconv"
	"strings"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

// ValidateArguments checks an argument map against a schema and returns the
// coerced copy. Unknown keys are rejected, required keys enforced, and
// string values coerced to the declared type where the documented rules
// allow: "true"/"false" case-insensitive for booleans, decimal integer
// literals for integers.
func ValidateArguments(schema ports.ParameterSchema, args map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(args))

	for key, value := range args {
		prop, known := schema.Properties[key]
		if !known {
			return nil, nerrors.Newf(nerrors.KindValidation, "unknown parameter %q", key)
		}
		coerced, err := coerce(key, prop.Type, value)
		if err != nil {
			return nil, err
		}
		validated[key] = coerced
	}

	for _, key := range schema.Required {
		if _, present := validated[key]; !present {
			return nil, nerrors.Newf(nerrors.KindValidation, "missing required parameter %q", key)
		}
	}
	return validated, nil
}

func coerce(key, want string, value any) (any, error) {
	switch want {
	case "string", "":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, typeError(key, want, value)

	case "boolean", "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, typeError(key, want, value)

	case "integer", "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			// JSON numbers arrive as float64; accept only whole values.
			if v == float64(int(v)) {
				return int(v), nil
			}
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, nil
			}
		}
		return nil, typeError(key, want, value)

	case "array":
		switch value.(type) {
		case []any, []string:
			return value, nil
		}
		return nil, typeError(key, want, value)

	case "object":
		if _, ok := value.(map[string]any); ok {
			return value, nil
		}
		return nil, typeError(key, want, value)

	default:
		return nil, nerrors.Newf(nerrors.KindValidation, "parameter %q has unsupported schema type %q", key, want)
	}
}

func typeError(key, want string, value any) error {
	return nerrors.Newf(nerrors.KindValidation, "parameter %q must be a %s, got %T", key, want, value)
}
