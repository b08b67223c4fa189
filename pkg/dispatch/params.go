package dispatch

import (
	"github.com/theapemachine/synapse/pkg/errors"
)

/*
StringParam extracts a required string parameter, mapping absence and type
mismatches to an invalid-params error.
*/
func StringParam(params map[string]any, key string) (string, *errors.RpcError) {
	value, ok := params[key]

	if !ok || value == nil {
		return "", missingParam(key)
	}

	text, ok := value.(string)

	if !ok {
		return "", wrongTypeParam(key, "string")
	}

	return text, nil
}

func OptionalStringParam(
	params map[string]any, key, fallback string,
) (string, *errors.RpcError) {
	value, ok := params[key]

	if !ok || value == nil {
		return fallback, nil
	}

	text, ok := value.(string)

	if !ok {
		return "", wrongTypeParam(key, "string")
	}

	return text, nil
}

func OptionalBoolParam(
	params map[string]any, key string, fallback bool,
) (bool, *errors.RpcError) {
	value, ok := params[key]

	if !ok || value == nil {
		return fallback, nil
	}

	flag, ok := value.(bool)

	if !ok {
		return false, wrongTypeParam(key, "boolean")
	}

	return flag, nil
}

// OptionalIntParam accepts both native ints and the float64 values JSON
// decoding produces, rejecting fractional numbers.
func OptionalIntParam(
	params map[string]any, key string, fallback int,
) (int, *errors.RpcError) {
	value, ok := params[key]

	if !ok || value == nil {
		return fallback, nil
	}

	switch number := value.(type) {
	case int:
		return number, nil
	case float64:
		if number != float64(int(number)) {
			return 0, wrongTypeParam(key, "integer")
		}

		return int(number), nil
	default:
		return 0, wrongTypeParam(key, "integer")
	}
}

// ObjectParam extracts a required nested object parameter.
func ObjectParam(params map[string]any, key string) (map[string]any, *errors.RpcError) {
	value, ok := params[key]

	if !ok || value == nil {
		return nil, missingParam(key)
	}

	object, ok := value.(map[string]any)

	if !ok {
		return nil, errors.ErrInvalidParams.WithData("parameter '" + key + "' must be an object")
	}

	return object, nil
}

func missingParam(key string) *errors.RpcError {
	return errors.ErrInvalidParams.WithData("missing required parameter: " + key)
}

func wrongTypeParam(key, expected string) *errors.RpcError {
	return errors.ErrInvalidParams.WithData("parameter '" + key + "' must be a " + expected)
}
