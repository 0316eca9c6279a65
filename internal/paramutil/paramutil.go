// Package paramutil reads typed values out of rule params and the
// execution context, which both hold decoded YAML/JSON data.
package paramutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func GetOptionalString(params map[string]interface{}, key string) (string, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return "", false, nil
	}
	s, ok := value.(string)
	if !ok {
		return "", false, rferrors.NewConfigError(fmt.Sprintf("parameter '%s' must be a string, got %T", key, value), nil)
	}
	return s, true, nil
}

// GetStringOr returns the string param or def when it is absent.
func GetStringOr(params map[string]interface{}, key, def string) (string, error) {
	s, ok, err := GetOptionalString(params, key)
	if err != nil || !ok {
		return def, err
	}
	return s, nil
}

// GetOptionalStringMap accepts maps whose values are strings or scalars;
// scalars are formatted with fmt.
func GetOptionalStringMap(params map[string]interface{}, key string) (map[string]string, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return nil, false, nil
	}
	m, err := ToStringMap(value)
	if err != nil {
		return nil, false, rferrors.NewConfigError(fmt.Sprintf("parameter '%s'", key), err)
	}
	return m, true, nil
}

func GetOptionalInt(params map[string]interface{}, key string) (int, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return 0, false, nil
	}
	f, err := ToFloat(value)
	if err != nil || f != float64(int(f)) {
		return 0, false, rferrors.NewConfigError(fmt.Sprintf("parameter '%s' must be a whole number, got %v", key, value), nil)
	}
	return int(f), true, nil
}

func GetOptionalBool(params map[string]interface{}, key string) (bool, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return false, false, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, false, rferrors.NewConfigError(fmt.Sprintf("parameter '%s' must be a boolean, got %T", key, value), nil)
	}
	return b, true, nil
}

// RequireKeys returns a ValidationError naming every key missing from input.
func RequireKeys(input state.Reader, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !input.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return rferrors.NewValidationError("missing required context keys: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Float reads a numeric context value. Strings holding numbers are accepted
// since API clients often send them quoted.
func Float(input state.Reader, key string) (float64, error) {
	value, ok := input.Get(key)
	if !ok || value == nil {
		return 0, rferrors.NewValidationError(fmt.Sprintf("missing required context key '%s'", key), nil)
	}
	f, err := ToFloat(value)
	if err != nil {
		return 0, rferrors.NewValidationError(fmt.Sprintf("context key '%s'", key), err)
	}
	return f, nil
}

// FloatOr is Float with a default for absent keys.
func FloatOr(input state.Reader, key string, def float64) (float64, error) {
	if value, ok := input.Get(key); !ok || value == nil {
		return def, nil
	}
	return Float(input, key)
}

// ToFloat converts the numeric shapes produced by YAML, JSON and SQL
// drivers to float64.
func ToFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("'%s' is not a number", v)
		}
		return f, nil
	case []byte:
		return ToFloat(string(v))
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

// ToStringMap converts map[string]interface{} or map[string]string into a
// string map.
func ToStringMap(value interface{}) (map[string]string, error) {
	switch m := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, v := range m {
			switch sv := v.(type) {
			case string:
				out[k] = sv
			case nil:
				out[k] = ""
			case map[string]interface{}, []interface{}:
				return nil, fmt.Errorf("value of '%s' must be a scalar, got %T", k, v)
			default:
				out[k] = fmt.Sprint(sv)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a map, got %T", value)
	}
}

// String reads a context value as text. Outcomes of upstream rules are not
// unwrapped.
func String(input state.Reader, key string) (string, error) {
	value, ok := input.Get(key)
	if !ok || value == nil {
		return "", rferrors.NewValidationError(fmt.Sprintf("missing required context key '%s'", key), nil)
	}
	s, ok := value.(string)
	if !ok {
		return "", rferrors.NewValidationError(fmt.Sprintf("context key '%s' must be a string, got %T", key, value), nil)
	}
	return s, nil
}

// Strings reads a list of text values, as decoded from JSON or YAML.
func Strings(input state.Reader, key string) ([]string, error) {
	value, ok := input.Get(key)
	if !ok || value == nil {
		return nil, rferrors.NewValidationError(fmt.Sprintf("missing required context key '%s'", key), nil)
	}
	switch list := value.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, rferrors.NewValidationError(fmt.Sprintf("context key '%s' item %d must be a string, got %T", key, i, item), nil)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, rferrors.NewValidationError(fmt.Sprintf("context key '%s' must be a list, got %T", key, value), nil)
	}
}
