package util

// DeepCopy copies the JSON-like containers reachable from src
// (map[string]interface{}, []interface{}, map[string]string, []string).
// Other values are returned as-is and are expected to be immutable.
func DeepCopy(src interface{}) interface{} {
	switch v := src.(type) {
	case map[string]interface{}:
		return DeepCopyMap(v)
	case []interface{}:
		if v == nil {
			return v
		}
		cpy := make([]interface{}, len(v))
		for i, item := range v {
			cpy[i] = DeepCopy(item)
		}
		return cpy
	case map[string]string:
		if v == nil {
			return v
		}
		cpy := make(map[string]string, len(v))
		for k, s := range v {
			cpy[k] = s
		}
		return cpy
	case []string:
		if v == nil {
			return v
		}
		return append([]string(nil), v...)
	default:
		return src
	}
}

// DeepCopyMap is DeepCopy specialised for the common top-level shape.
func DeepCopyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	cpy := make(map[string]interface{}, len(src))
	for k, v := range src {
		cpy[k] = DeepCopy(v)
	}
	return cpy
}
