package oplog

// ApplyModifiers applies the $set/$unset/$inc modifiers of o onto a copy
// of base and returns the result, never mutating base. This is the
// "temporary store" spec.md §6.3 describes computing a modifier update's
// new body against: the caller supplies the last acked local item's body
// as base.
func ApplyModifiers(base map[string]interface{}, o map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}

	if set, ok := o["$set"].(map[string]interface{}); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if unset, ok := o["$unset"].(map[string]interface{}); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	if inc, ok := o["$inc"].(map[string]interface{}); ok {
		for k, v := range inc {
			out[k] = addNumeric(out[k], v)
		}
	}
	return out
}

func addNumeric(current, delta interface{}) interface{} {
	c, cok := asFloat(current)
	d, dok := asFloat(delta)
	if !dok {
		return current
	}
	if !cok {
		return delta
	}
	return c + d
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
