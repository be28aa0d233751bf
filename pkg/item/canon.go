package item

import (
	"bytes"
	"encoding/json"
	"sort"
)

// CanonicalJSON renders v as JSON with map keys in sorted order, so that
// two semantically equal attribute values always serialize identically
// (spec.md §9, "dynamic object keys").
func CanonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// deepEqualJSON reports whether a and b serialize to the same canonical
// JSON, the definition of "equal value" used throughout merge3 (spec.md
// §4.C: "present in both with different JSON-serialized values").
func deepEqualJSON(a, b interface{}) bool {
	ab, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	bb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// DeepEqualJSON is the exported form of deepEqualJSON, used by pkg/merge
// to decide whether two attribute values are equal under spec.md §4.C.
func DeepEqualJSON(a, b interface{}) bool {
	return deepEqualJSON(a, b)
}
