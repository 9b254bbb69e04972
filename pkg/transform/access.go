package transform

import (
	"encoding/json"
	"math"
)

// lookup walks nested objects by key. Any non-object along the way, or a
// missing key, means absent.
func lookup(v interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if v, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return v, true
}

// truthy treats null, false, "", and zero as empty. Objects and arrays,
// even empty ones, count as set.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	default:
		return true
	}
}
