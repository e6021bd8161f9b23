package usecase

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Typed accessors over decoded JSON (map[string]any). Every accessor
// tolerates missing keys and wrong types by returning the zero value.

func objectAt(src map[string]any, path ...string) map[string]any {
	current := src
	for _, key := range path {
		if current == nil {
			return nil
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func objectsAt(src map[string]any, key string) []map[string]any {
	if src == nil {
		return nil
	}
	items, ok := src[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func stringAt(src map[string]any, key string) string {
	if src == nil {
		return ""
	}
	switch typed := src[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		if typed == math.Trunc(typed) && !math.IsInf(typed, 0) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return ""
	}
}

func firstString(src map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringAt(src, key); v != "" {
			return v
		}
	}
	return ""
}

func floatAt(src map[string]any, key string) *float64 {
	if src == nil {
		return nil
	}
	return asFloat(src[key])
}

func firstFloat(src map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v := floatAt(src, key); v != nil {
			return v
		}
	}
	return nil
}

func asFloat(raw any) *float64 {
	var v float64
	switch typed := raw.(type) {
	case float64:
		v = typed
	case float32:
		v = float64(typed)
	case int:
		v = float64(typed)
	case int64:
		v = float64(typed)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return nil
		}
		v = parsed
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func intAt(src map[string]any, key string) (int, bool) {
	v := floatAt(src, key)
	if v == nil {
		return 0, false
	}
	return int(*v), true
}

func boolAt(src map[string]any, key string) *bool {
	if src == nil {
		return nil
	}
	switch typed := src[key].(type) {
	case bool:
		return &typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

// timeAt accepts RFC3339 strings and unix milliseconds.
func timeAt(src map[string]any, key string) *time.Time {
	if src == nil {
		return nil
	}
	switch typed := src[key].(type) {
	case string:
		value := strings.TrimSpace(typed)
		if value == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
			if parsed, err := time.Parse(layout, value); err == nil {
				t := parsed.UTC()
				return &t
			}
		}
		return nil
	case float64:
		if typed <= 0 || math.IsInf(typed, 0) || math.IsNaN(typed) {
			return nil
		}
		t := time.UnixMilli(int64(typed)).UTC()
		return &t
	default:
		return nil
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
