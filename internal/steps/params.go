package steps

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
)

// Param helpers used by all handler files. Values may arrive as decoded
// JSON (float64), YAML (int) or template-resolved strings.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return defaultVal
		}
		return parsed
	default:
		return defaultVal
	}
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return defaultVal
		}
		return i
	default:
		return defaultVal
	}
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return defaultVal
		}
		return f
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

// durationParam reads a timeout given as milliseconds (number or numeric
// string) or as a Go duration string such as "1.5s".
func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return defaultVal
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return msDuration(ms, defaultVal)
		}
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
		return defaultVal
	default:
		return msDuration(floatParam(m, key, -1), defaultVal)
	}
}

func msDuration(ms float64, defaultVal time.Duration) time.Duration {
	if ms <= 0 {
		return defaultVal
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// resolvedString template-resolves a string param.
func resolvedString(cfg map[string]any, key string, scope map[string]any) string {
	return expressions.ResolveString(cfg[key], scope)
}

// resolvedConfig template-resolves every value of cfg.
func resolvedConfig(cfg map[string]any, scope map[string]any) map[string]any {
	resolved, _ := expressions.ResolveValue(cfg, scope).(map[string]any)
	if resolved == nil {
		return map[string]any{}
	}
	return resolved
}
