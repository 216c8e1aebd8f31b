package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Resolve replaces every {{dotted.path}} token in s with the value found at
// that path in scope. Tokens whose path does not resolve are left exactly as
// written. Resolution is single-pass: resolved text is never rescanned.
func Resolve(s string, scope map[string]any) string {
	if !strings.Contains(s, openDelim) {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openDelim)
		if idx == -1 {
			out.WriteString(s[i:])
			break
		}
		out.WriteString(s[i : i+idx])
		start := i + idx + len(openDelim)

		end := strings.Index(s[start:], closeDelim)
		if end == -1 {
			// Unclosed token: emit the rest verbatim.
			out.WriteString(s[i+idx:])
			break
		}
		end += start
		token := s[i+idx : end+len(closeDelim)]

		path := strings.TrimSpace(s[start:end])
		val, ok := lookupToken(scope, path)
		if ok {
			out.WriteString(Stringify(val))
		} else {
			out.WriteString(token)
		}
		i = end + len(closeDelim)
	}

	return out.String()
}

// ResolveValue walks maps and slices and resolves every string it finds.
// A string that consists of a single token keeps the resolved value's type,
// so "{{outputs.rows}}" yields the rows slice rather than its JSON text.
func ResolveValue(v any, scope map[string]any) any {
	switch val := v.(type) {
	case string:
		if path, whole := wholeToken(val); whole {
			if resolved, ok := lookupToken(scope, path); ok {
				return resolved
			}
			return val
		}
		return Resolve(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ResolveValue(item, scope)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ResolveValue(item, scope)
		}
		return out
	default:
		return v
	}
}

// ResolveString resolves a config value to text. Non-string values are
// stringified first, nil yields "".
func ResolveString(v any, scope map[string]any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return Resolve(val, scope)
	default:
		return Stringify(val)
	}
}

// Lookup navigates root by a dot-delimited path. Map segments match keys,
// numeric segments index slices. The second result is false if any segment
// is missing.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(v) {
				return nil, false
			}
			current = v[n]
		case []map[string]any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(v) {
				return nil, false
			}
			current = v[n]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value as placeholder text: strings as-is,
// maps and slices as JSON, numbers without exponent, nil as "null".
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.RawMessage:
		return string(val)
	case map[string]any, []any, []map[string]any, []string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// lookupToken resolves a token path against the scope, trying the full path
// as a literal key first so keys containing dots still match.
func lookupToken(scope map[string]any, path string) (any, bool) {
	if path == "" || scope == nil {
		return nil, false
	}
	if v, ok := scope[path]; ok {
		return v, true
	}
	return Lookup(scope, path)
}

func wholeToken(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, openDelim) || !strings.HasSuffix(t, closeDelim) {
		return "", false
	}
	inner := t[len(openDelim) : len(t)-len(closeDelim)]
	if strings.Contains(inner, openDelim) || strings.Contains(inner, closeDelim) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}
