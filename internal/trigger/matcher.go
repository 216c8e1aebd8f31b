// Package trigger decides which workflows an incoming event starts and
// submits runs for them.
package trigger

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/pkg/schema"
)

// Event is the payload of a FILE_EVENT, API or MANUAL trigger. Recognized
// keys: eventType, filePath, endpoint, method.
type Event map[string]any

func (e Event) str(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Matcher evaluates workflow trigger configs against events.
type Matcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewMatcher creates a Matcher. Both arguments may be nil.
func NewMatcher(logger *slog.Logger, m *metrics.Metrics) *Matcher {
	return &Matcher{logger: logging.Or(logger), metrics: m}
}

var defaultMatcher = NewMatcher(nil, nil)

// CheckTriggerConditions reports whether event should start wf, using a
// matcher that logs to slog.Default.
func CheckTriggerConditions(wf *schema.Workflow, event Event) bool {
	return defaultMatcher.Check(wf, event)
}

// Check reports whether event should start wf. It never panics and never
// returns an error: anything that goes wrong while evaluating counts as no
// match.
func (m *Matcher) Check(wf *schema.Workflow, event Event) (matched bool) {
	if wf == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			m.evalError(wf, schema.NewErrorf(schema.ErrCodeTriggerEvaluation, "trigger evaluation panicked: %v", r))
			matched = false
		}
		m.metrics.TriggerEvaluated(string(wf.TriggerType), matched)
	}()

	ok, err := m.check(wf, event)
	if err != nil {
		m.evalError(wf, err)
		return false
	}
	return ok
}

func (m *Matcher) check(wf *schema.Workflow, event Event) (bool, error) {
	if len(wf.TriggerConfig) == 0 {
		return true, nil
	}
	if event == nil {
		event = Event{}
	}

	switch wf.TriggerType {
	case schema.TriggerManual, schema.TriggerSchedule:
		return true, nil
	case schema.TriggerFileEvent:
		return matchFileEvent(wf.TriggerConfig, event)
	case schema.TriggerAPI:
		return matchAPI(wf.TriggerConfig, event), nil
	default:
		return false, nil
	}
}

func (m *Matcher) evalError(wf *schema.Workflow, err error) {
	fe, ok := err.(*schema.FlowError)
	if !ok {
		fe = schema.NewError(schema.ErrCodeTriggerEvaluation, err.Error()).WithCause(err)
	}
	m.logger.Warn("trigger evaluation failed",
		"workflow_id", wf.ID,
		"trigger_type", string(wf.TriggerType),
		"code", fe.Code,
		"error", fe.Message)
}

func matchFileEvent(cfg map[string]any, event Event) (bool, error) {
	eventTypes, err := stringList(cfg, "eventTypes")
	if err != nil {
		return false, err
	}
	if len(eventTypes) > 0 && !slices.Contains(eventTypes, event.str("eventType")) {
		return false, nil
	}

	filePath := strings.ReplaceAll(event.str("filePath"), `\`, "/")

	patterns, err := stringList(cfg, "pathPatterns")
	if err != nil {
		return false, err
	}
	if len(patterns) > 0 {
		hit := false
		for _, p := range patterns {
			ok, err := matchPath(p, filePath)
			if err != nil {
				return false, err
			}
			if ok {
				hit = true
				break
			}
		}
		if !hit {
			return false, nil
		}
	}

	exts, err := stringList(cfg, "fileExtensions")
	if err != nil {
		return false, err
	}
	if len(exts) > 0 {
		ext := fileExt(filePath)
		found := false
		for _, e := range exts {
			if strings.ToLower(strings.TrimPrefix(e, ".")) == ext {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	return true, nil
}

// matchPath accepts a substring hit or a glob match. A "**" in the pattern
// matches any number of directories: the text before it must prefix the
// path and the last pattern segment must match the base name.
func matchPath(pattern, filePath string) (bool, error) {
	if pattern == "" {
		return false, nil
	}
	if strings.Contains(filePath, pattern) {
		return true, nil
	}

	ok, err := path.Match(pattern, filePath)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeTriggerEvaluation, "invalid path pattern %q: %s", pattern, err.Error())
	}
	if ok {
		return true, nil
	}

	idx := strings.Index(pattern, "**")
	if idx < 0 {
		return false, nil
	}
	if !strings.HasPrefix(filePath, pattern[:idx]) {
		return false, nil
	}
	return path.Match(path.Base(pattern), path.Base(filePath))
}

func matchAPI(cfg map[string]any, event Event) bool {
	if want, _ := cfg["endpoint"].(string); want != "" && want != event.str("endpoint") {
		return false
	}
	if want, _ := cfg["method"].(string); want != "" && !strings.EqualFold(want, event.str("method")) {
		return false
	}
	return true
}

func stringList(cfg map[string]any, key string) ([]string, error) {
	switch v := cfg[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeTriggerEvaluation, "%s entries must be strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{v}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeTriggerEvaluation, "%s must be a list, got %T", key, v)
	}
}

// fileExt returns the lowercased extension without its dot. Leading dots of
// the base name are not separators, so ".bashrc" has none and ".env.json"
// has "json".
func fileExt(p string) string {
	base := strings.TrimLeft(path.Base(p), ".")
	return strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
}
