package validation

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

var scheduleTypes = map[string]bool{
	schema.ScheduleCron:     true,
	schema.ScheduleInterval: true,
	schema.ScheduleDaily:    true,
	schema.ScheduleWeekly:   true,
	schema.ScheduleMonthly:  true,
}

// validateSemantic checks what the JSON Schema cannot express: registered
// handlers, trigger config shape per trigger type, and CONDITIONAL branches.
func validateSemantic(wf *schema.Workflow, lookup HandlerLookup) []string {
	var violations []string

	violations = append(violations, validateTrigger(wf)...)

	for i := range wf.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		violations = append(violations, validateStep(&wf.Steps[i], path, lookup)...)
	}

	return violations
}

func validateTrigger(wf *schema.Workflow) []string {
	cfg := wf.TriggerConfig
	var out []string

	switch wf.TriggerType {
	case schema.TriggerSchedule:
		if len(cfg) == 0 {
			return []string{"triggerConfig: SCHEDULE workflows require a schedule config"}
		}
		typ, _ := cfg["type"].(string)
		if !scheduleTypes[typ] {
			out = append(out, fmt.Sprintf("triggerConfig.type: unknown schedule type %q", typ))
		}
		if typ == schema.ScheduleCron {
			if expr, _ := cfg["expression"].(string); expr == "" {
				out = append(out, "triggerConfig.expression: cron schedules require an expression")
			}
		}
	case schema.TriggerFileEvent:
		for _, key := range []string{"eventTypes", "pathPatterns", "fileExtensions"} {
			if v, ok := cfg[key]; ok && !isStringList(v) {
				out = append(out, fmt.Sprintf("triggerConfig.%s: must be a list of strings", key))
			}
		}
	case schema.TriggerAPI:
		for _, key := range []string{"endpoint", "method"} {
			if v, ok := cfg[key]; ok {
				if _, isStr := v.(string); !isStr {
					out = append(out, fmt.Sprintf("triggerConfig.%s: must be a string", key))
				}
			}
		}
	}

	return out
}

func validateStep(step *schema.Step, path string, lookup HandlerLookup) []string {
	var out []string

	if lookup != nil && !lookup.Has(step.Type) {
		out = append(out, fmt.Sprintf("%s.type: no handler registered for %q", path, step.Type))
	}

	if step.Type != schema.StepConditional {
		return out
	}

	if cond, _ := step.Config["condition"].(string); cond == "" {
		out = append(out, path+".config.condition: CONDITIONAL steps require a condition")
	}
	for _, branch := range []string{"trueStep", "falseStep"} {
		raw, ok := step.Config[branch]
		if !ok || raw == nil {
			continue
		}
		nested, err := schema.StepFromMap(raw)
		if err != nil {
			out = append(out, fmt.Sprintf("%s.config.%s: %s", path, branch, err.Error()))
			continue
		}
		out = append(out, validateStep(nested, path+".config."+branch, lookup)...)
	}

	return out
}

func isStringList(v any) bool {
	switch list := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}
