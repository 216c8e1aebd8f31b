package scheduler

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoflow/pkg/schema"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseTriggerConfig turns a SCHEDULE trigger config into a cron schedule
// and a human-readable description of it.
func ParseTriggerConfig(cfg map[string]any) (cron.Schedule, string, error) {
	if len(cfg) == 0 {
		return nil, "", configErr("schedule trigger config is missing")
	}
	kind, _ := cfg["type"].(string)

	switch kind {
	case schema.ScheduleCron:
		expr, _ := cfg["expression"].(string)
		if expr == "" {
			return nil, "", configErr("cron schedule requires an expression")
		}
		sched, err := parser.Parse(expr)
		if err != nil {
			return nil, "", configErr("invalid cron expression %q: %s", expr, err.Error())
		}
		return sched, expr, nil

	case schema.ScheduleInterval:
		d, err := intervalOf(cfg)
		if err != nil {
			return nil, "", err
		}
		return cron.Every(d), "@every " + d.String(), nil

	case schema.ScheduleDaily, schema.ScheduleWeekly, schema.ScheduleMonthly:
		expr, err := calendarExpr(kind, cfg)
		if err != nil {
			return nil, "", err
		}
		sched, err := parser.Parse(expr)
		if err != nil {
			return nil, "", configErr("invalid %s schedule: %s", kind, err.Error())
		}
		return sched, expr, nil

	case "":
		return nil, "", configErr("schedule type is required")
	default:
		return nil, "", configErr("unsupported schedule type %q", kind)
	}
}

func intervalOf(cfg map[string]any) (time.Duration, error) {
	var ms float64
	for _, f := range []struct {
		key  string
		unit float64
	}{
		{"minutes", 60_000},
		{"hours", 3_600_000},
		{"days", 86_400_000},
	} {
		v, err := number(cfg, f.key, 0)
		if err != nil {
			return 0, err
		}
		if v < 0 {
			return 0, configErr("%s must not be negative", f.key)
		}
		ms += v * f.unit
	}

	d := time.Duration(ms) * time.Millisecond
	if d < MinInterval {
		return 0, configErr("interval of %dms is below the minimum of %dms", int64(ms), MinInterval.Milliseconds())
	}
	return d, nil
}

func calendarExpr(kind string, cfg map[string]any) (string, error) {
	hour, err := intField(cfg, "hour", 0, 0, 23)
	if err != nil {
		return "", err
	}
	minute, err := intField(cfg, "minute", 0, 0, 59)
	if err != nil {
		return "", err
	}

	switch kind {
	case schema.ScheduleWeekly:
		dow, err := intField(cfg, "dayOfWeek", 0, 0, 6)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, dow), nil
	case schema.ScheduleMonthly:
		dom, err := intField(cfg, "dayOfMonth", 1, 1, 31)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, dom), nil
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}
}

func intField(cfg map[string]any, key string, def, lo, hi int) (int, error) {
	v, err := number(cfg, key, float64(def))
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v < float64(lo) || v > float64(hi) {
		return 0, configErr("%s must be an integer between %d and %d, got %v", key, lo, hi, v)
	}
	return int(v), nil
}

func number(cfg map[string]any, key string, def float64) (float64, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, configErr("%s must be a number, got %q", key, v)
		}
		return f, nil
	default:
		return 0, configErr("%s must be a number, got %T", key, v)
	}
}

func configErr(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeConfiguration, format, args...)
}
