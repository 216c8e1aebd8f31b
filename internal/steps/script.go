package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

// ScriptConfig configures the SCRIPT handler.
type ScriptConfig struct {
	DefaultTimeout time.Duration
}

const scriptSchema = `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1},
    "input": {},
    "timeout": {"type": ["number", "string"]}
  },
  "required": ["code"]
}`

// ScriptHandler implements SCRIPT on the expr-lang sandbox. Programs see
// outputs, steps, context, inputs and input, plus a log(...) function.
type ScriptHandler struct {
	engine *expressions.ExprEngine
	cfg    ScriptConfig
	logger *slog.Logger
}

// NewScriptHandler creates a SCRIPT handler.
func NewScriptHandler(engine *expressions.ExprEngine, cfg ScriptConfig, logger *slog.Logger) *ScriptHandler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = expressions.DefaultScriptTimeout
	}
	return &ScriptHandler{engine: engine, cfg: cfg, logger: logging.Or(logger)}
}

func (h *ScriptHandler) Type() schema.StepType { return schema.StepScript }

func (h *ScriptHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Evaluate a sandboxed expr-lang program over prior outputs.",
		ConfigSchema: json.RawMessage(scriptSchema),
	}
}

func (h *ScriptHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	code := stringParam(cfg, "code", "")
	if strings.TrimSpace(code) == "" {
		return schema.Failed("script code is required")
	}

	env := data.Scope()
	env["input"] = expressions.ResolveValue(cfg["input"], env)

	logger := logging.LogWith(ctx, h.logger)
	out, err := h.engine.RunScript(ctx, expressions.ScriptRequest{
		Code:    code,
		Env:     env,
		Timeout: durationParam(cfg, "timeout", h.cfg.DefaultTimeout),
		Log: func(args ...any) {
			logger.Info("script log", "message", strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		},
	})
	if err != nil {
		return fail(err)
	}
	return schema.Succeeded("script executed", out)
}
