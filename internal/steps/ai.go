package steps

import (
	"context"
	"encoding/json"

	"github.com/rendis/autoflow/internal/ai"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

const defaultAIProvider = "openai"

const aiAnalysisSchema = `{
  "type": "object",
  "properties": {
    "provider": {"type": "string"},
    "analysisType": {"type": "string"},
    "prompt": {"type": "string"},
    "input": {},
    "model": {"type": "string"},
    "temperature": {"type": ["number", "string"]},
    "maxTokens": {"type": ["integer", "string"]}
  }
}`

// AIAnalysisHandler implements AI_ANALYSIS over the provider registry.
type AIAnalysisHandler struct {
	providers *ai.Registry
}

// NewAIAnalysisHandler creates an AI_ANALYSIS handler.
func NewAIAnalysisHandler(providers *ai.Registry) *AIAnalysisHandler {
	return &AIAnalysisHandler{providers: providers}
}

func (h *AIAnalysisHandler) Type() schema.StepType { return schema.StepAIAnalysis }

func (h *AIAnalysisHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Send a prompt and input to a named AI provider.",
		ConfigSchema: json.RawMessage(aiAnalysisSchema),
	}
}

func (h *AIAnalysisHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	scope := data.Scope()

	name := resolvedString(cfg, "provider", scope)
	if name == "" {
		name = defaultAIProvider
	}
	if h.providers == nil {
		return schema.Failed("ai provider " + name + " is not configured")
	}
	provider, err := h.providers.Get(name)
	if err != nil {
		return fail(err)
	}

	req := ai.AnalysisRequest{
		AnalysisType: resolvedString(cfg, "analysisType", scope),
		Prompt:       resolvedString(cfg, "prompt", scope),
		Input:        expressions.ResolveValue(cfg["input"], scope),
		Model:        resolvedString(cfg, "model", scope),
		Temperature:  floatParam(cfg, "temperature", 0),
		MaxTokens:    intParam(cfg, "maxTokens", 0),
	}
	if req.Prompt == "" && req.Input == nil {
		return schema.Failed("ai analysis requires a prompt or input")
	}

	out, err := provider.Analyze(ctx, req)
	if err != nil {
		return fail(err)
	}
	return schema.Succeeded("analysis completed by "+provider.Name(), out)
}
