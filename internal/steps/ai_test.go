package steps

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	got  ai.AnalysisRequest
	out  any
	err  error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Analyze(_ context.Context, req ai.AnalysisRequest) (any, error) {
	f.got = req
	return f.out, f.err
}

func TestAIAnalysis_DelegatesToProvider(t *testing.T) {
	reg := ai.NewRegistry()
	p := &fakeProvider{name: "local", out: map[string]any{"label": "invoice"}}
	require.NoError(t, reg.Register(p))

	h := NewAIAnalysisHandler(reg)
	res := h.Execute(context.Background(), map[string]any{
		"provider":     "local",
		"analysisType": "classification",
		"prompt":       "Classify {{inputs.name}}",
		"input":        "{{outputs.text}}",
		"temperature":  0.5,
		"maxTokens":    100,
	}, runData(map[string]any{"text": "total due"}, map[string]any{"name": "a.pdf"}))
	requireSuccess(t, res)
	assert.Equal(t, map[string]any{"label": "invoice"}, res.Output)
	assert.Equal(t, "Classify a.pdf", p.got.Prompt)
	assert.Equal(t, "total due", p.got.Input)
	assert.Equal(t, 0.5, p.got.Temperature)
	assert.Equal(t, 100, p.got.MaxTokens)
}

func TestAIAnalysis_MissingProvider(t *testing.T) {
	h := NewAIAnalysisHandler(ai.NewRegistry())
	res := h.Execute(context.Background(), map[string]any{"provider": "ghost", "prompt": "x"}, runData(nil, nil))
	requireFailure(t, res, `ai provider "ghost" is not configured`)

	res = NewAIAnalysisHandler(nil).Execute(context.Background(), map[string]any{"prompt": "x"}, runData(nil, nil))
	requireFailure(t, res, "not configured")
}
