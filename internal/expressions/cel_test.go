package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func celScope() map[string]any {
	return map[string]any{
		"outputs": map[string]any{
			"rows":   []any{map[string]any{"name": "Alice"}, map[string]any{"name": "Bob"}},
			"status": float64(200),
		},
		"steps": []any{
			map[string]any{"index": 0, "name": "fetch", "status": "success"},
		},
		"context": map[string]any{"source": "file_event", "userId": "u-1"},
		"inputs":  map[string]any{"filePath": "/data/report.csv", "eventType": "created"},
	}
}

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_ConditionOverRunScope(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"outputs size", "size(outputs.rows) == 2", true},
		{"numeric output", "outputs.status >= 200.0 && outputs.status < 300.0", true},
		{"context source", `context.source == "file_event"`, true},
		{"inputs suffix", `inputs.filePath.endsWith(".txt")`, false},
		{"steps list", `steps[0].status == "success"`, true},
		{"exists macro", `outputs.rows.exists(r, r.name == "Bob")`, true},
		{"key presence", `has(outputs.missing)`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(context.Background(), tt.expr, celScope())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCEL_NonBooleanRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), `"yes"`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_EmptyAndCompileErrors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = e.Evaluate(context.Background(), "outputs.status ==", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = e.Evaluate(context.Background(), "unknownVar == 1", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_RuntimeErrorMissingKey(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "outputs.nothing == 1", celScope())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_MissingVariablesDefaultToEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	got, err := e.EvaluateBool(context.Background(), "size(steps) == 0 && size(outputs) == 0", nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCEL_CancelledContext(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Evaluate(ctx, "true", nil)
	assert.Equal(t, schema.ErrCodeTimeout, schema.CodeOf(err))
}

func TestCEL_ProgramCachingConcurrent(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.EvaluateBool(context.Background(), "size(outputs.rows) > 1", celScope())
			assert.NoError(t, err)
			assert.True(t, got)
		}()
	}
	wg.Wait()

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
