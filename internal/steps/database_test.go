package steps

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseOperation_CRUD(t *testing.T) {
	mem := newMemStore()
	h := NewDatabaseOperationHandler(mem)
	data := runData(map[string]any{"score": 0.8}, nil)
	ctx := context.Background()

	res := h.Execute(ctx, map[string]any{
		"operation": "create",
		"model":     "recommendation",
		"data":      map[string]any{"title": "archive old files", "score": "{{outputs.score}}"},
	}, data)
	requireSuccess(t, res)
	created := res.Output.(map[string]any)
	id := created["id"].(string)
	assert.Equal(t, "user-1", created["userId"])
	assert.Equal(t, 0.8, created["score"])

	res = h.Execute(ctx, map[string]any{
		"operation": "read",
		"model":     "recommendation",
		"query":     map[string]any{"title": "archive old files"},
	}, data)
	requireSuccess(t, res)
	require.Len(t, res.Output, 1)

	res = h.Execute(ctx, map[string]any{
		"operation": "update",
		"model":     "recommendation",
		"query":     map[string]any{"id": id},
		"data":      map[string]any{"title": "done"},
	}, data)
	requireSuccess(t, res)
	assert.Equal(t, "done", res.Output.(map[string]any)["title"])

	res = h.Execute(ctx, map[string]any{
		"operation": "delete",
		"model":     "recommendation",
		"query":     map[string]any{"id": id},
	}, data)
	requireSuccess(t, res)
	recs, err := mem.ReadRecords(ctx, store.ModelRecommendation, store.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDatabaseOperation_Rejections(t *testing.T) {
	h := NewDatabaseOperationHandler(newMemStore())
	ctx := context.Background()

	requireFailure(t, h.Execute(ctx, map[string]any{"operation": "update", "model": "file"}, runData(nil, nil)), "update requires query.id")
	requireFailure(t, h.Execute(ctx, map[string]any{"operation": "delete", "model": "file", "query": map[string]any{}}, runData(nil, nil)), "delete requires query.id")
	requireFailure(t, h.Execute(ctx, map[string]any{"operation": "read", "model": "user"}, runData(nil, nil)), "unsupported model type")
	requireFailure(t, h.Execute(ctx, map[string]any{"operation": "upsert", "model": "file"}, runData(nil, nil)), "unsupported database operation")
	requireFailure(t, h.Execute(ctx, map[string]any{"operation": "delete", "model": "file", "query": map[string]any{"id": "x"}}, runData(nil, nil)), "not found")
}
