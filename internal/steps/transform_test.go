package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transformHandler() *DataTransformHandler {
	return NewDataTransformHandler(expressions.NewExprEngine(0), expressions.NewGoJQEngine(), FileConfig{}, nil)
}

func transform(t *testing.T, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	t.Helper()
	if data == nil {
		data = runData(nil, nil)
	}
	return transformHandler().Execute(context.Background(), cfg, data)
}

func TestJSONToCSV_QuotingAndCells(t *testing.T) {
	res := transform(t, map[string]any{
		"operation": "json_to_csv",
		"headers":   []any{"name", "note", "meta", "n", "missing"},
		"input": []any{
			map[string]any{"name": "a,b", "note": `say "hi"`, "meta": map[string]any{"k": 1}, "n": 1.5},
			map[string]any{"name": "line\nbreak", "note": nil, "n": 2},
		},
	}, nil)
	requireSuccess(t, res)
	want := "name,note,meta,n,missing\n" +
		`"a,b","say ""hi""","{""k"":1}",1.5,` + "\n" +
		"\"line\nbreak\",,,2,"
	assert.Equal(t, want, res.Output)
}

func TestJSONToCSV_HeadersFromFirstObjectSorted(t *testing.T) {
	res := transform(t, map[string]any{
		"operation": "json_to_csv",
		"input":     `[{"b":"2","a":"1"}]`,
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, "a,b\n1,2", res.Output)
}

func TestJSONToCSV_RejectsNonObjects(t *testing.T) {
	res := transform(t, map[string]any{"operation": "json_to_csv", "input": []any{1, 2}}, nil)
	requireFailure(t, res, "array of objects")

	res = transform(t, map[string]any{"operation": "json_to_csv", "input": "not json"}, nil)
	requireFailure(t, res, "requires array input")
}

func TestCSVToJSON_QuotedFieldsAndSkippedRows(t *testing.T) {
	input := "name,note\n" +
		`"a,b","multi` + "\n" + `line"` + "\n" +
		"only-one-field\n" +
		`x,"he said ""yo"""`
	res := transform(t, map[string]any{"operation": "csv_to_json", "input": input}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{
		map[string]any{"name": "a,b", "note": "multi\nline"},
		map[string]any{"name": "x", "note": `he said "yo"`},
	}, res.Output)
}

func TestCSVToJSON_BareQuotesInUnquotedField(t *testing.T) {
	input := "name,height\nBob,5'11\"\nAna,6\"\"\n"
	res := transform(t, map[string]any{"operation": "csv_to_json", "input": input}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{
		map[string]any{"name": "Bob", "height": `5'11"`},
		map[string]any{"name": "Ana", "height": `6""`},
	}, res.Output)
}

func TestCSVToJSON_ConfigHeaders(t *testing.T) {
	res := transform(t, map[string]any{
		"operation": "csv_to_json",
		"headers":   []any{"k", "v"},
		"input":     "a,1\nb,2",
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{
		map[string]any{"k": "a", "v": "1"},
		map[string]any{"k": "b", "v": "2"},
	}, res.Output)
}

func TestCSVRoundTrip(t *testing.T) {
	rows := []any{
		map[string]any{"city": "Paris, FR", "quote": `"bonjour"`, "text": "two\nlines"},
		map[string]any{"city": "Lima", "quote": "", "text": "plain"},
	}
	data := runData(map[string]any{"rows": rows}, nil)

	csvRes := transform(t, map[string]any{"operation": "json_to_csv", "inputName": "rows"}, data)
	requireSuccess(t, csvRes)
	data.Outputs["csv"] = csvRes.Output

	back := transform(t, map[string]any{"operation": "csv_to_json", "inputName": "csv"}, data)
	requireSuccess(t, back)
	assert.Equal(t, rows, back.Output)
}

func TestJSONFilter(t *testing.T) {
	input := []any{
		map[string]any{"name": "a", "age": 40},
		map[string]any{"name": "b", "age": 20},
		map[string]any{"name": "c"},
	}
	res := transform(t, map[string]any{
		"operation": "json_filter",
		"input":     input,
		"condition": "age > 30",
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{input[0]}, res.Output)

	res = transform(t, map[string]any{"operation": "json_filter", "input": input, "condition": "age >"}, nil)
	requireFailure(t, res, "compile error")

	res = transform(t, map[string]any{"operation": "json_filter", "input": input}, nil)
	requireFailure(t, res, "requires a condition")
}

func TestJSONMap(t *testing.T) {
	res := transform(t, map[string]any{
		"operation": "json_map",
		"input": []any{
			map[string]any{"user": map[string]any{"name": "ann", "tags": []any{"x", "y"}}},
		},
		"mapping": map[string]any{"who": "user.name", "first": "user.tags.0", "none": "user.age"},
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{map[string]any{"who": "ann", "first": "x", "none": nil}}, res.Output)
}

func TestTextExtract(t *testing.T) {
	res := transform(t, map[string]any{
		"operation": "text_extract",
		"input":     "Order A-12 and a-7, then B-3",
		"pattern":   `a-\d+`,
		"flags":     "gi",
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{"A-12", "a-7"}, res.Output)

	res = transform(t, map[string]any{
		"operation":   "text_extract",
		"input":       "head <b>bold</b> tail <b>again</b>",
		"startMarker": "<b>",
		"endMarker":   "</b>",
	}, nil)
	requireSuccess(t, res)
	assert.Equal(t, "bold", res.Output)

	res = transform(t, map[string]any{"operation": "text_extract", "input": "x"}, nil)
	requireFailure(t, res, "requires a pattern")

	res = transform(t, map[string]any{"operation": "text_extract", "input": "x", "pattern": "(", "flags": ""}, nil)
	requireFailure(t, res, "invalid pattern")

	res = transform(t, map[string]any{"operation": "text_extract", "input": "x", "pattern": "x", "flags": "y"}, nil)
	requireFailure(t, res, "unsupported regex flag")
}

func TestJSONQuery(t *testing.T) {
	data := runData(map[string]any{"items": []any{
		map[string]any{"id": 1, "ok": true},
		map[string]any{"id": 2, "ok": false},
	}}, nil)
	res := transform(t, map[string]any{
		"operation": "json_query",
		"inputName": "items",
		"query":     "[.[] | select(.ok) | .id]",
	}, data)
	requireSuccess(t, res)
	assert.Equal(t, []any{1}, res.Output)
}

func TestTransform_InputSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1"), 0o644))

	res := transform(t, map[string]any{"operation": "csv_to_json", "inputFile": path}, nil)
	requireSuccess(t, res)
	assert.Equal(t, []any{map[string]any{"a": "1"}}, res.Output)

	res = transform(t, map[string]any{"operation": "csv_to_json", "inputName": "absent"}, nil)
	requireFailure(t, res, `no output named "absent"`)

	res = transform(t, map[string]any{"operation": "csv_to_json"}, nil)
	requireFailure(t, res, "no input provided")

	res = transform(t, map[string]any{"operation": "zip", "input": "x"}, nil)
	requireFailure(t, res, "unsupported transform operation")
}

func TestTransform_InlineTemplateInput(t *testing.T) {
	data := runData(map[string]any{"rows": []any{map[string]any{"a": "1"}}}, nil)
	res := transform(t, map[string]any{"operation": "json_to_csv", "input": "{{outputs.rows}}"}, data)
	requireSuccess(t, res)
	assert.Equal(t, "a\n1", res.Output)
}
