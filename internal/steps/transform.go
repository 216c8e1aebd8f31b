package steps

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/isolation"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

const dataTransformSchema = `{
  "type": "object",
  "properties": {
    "operation": {"type": "string", "enum": ["json_to_csv","csv_to_json","json_filter","json_map","text_extract","json_query"]},
    "input": {},
    "inputName": {"type": "string"},
    "inputFile": {"type": "string"},
    "headers": {"type": "array", "items": {"type": "string"}},
    "condition": {"type": "string"},
    "mapping": {"type": "object", "additionalProperties": {"type": "string"}},
    "pattern": {"type": "string"},
    "flags": {"type": "string"},
    "startMarker": {"type": "string"},
    "endMarker": {"type": "string"},
    "query": {"type": "string"}
  },
  "required": ["operation"]
}`

// DataTransformHandler implements DATA_TRANSFORM.
type DataTransformHandler struct {
	expr   *expressions.ExprEngine
	jq     *expressions.GoJQEngine
	files  FileConfig
	logger *slog.Logger
}

// NewDataTransformHandler creates a DATA_TRANSFORM handler.
func NewDataTransformHandler(expr *expressions.ExprEngine, jq *expressions.GoJQEngine, files FileConfig, logger *slog.Logger) *DataTransformHandler {
	return &DataTransformHandler{expr: expr, jq: jq, files: files.withDefaults(), logger: logging.Or(logger)}
}

func (h *DataTransformHandler) Type() schema.StepType { return schema.StepDataTransform }

func (h *DataTransformHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Convert, filter, map, extract or query step data.",
		ConfigSchema: json.RawMessage(dataTransformSchema),
	}
}

func (h *DataTransformHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	op := stringParam(cfg, "operation", "")
	input, err := h.input(cfg, data)
	if err != nil {
		return fail(err)
	}

	var out any
	switch op {
	case "json_to_csv":
		out, err = jsonToCSV(input, stringList(cfg["headers"]))
	case "csv_to_json":
		out, err = h.csvToJSON(ctx, input, stringList(cfg["headers"]))
	case "json_filter":
		out, err = h.jsonFilter(ctx, input, stringParam(cfg, "condition", ""))
	case "json_map":
		out, err = jsonMap(input, mapParam(cfg, "mapping"))
	case "text_extract":
		out, err = textExtract(input, cfg)
	case "json_query":
		query := stringParam(cfg, "query", "")
		if query == "" {
			return schema.Failed("json_query requires a query")
		}
		out, err = h.jq.Query(ctx, query, decodeJSONText(input))
	case "":
		return schema.Failed("transform operation is required")
	default:
		return schema.Failed("unsupported transform operation: " + op)
	}
	if err != nil {
		return fail(err)
	}
	return schema.Succeeded(op+" completed", out)
}

// input picks the transform input: inline input, then a named prior output,
// then the content of inputFile.
func (h *DataTransformHandler) input(cfg map[string]any, data *schema.ExecutionData) (any, error) {
	scope := data.Scope()
	if raw, ok := cfg["input"]; ok && raw != nil {
		return expressions.ResolveValue(raw, scope), nil
	}
	if name := resolvedString(cfg, "inputName", scope); name != "" {
		v, ok := data.Outputs[name]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no output named %q", name)
		}
		return v, nil
	}
	if path := resolvedString(cfg, "inputFile", scope); path != "" {
		if err := h.files.Policy.Check(path, isolation.AccessRead); err != nil {
			return nil, err
		}
		return readLimited(path, h.files.MaxReadSize)
	}
	return nil, schema.NewError(schema.ErrCodeValidation, "no input provided: set input, inputName or inputFile")
}

// --- json_to_csv ---

func jsonToCSV(input any, headers []string) (string, error) {
	items, err := arrayInput(input, "json_to_csv")
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return strings.Join(quoteRow(headers), ","), nil
	}

	rows := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"json_to_csv requires an array of objects; item %d is %T", i, item)
		}
		rows[i] = obj
	}

	if len(headers) == 0 {
		for k := range rows[0] {
			headers = append(headers, k)
		}
		sort.Strings(headers)
	}

	var b strings.Builder
	b.WriteString(strings.Join(quoteRow(headers), ","))
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i, col := range headers {
			cells[i] = csvCell(row[col])
		}
		b.WriteByte('\n')
		b.WriteString(strings.Join(quoteRow(cells), ","))
	}
	return b.String(), nil
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return expressions.Stringify(val)
	}
}

// quoteRow quotes cells containing a comma, quote or line break.
func quoteRow(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if strings.ContainsAny(c, ",\"\n\r") {
			c = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		out[i] = c
	}
	return out
}

// --- csv_to_json ---

func (h *DataTransformHandler) csvToJSON(ctx context.Context, input any, headers []string) ([]any, error) {
	text, ok := input.(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "csv_to_json requires string input, got %T", input)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	// Hand-written CSV often carries bare quotes, as in 5'11".
	r.LazyQuotes = true

	logger := logging.LogWith(ctx, h.logger)
	rows := []any{}
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid CSV: %s", err.Error()).WithCause(err)
		}
		line++
		if len(headers) == 0 {
			headers = record
			continue
		}
		if len(record) != len(headers) {
			logger.Warn("skipping CSV row with mismatched field count",
				"row", line, "fields", len(record), "expected", len(headers))
			continue
		}
		obj := make(map[string]any, len(headers))
		for i, col := range headers {
			obj[col] = record[i]
		}
		rows = append(rows, obj)
	}
	return rows, nil
}

// --- json_filter ---

func (h *DataTransformHandler) jsonFilter(ctx context.Context, input any, condition string) ([]any, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "json_filter requires a condition")
	}
	items, err := arrayInput(input, "json_filter")
	if err != nil {
		return nil, err
	}

	logger := logging.LogWith(ctx, h.logger)
	out := []any{}
	for i, item := range items {
		env := map[string]any{"item": item, "index": i}
		if obj, ok := item.(map[string]any); ok {
			for k, v := range obj {
				if _, reserved := env[k]; !reserved {
					env[k] = v
				}
			}
		}
		v, err := h.expr.Evaluate(ctx, condition, env)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeValidation) {
				return nil, err
			}
			logger.Debug("json_filter predicate failed; item excluded", "index", i, "error", err)
			continue
		}
		if keep, ok := v.(bool); ok && keep {
			out = append(out, item)
		}
	}
	return out, nil
}

// --- json_map ---

func jsonMap(input any, mapping map[string]any) ([]any, error) {
	if len(mapping) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "json_map requires a mapping")
	}
	items, err := arrayInput(input, "json_map")
	if err != nil {
		return nil, err
	}

	out := make([]any, len(items))
	for i, item := range items {
		obj := make(map[string]any, len(mapping))
		for target, src := range mapping {
			path, _ := src.(string)
			v, _ := expressions.Lookup(item, path)
			obj[target] = v
		}
		out[i] = obj
	}
	return out, nil
}

// --- text_extract ---

func textExtract(input any, cfg map[string]any) (any, error) {
	text, ok := input.(string)
	if !ok {
		text = expressions.Stringify(input)
	}

	if pattern := stringParam(cfg, "pattern", ""); pattern != "" {
		re, err := compilePattern(pattern, stringParam(cfg, "flags", ""))
		if err != nil {
			return nil, err
		}
		matches := re.FindAllString(text, -1)
		out := make([]any, len(matches))
		for i, m := range matches {
			out[i] = m
		}
		return out, nil
	}

	start := stringParam(cfg, "startMarker", "")
	end := stringParam(cfg, "endMarker", "")
	if start != "" && end != "" {
		i := strings.Index(text, start)
		if i < 0 {
			return nil, nil
		}
		rest := text[i+len(start):]
		j := strings.Index(rest, end)
		if j < 0 {
			return nil, nil
		}
		return rest[:j], nil
	}

	return nil, schema.NewError(schema.ErrCodeValidation,
		"text_extract requires a pattern or both startMarker and endMarker")
}

// compilePattern maps i, m and s flags onto Go inline flags. g is accepted
// and ignored since every match is collected.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u':
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported regex flag %q", string(f))
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid pattern: %s", err.Error()).WithCause(err)
	}
	return re, nil
}

// --- helpers ---

// arrayInput accepts a slice or a JSON array string.
func arrayInput(input any, op string) ([]any, error) {
	switch v := decodeJSONText(input).(type) {
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s requires array input, got %T", op, input)
	}
}

// decodeJSONText parses strings holding JSON objects or arrays.
func decodeJSONText(input any) any {
	s, ok := input.(string)
	if !ok {
		return input
	}
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "[") && !strings.HasPrefix(t, "{") {
		return input
	}
	var v any
	if err := json.Unmarshal([]byte(t), &v); err != nil {
		return input
	}
	return v
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}
