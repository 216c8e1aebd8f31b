package steps

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

const databaseOperationSchema = `{
  "type": "object",
  "properties": {
    "operation": {"type": "string", "enum": ["create","read","update","delete"]},
    "model": {"type": "string", "enum": ["file","recommendation","notification"]},
    "data": {},
    "query": {}
  },
  "required": ["operation", "model"]
}`

// DatabaseOperationHandler implements DATABASE_OPERATION over a RecordStore.
type DatabaseOperationHandler struct {
	records store.RecordStore
	now     func() time.Time
}

// NewDatabaseOperationHandler creates a DATABASE_OPERATION handler.
func NewDatabaseOperationHandler(records store.RecordStore) *DatabaseOperationHandler {
	return &DatabaseOperationHandler{records: records, now: time.Now}
}

func (h *DatabaseOperationHandler) Type() schema.StepType { return schema.StepDatabaseOperation }

func (h *DatabaseOperationHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Create, read, update or delete file, recommendation and notification records.",
		ConfigSchema: json.RawMessage(databaseOperationSchema),
	}
}

func (h *DatabaseOperationHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	if h.records == nil {
		return schema.Failed("record store is not configured")
	}
	scope := data.Scope()

	op := stringParam(cfg, "operation", "")
	model := stringParam(cfg, "model", "")
	if !store.ValidModel(model) {
		return schema.Failed("unsupported model type: " + model)
	}

	fields, _ := expressions.ResolveValue(cfg["data"], scope).(map[string]any)
	query, _ := expressions.ResolveValue(cfg["query"], scope).(map[string]any)
	id := stringParam(query, "id", "")

	switch op {
	case "create":
		if fields == nil {
			fields = map[string]any{}
		}
		now := h.now().UTC()
		rec := &store.Record{
			ID:        uuid.NewString(),
			Model:     model,
			UserID:    data.Context.UserID,
			Data:      fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.records.CreateRecord(ctx, rec); err != nil {
			return fail(err)
		}
		return schema.Succeeded(model+" created", rec.AsMap())

	case "read":
		q := store.RecordQuery{ID: id, UserID: stringParam(query, "userId", ""), Limit: intParam(query, "limit", 0)}
		for k, v := range query {
			switch k {
			case "id", "userId", "limit":
			default:
				if q.Where == nil {
					q.Where = map[string]any{}
				}
				q.Where[k] = v
			}
		}
		recs, err := h.records.ReadRecords(ctx, model, q)
		if err != nil {
			return fail(err)
		}
		out := make([]any, len(recs))
		for i, r := range recs {
			out[i] = r.AsMap()
		}
		return schema.Succeeded(model+" read", out)

	case "update":
		if id == "" {
			return schema.Failed("update requires query.id")
		}
		rec, err := h.records.UpdateRecord(ctx, model, id, fields)
		if err != nil {
			return fail(err)
		}
		return schema.Succeeded(model+" updated", rec.AsMap())

	case "delete":
		if id == "" {
			return schema.Failed("delete requires query.id")
		}
		if err := h.records.DeleteRecord(ctx, model, id); err != nil {
			return fail(err)
		}
		return schema.Succeeded(model+" deleted", map[string]any{"id": id, "deleted": true})

	default:
		return schema.Failed("unsupported database operation: " + op)
	}
}
