package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Model types reachable through DATABASE_OPERATION.
const (
	ModelFile           = "file"
	ModelRecommendation = "recommendation"
	ModelNotification   = "notification"
)

// Models lists the accepted model types.
var Models = []string{ModelFile, ModelRecommendation, ModelNotification}

// ValidModel reports whether m is a known model type.
func ValidModel(m string) bool {
	for _, known := range Models {
		if m == known {
			return true
		}
	}
	return false
}

// WorkflowFilter selects workflows in ListWorkflows.
type WorkflowFilter struct {
	UserID      string
	TriggerType schema.TriggerType
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// ExecutionUpdate carries the fields to change. Nil fields are left untouched.
type ExecutionUpdate struct {
	Status  *schema.ExecutionStatus
	EndTime *time.Time
	Logs    json.RawMessage
	Error   *string
}

// ExecutionFilter selects executions in ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	Limit      int
}

// Record is a generic model row. Data holds the model's fields.
type Record struct {
	ID        string         `json:"id"`
	Model     string         `json:"model"`
	UserID    string         `json:"userId,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// AsMap flattens the record into a single map: data fields plus id,
// userId and timestamps.
func (r *Record) AsMap() map[string]any {
	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["id"] = r.ID
	if r.UserID != "" {
		out["userId"] = r.UserID
	}
	out["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
	out["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339)
	return out
}

// RecordQuery selects records. ID, when set, matches exactly one record.
// Where matches top-level data fields by equality.
type RecordQuery struct {
	ID     string
	UserID string
	Where  map[string]any
	Limit  int
}

// FileRecord is the catalog entry created by FILE_IMPORT.
// Stored as a "file" Record.
type FileRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	UserID      string    `json:"userId,omitempty"`
	IsProcessed bool      `json:"isProcessed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Notification is a system notification. Stored as a "notification" Record.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
