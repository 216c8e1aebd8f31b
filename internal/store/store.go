package store

import (
	"context"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// WorkflowStore reads workflow definitions and updates run counters.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	// RecordRun folds one terminal run into executionCount and
	// averageExecutionTime and sets lastRunAt.
	RecordRun(ctx context.Context, id string, duration time.Duration, at time.Time) error
	TouchLastRun(ctx context.Context, id string, at time.Time) error
}

// ExecutionRecorder creates and updates execution records. Updates to a
// record that is no longer RUNNING fail with CONFLICT.
type ExecutionRecorder interface {
	CreateExecution(ctx context.Context, exec *schema.WorkflowExecution) error
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error)
}

// FileCatalog stores file records for FILE_IMPORT and FILE_EXPORT.
type FileCatalog interface {
	CreateFile(ctx context.Context, f *FileRecord) error
	GetFile(ctx context.Context, id string) (*FileRecord, error)
}

// NotificationStore stores system notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
}

// RecordStore is the generic CRUD surface of DATABASE_OPERATION.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *Record) error
	ReadRecords(ctx context.Context, model string, query RecordQuery) ([]*Record, error)
	UpdateRecord(ctx context.Context, model, id string, patch map[string]any) (*Record, error)
	DeleteRecord(ctx context.Context, model, id string) error
}

// SecretStore persists encrypted secret blobs for the vault.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// Store composes every collaborator contract.
// All implementations must be safe for concurrent use.
type Store interface {
	WorkflowStore
	ExecutionRecorder
	FileCatalog
	NotificationStore
	RecordStore
	SecretStore

	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
