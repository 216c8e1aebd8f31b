package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/autoflow/internal/isolation"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

const fileImportSchema = `{
  "type": "object",
  "properties": {
    "sourcePath": {"type": "string", "minLength": 1},
    "category": {"type": "string"},
    "source": {"type": "string"}
  },
  "required": ["sourcePath"]
}`

const fileExportSchema = `{
  "type": "object",
  "properties": {
    "fileId": {"type": "string", "minLength": 1},
    "targetPath": {"type": "string", "minLength": 1},
    "overwrite": {"type": ["boolean", "string"]}
  },
  "required": ["fileId", "targetPath"]
}`

// FileImportHandler implements FILE_IMPORT: it catalogs an existing file.
type FileImportHandler struct {
	catalog store.FileCatalog
	policy  *isolation.PathPolicy
	now     func() time.Time
}

// NewFileImportHandler creates a FILE_IMPORT handler.
func NewFileImportHandler(catalog store.FileCatalog, policy *isolation.PathPolicy) *FileImportHandler {
	return &FileImportHandler{catalog: catalog, policy: policy, now: time.Now}
}

func (h *FileImportHandler) Type() schema.StepType { return schema.StepFileImport }

func (h *FileImportHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Create a file record for an existing regular file.",
		ConfigSchema: json.RawMessage(fileImportSchema),
	}
}

func (h *FileImportHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	if h.catalog == nil {
		return schema.Failed("file catalog is not configured")
	}
	scope := data.Scope()

	sourcePath := resolvedString(cfg, "sourcePath", scope)
	if sourcePath == "" {
		return schema.Failed("sourcePath is required")
	}
	category := resolvedString(cfg, "category", scope)
	if category == "" {
		category = "general"
	}
	source := resolvedString(cfg, "source", scope)
	if source == "" {
		source = "workflow"
	}

	if err := h.policy.Check(sourcePath, isolation.AccessRead); err != nil {
		return fail(err)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.Failed("source file not found: " + sourcePath)
		}
		return schema.Failed(fmt.Sprintf("failed to stat %s: %s", sourcePath, err.Error()))
	}
	if !info.Mode().IsRegular() {
		return schema.Failed("source path is not a regular file: " + sourcePath)
	}

	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		abs = sourcePath
	}

	rec := &store.FileRecord{
		ID:          uuid.NewString(),
		Name:        info.Name(),
		Path:        abs,
		Type:        fileType(info.Name()),
		Size:        info.Size(),
		ModifiedAt:  info.ModTime().UTC(),
		Category:    category,
		Source:      source,
		UserID:      data.Context.UserID,
		IsProcessed: true,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.catalog.CreateFile(ctx, rec); err != nil {
		return fail(err)
	}
	return schema.Succeeded("file imported: "+rec.Name, fileRecordMap(rec))
}

// FileExportHandler implements FILE_EXPORT: it copies a cataloged file.
type FileExportHandler struct {
	catalog store.FileCatalog
	policy  *isolation.PathPolicy
}

// NewFileExportHandler creates a FILE_EXPORT handler.
func NewFileExportHandler(catalog store.FileCatalog, policy *isolation.PathPolicy) *FileExportHandler {
	return &FileExportHandler{catalog: catalog, policy: policy}
}

func (h *FileExportHandler) Type() schema.StepType { return schema.StepFileExport }

func (h *FileExportHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Copy a cataloged file to a target path.",
		ConfigSchema: json.RawMessage(fileExportSchema),
	}
}

func (h *FileExportHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	if h.catalog == nil {
		return schema.Failed("file catalog is not configured")
	}
	scope := data.Scope()

	fileID := resolvedString(cfg, "fileId", scope)
	targetPath := resolvedString(cfg, "targetPath", scope)
	if fileID == "" || targetPath == "" {
		return schema.Failed("fileId and targetPath are required")
	}
	overwrite := boolParam(resolvedConfig(map[string]any{"overwrite": cfg["overwrite"]}, scope), "overwrite", false)

	rec, err := h.catalog.GetFile(ctx, fileID)
	if err != nil {
		return fail(err)
	}
	if rec.Path == "" {
		return schema.Failed("file record " + fileID + " has no physical path")
	}

	if err := h.policy.Check(rec.Path, isolation.AccessRead); err != nil {
		return fail(err)
	}
	if err := h.policy.Check(targetPath, isolation.AccessWrite); err != nil {
		return fail(err)
	}

	if _, err := os.Stat(targetPath); err == nil && !overwrite {
		return schema.Failed("target file already exists: " + targetPath)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fail(fileErr("create directory for", targetPath, err))
	}
	size, err := copyFile(rec.Path, targetPath, 0o644)
	if err != nil {
		return fail(fileErr("export", rec.Path, err))
	}

	return schema.Succeeded("file exported: "+targetPath, map[string]any{
		"fileId":     fileID,
		"targetPath": targetPath,
		"size":       size,
	})
}

// fileType is the lowercase extension without the dot, or "unknown".
func fileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

func fileRecordMap(f *store.FileRecord) map[string]any {
	m := map[string]any{
		"id":          f.ID,
		"name":        f.Name,
		"path":        f.Path,
		"type":        f.Type,
		"size":        f.Size,
		"modifiedAt":  f.ModifiedAt.Format(time.RFC3339),
		"category":    f.Category,
		"source":      f.Source,
		"isProcessed": f.IsProcessed,
		"createdAt":   f.CreatedAt.Format(time.RFC3339),
	}
	if f.UserID != "" {
		m["userId"] = f.UserID
	}
	return m
}
