package steps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/isolation"
	"github.com/rendis/autoflow/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FileConfig configures the filesystem handlers.
type FileConfig struct {
	Policy      *isolation.PathPolicy
	MaxReadSize int64
}

func (c FileConfig) withDefaults() FileConfig {
	if c.MaxReadSize <= 0 {
		c.MaxReadSize = defaultMaxReadSize
	}
	return c
}

const fileOperationSchema = `{
  "type": "object",
  "properties": {
    "operation": {"type": "string", "enum": ["copy","move","delete","read","write","append"]},
    "source": {"type": "string"},
    "target": {"type": "string"},
    "content": {}
  },
  "required": ["operation"]
}`

// FileOperationHandler implements FILE_OPERATION.
type FileOperationHandler struct {
	cfg FileConfig
}

// NewFileOperationHandler creates a FILE_OPERATION handler.
func NewFileOperationHandler(cfg FileConfig) *FileOperationHandler {
	return &FileOperationHandler{cfg: cfg.withDefaults()}
}

func (h *FileOperationHandler) Type() schema.StepType { return schema.StepFileOperation }

func (h *FileOperationHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Copy, move, delete, read, write or append to a file.",
		ConfigSchema: json.RawMessage(fileOperationSchema),
	}
}

func (h *FileOperationHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	scope := data.Scope()
	op := stringParam(cfg, "operation", "")
	source := resolvedString(cfg, "source", scope)
	target := resolvedString(cfg, "target", scope)

	switch op {
	case "read":
		if source == "" {
			return schema.Failed("read requires a source path")
		}
		content, err := h.read(source)
		if err != nil {
			return fail(err)
		}
		return schema.Succeeded("file read: "+source, content)

	case "write", "append":
		path := target
		if path == "" {
			path = source
		}
		if path == "" {
			return schema.Failed(op + " requires a target path")
		}
		content := expressions.ResolveString(cfg["content"], scope)
		if err := h.write(path, content, op == "append"); err != nil {
			return fail(err)
		}
		return schema.Succeeded("file "+op+": "+path, path)

	case "copy", "move":
		if source == "" {
			return schema.Failed(op + " requires a source path")
		}
		if target == "" {
			return schema.Failed(op + " requires a target path")
		}
		if err := h.transfer(source, target, op == "move"); err != nil {
			return fail(err)
		}
		return schema.Succeeded("file "+op+": "+source+" -> "+target, target)

	case "delete":
		if source == "" {
			return schema.Failed("delete requires a source path")
		}
		if err := h.cfg.Policy.Check(source, isolation.AccessWrite); err != nil {
			return fail(err)
		}
		if err := os.Remove(source); err != nil {
			return fail(fileErr("delete", source, err))
		}
		return schema.Succeeded("file deleted: "+source, source)

	case "":
		return schema.Failed("file operation is required")
	default:
		return schema.Failed("unsupported file operation: " + op)
	}
}

func (h *FileOperationHandler) read(path string) (string, error) {
	if err := h.cfg.Policy.Check(path, isolation.AccessRead); err != nil {
		return "", err
	}
	return readLimited(path, h.cfg.MaxReadSize)
}

func (h *FileOperationHandler) write(path, content string, appendMode bool) error {
	if err := h.cfg.Policy.Check(path, isolation.AccessWrite); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileErr("create directory for", path, err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fileErr("open", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fileErr("write", path, err)
	}
	return nil
}

func (h *FileOperationHandler) transfer(source, target string, move bool) error {
	srcMode := isolation.AccessRead
	if move {
		srcMode = isolation.AccessWrite
	}
	if err := h.cfg.Policy.Check(source, srcMode); err != nil {
		return err
	}
	if err := h.cfg.Policy.Check(target, isolation.AccessWrite); err != nil {
		return err
	}

	info, err := os.Stat(source)
	if err != nil {
		return fileErr("stat", source, err)
	}
	if info.IsDir() {
		return schema.NewErrorf(schema.ErrCodeValidation, "source is a directory: %s", source)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fileErr("create directory for", target, err)
	}

	if move {
		err := os.Rename(source, target)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EXDEV) {
			return fileErr("move", source, err)
		}
		// Cross-device: copy then remove.
		if _, err := copyFile(source, target, info.Mode().Perm()); err != nil {
			return fileErr("copy", source, err)
		}
		if err := os.Remove(source); err != nil {
			return fileErr("remove", source, err)
		}
		return nil
	}

	if _, err := copyFile(source, target, info.Mode().Perm()); err != nil {
		return fileErr("copy", source, err)
	}
	return nil
}

// copyFile copies a regular file, truncating dst.
func copyFile(src, dst string, mode os.FileMode) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dstFile, srcFile)
	if cerr := dstFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func readLimited(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fileErr("read", path, err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", fileErr("read", path, err)
	}
	if int64(len(b)) > limit {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "file %s exceeds the %d byte read limit", path, limit)
	}
	return string(b), nil
}

func fileErr(op, path string, err error) *schema.FlowError {
	if errors.Is(err, os.ErrNotExist) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "failed to %s %s: file not found", op, path).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "failed to %s %s: %s", op, path, err.Error()).WithCause(err)
}
