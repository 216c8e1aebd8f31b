package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/autoflow/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database. dbPath should be a file URI,
// e.g. "file:/var/lib/autoflow/autoflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow is used for all of them.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

const workflowColumns = `id, name, user_id, trigger_type, trigger_config, steps, is_active,
	execution_count, average_execution_time, last_run_at, created_at, updated_at`

// SaveWorkflow inserts or replaces a workflow definition. Run counters of an
// existing row are preserved.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	steps := wf.Steps
	if steps == nil {
		steps = []schema.Step{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	triggerJSON, err := marshalMapOrNull(wf.TriggerConfig)
	if err != nil {
		return fmt.Errorf("marshal trigger_config: %w", err)
	}

	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, user_id, trigger_type, trigger_config, steps, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, user_id=excluded.user_id,
		   trigger_type=excluded.trigger_type, trigger_config=excluded.trigger_config,
		   steps=excluded.steps, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.UserID), string(wf.TriggerType), triggerJSON, string(stepsJSON),
		boolInt(wf.IsActive), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return storeErr("save workflow", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("get workflow", err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := "SELECT " + workflowColumns + " FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, storeErr("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

// RecordRun updates the counters in one statement; SQLite evaluates every
// SET expression against the old row.
func (s *LibSQLStore) RecordRun(ctx context.Context, id string, duration time.Duration, at time.Time) error {
	ms := float64(duration) / float64(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET
		   average_execution_time = (average_execution_time * execution_count + ?) / (execution_count + 1),
		   execution_count = execution_count + 1,
		   last_run_at = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		ms, at.UTC(), id,
	)
	if err != nil {
		return storeErr("record run", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET last_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return storeErr("touch last run", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		userID, triggerJSON sql.NullString
		stepsJSON           string
		triggerType         string
		active              int
		lastRun             sql.NullTime
	)
	if err := r.Scan(&wf.ID, &wf.Name, &userID, &triggerType, &triggerJSON, &stepsJSON, &active,
		&wf.ExecutionCount, &wf.AverageExecutionTime, &lastRun, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.UserID = userID.String
	wf.TriggerType = schema.TriggerType(triggerType)
	wf.IsActive = active != 0
	if triggerJSON.Valid && triggerJSON.String != "" && triggerJSON.String != "null" {
		if err := json.Unmarshal([]byte(triggerJSON.String), &wf.TriggerConfig); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_config: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		wf.LastRunAt = &t
	}
	return wf, nil
}

// --- Executions ---

const executionColumns = `id, workflow_id, user_id, status, start_time, end_time,
	trigger_source, trigger_data, logs, error`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.WorkflowExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Status == "" {
		exec.Status = schema.ExecutionRunning
	}
	exec.StartTime = timeOrNow(exec.StartTime)

	triggerData, err := marshalMapOrNull(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger_data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, user_id, status, start_time, end_time, trigger_source, trigger_data, logs, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, nullStr(exec.UserID), string(exec.Status), exec.StartTime,
		nullTime(exec.EndTime), exec.TriggerSource, triggerData, nullRaw(exec.Logs), nullStr(exec.Error),
	)
	if err != nil {
		return storeErr("create execution", err)
	}
	return nil
}

// UpdateExecution only touches RUNNING records: terminal records are
// immutable and an update against one returns CONFLICT.
func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, update.EndTime.UTC())
	}
	if update.Logs != nil {
		sets = append(sets, "logs = ?")
		args = append(args, string(update.Logs))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, string(schema.ExecutionRunning))

	query := fmt.Sprintf("UPDATE workflow_executions SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update execution", err)
	}
	if n > 0 {
		return nil
	}

	current, err := s.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict,
		"execution %q is %s and can no longer be updated", id, current.Status)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM workflow_executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	defer rows.Close()

	var out []*schema.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr("scan execution", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func scanExecution(r rowScanner) (*schema.WorkflowExecution, error) {
	e := &schema.WorkflowExecution{}
	var (
		userID, triggerJSON, logs, errMsg sql.NullString
		status                            string
		endTime                           sql.NullTime
	)
	if err := r.Scan(&e.ID, &e.WorkflowID, &userID, &status, &e.StartTime, &endTime,
		&e.TriggerSource, &triggerJSON, &logs, &errMsg); err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.Status = schema.ExecutionStatus(status)
	e.Error = errMsg.String
	e.Logs = rawOrNil(logs)
	if endTime.Valid {
		t := endTime.Time
		e.EndTime = &t
	}
	if triggerJSON.Valid && triggerJSON.String != "" && triggerJSON.String != "null" {
		if err := json.Unmarshal([]byte(triggerJSON.String), &e.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_data: %w", err)
		}
	}
	return e, nil
}

// --- Records ---

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *LibSQLStore) CreateRecord(ctx context.Context, rec *Record) error {
	if !ValidModel(rec.Model) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown model %q", rec.Model)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal record data: %w", err)
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	rec.UpdatedAt = rec.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, model, user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, nullStr(rec.UserID), string(data), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return storeErr("create record", err)
	}
	return nil
}

// ReadRecords returns records of model matching query, oldest first.
func (s *LibSQLStore) ReadRecords(ctx context.Context, model string, query RecordQuery) ([]*Record, error) {
	if !ValidModel(model) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown model %q", model)
	}

	where := []string{"model = ?"}
	args := []any{model}

	if query.ID != "" {
		where = append(where, "id = ?")
		args = append(args, query.ID)
	}
	if query.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, query.UserID)
	}
	for k, v := range query.Where {
		if !fieldName.MatchString(k) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid query field %q", k)
		}
		where = append(where, "json_extract(data, ?) = ?")
		args = append(args, "$."+k, sqlValue(v))
	}

	q := "SELECT id, model, user_id, data, created_at, updated_at FROM records WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at, id"
	if query.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("read records", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan record", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) getRecord(ctx context.Context, model, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model, user_id, data, created_at, updated_at FROM records WHERE model = ? AND id = ?`, model, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(model, id)
	}
	if err != nil {
		return nil, storeErr("get record", err)
	}
	return rec, nil
}

// UpdateRecord merges patch into the record's data and returns the result.
func (s *LibSQLStore) UpdateRecord(ctx context.Context, model, id string, patch map[string]any) (*Record, error) {
	if !ValidModel(model) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown model %q", model)
	}
	rec, err := s.getRecord(ctx, model, id)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		rec.Data[k] = v
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal record data: %w", err)
	}
	rec.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, updated_at = ? WHERE model = ? AND id = ?`,
		string(data), rec.UpdatedAt, model, id)
	if err != nil {
		return nil, storeErr("update record", err)
	}
	if err := checkRowsAffected(res, model, id); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LibSQLStore) DeleteRecord(ctx context.Context, model, id string) error {
	if !ValidModel(model) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown model %q", model)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE model = ? AND id = ?`, model, id)
	if err != nil {
		return storeErr("delete record", err)
	}
	return checkRowsAffected(res, model, id)
}

func scanRecord(r rowScanner) (*Record, error) {
	rec := &Record{}
	var userID sql.NullString
	var data string
	if err := r.Scan(&rec.ID, &rec.Model, &userID, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("unmarshal record data: %w", err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, nil
}

// --- Files and notifications (typed views over records) ---

func (s *LibSQLStore) CreateFile(ctx context.Context, f *FileRecord) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = timeOrNow(f.CreatedAt)
	data, err := toMap(f)
	if err != nil {
		return err
	}
	delete(data, "id")
	return s.CreateRecord(ctx, &Record{ID: f.ID, Model: ModelFile, UserID: f.UserID, Data: data, CreatedAt: f.CreatedAt})
}

func (s *LibSQLStore) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := s.getRecord(ctx, ModelFile, id)
	if err != nil {
		return nil, err
	}
	f := &FileRecord{}
	if err := fromMap(rec.AsMap(), f); err != nil {
		return nil, err
	}
	f.ID = rec.ID
	return f, nil
}

func (s *LibSQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = timeOrNow(n.CreatedAt)
	data, err := toMap(n)
	if err != nil {
		return err
	}
	delete(data, "id")
	return s.CreateRecord(ctx, &Record{ID: n.ID, Model: ModelNotification, UserID: n.UserID, Data: data, CreatedAt: n.CreatedAt})
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return storeErr("store secret", err)
	}
	return nil
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeErr("get secret", err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return storeErr("delete secret", err)
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, storeErr("list secrets", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeErr(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrNull(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// sqlValue maps a JSON value to what json_extract returns for it.
func sqlValue(v any) any {
	switch val := v.(type) {
	case bool:
		return boolInt(val)
	case map[string]any, []any:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return val
	}
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any, dst any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

var _ Store = (*LibSQLStore)(nil)
