package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory FileCatalog, RecordStore and NotificationStore.
type memStore struct {
	mu      sync.Mutex
	files   map[string]*store.FileRecord
	records map[string]*store.Record
	notes   []*store.Notification
}

func newMemStore() *memStore {
	return &memStore{
		files:   map[string]*store.FileRecord{},
		records: map[string]*store.Record{},
	}
}

func (m *memStore) CreateFile(_ context.Context, f *store.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (*store.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "file %q not found", id)
	}
	return f, nil
}

func (m *memStore) CreateNotification(_ context.Context, n *store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

func (m *memStore) CreateRecord(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) ReadRecords(_ context.Context, model string, q store.RecordQuery) ([]*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Record
	for _, r := range m.records {
		if r.Model != model || (q.ID != "" && r.ID != q.ID) {
			continue
		}
		match := true
		for k, v := range q.Where {
			if r.Data[k] != v {
				match = false
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateRecord(_ context.Context, model, id string, patch map[string]any) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Model != model {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", model, id)
	}
	for k, v := range patch {
		r.Data[k] = v
	}
	r.UpdatedAt = time.Now()
	return r, nil
}

func (m *memStore) DeleteRecord(_ context.Context, model, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Model != model {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", model, id)
	}
	delete(m.records, id)
	return nil
}

// runData builds ExecutionData with the given outputs and event payload.
func runData(outputs map[string]any, event map[string]any) *schema.ExecutionData {
	d := schema.NewExecutionData(schema.ExecutionContext{
		Source:    schema.SourceManual,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UserID:    "user-1",
		Data:      event,
	})
	for k, v := range outputs {
		d.Outputs[k] = v
	}
	return d
}

func requireSuccess(t *testing.T, res schema.StepResult) {
	t.Helper()
	require.True(t, res.Success, "expected success, got error: %s", res.Error)
}

func requireFailure(t *testing.T, res schema.StepResult, contains string) {
	t.Helper()
	require.False(t, res.Success, "expected failure, got message: %s", res.Message)
	require.Contains(t, res.Error, contains)
}
