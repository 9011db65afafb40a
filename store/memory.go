package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Conn fake for tests: tables keyed by bare id
// (no table: prefix), guarded by a single mutex. Query supports only
// the handful of filter shapes the store package itself issues
// (table scan with an optional field-equals predicate supplied via
// vars["field"]/vars["value"]); it is not a general query engine.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: map[string]map[string]map[string]any{}}
}

func (m *Memory) Create(ctx context.Context, table string, record map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	if m.tables[table] == nil {
		m.tables[table] = map[string]map[string]any{}
	}
	stored := map[string]any{}
	for k, v := range record {
		stored[k] = v
	}
	stored["id"] = id
	m.tables[table][id] = stored
	return QuoteRecordID(table, id), nil
}

func (m *Memory) Select(ctx context.Context, recordID string) (map[string]any, error) {
	table, id, err := splitRecordID(recordID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("store: record %s not found", recordID)
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Merge(ctx context.Context, recordID string, patch map[string]any) error {
	table, id, err := splitRecordID(recordID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return fmt.Errorf("store: record %s not found", recordID)
	}
	for k, v := range patch {
		rec[k] = v
	}
	return nil
}

// CompareAndSwap sets rec[field] = newValue only if rec[field] ==
// expected, entirely under m.mu so no other Memory call can interleave
// between the check and the write.
func (m *Memory) CompareAndSwap(ctx context.Context, recordID, field string, expected, newValue any) (bool, error) {
	table, id, err := splitRecordID(recordID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return false, fmt.Errorf("store: record %s not found", recordID)
	}
	if rec[field] != expected {
		return false, nil
	}
	rec[field] = newValue
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, recordID string) error {
	table, id, err := splitRecordID(recordID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], id)
	return nil
}

// Query does a table scan over vars["table"], optionally filtering on
// vars["field"] == vars["value"]. This is the subset of the real
// query language the pipeline orchestrator actually needs (listing
// videos by status for crash recovery); anything richer belongs in a
// real driver, not this fake.
func (m *Memory) Query(ctx context.Context, query string, vars map[string]any) ([]map[string]any, error) {
	table, _ := vars["table"].(string)
	field, hasField := vars["field"].(string)
	value := vars["value"]

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, rec := range m.tables[table] {
		if hasField && rec[field] != value {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func splitRecordID(recordID string) (table, id string, err error) {
	for i, r := range recordID {
		if r == ':' {
			table = recordID[:i]
			id = unquote(recordID[i+1:])
			return table, id, nil
		}
	}
	return "", "", fmt.Errorf("store: malformed record id %q", recordID)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return s[1 : len(s)-1]
	}
	return s
}

func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
