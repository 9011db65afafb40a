// Package store is the persistence collaborator: a narrow VideoStore
// type over the record store (Conn interface) named in spec.md §6 (a
// document/record store addressing records by table:id), plus an
// in-memory fake for tests. Grounded on the teacher's pattern of
// small, constructor-injected external collaborators (clients.CallbackClient,
// pipeline.Handler) rather than a wide repository interface.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Conn is the low-level record store contract from spec.md §6: create,
// select, merge, delete and a raw query, addressing records by
// table:id. VideoStore is built on top of this rather than assuming
// any particular driver, since no Go client for the record store named
// in the original system appears anywhere in the example pack.
type Conn interface {
	Create(ctx context.Context, table string, record map[string]any) (string, error)
	Select(ctx context.Context, recordID string) (map[string]any, error)
	Merge(ctx context.Context, recordID string, patch map[string]any) error
	Delete(ctx context.Context, recordID string) error
	Query(ctx context.Context, query string, vars map[string]any) ([]map[string]any, error)

	// CompareAndSwap atomically applies patch to recordID only if
	// field currently equals expected, and reports whether the swap
	// happened. A real record-store driver implements this as a single
	// conditional UPDATE (`UPDATE $id SET ... WHERE field = $expected
	// RETURN AFTER`); the in-memory fake does it under its own lock.
	// This is the only way callers may serialize a check-then-write
	// against the store, per spec.md §4.1's auto-start contract.
	CompareAndSwap(ctx context.Context, recordID, field string, expected, newValue any) (bool, error)
}

// QuoteRecordID backtick-quotes the id half of a table:id record
// reference when it contains a hyphen, per spec.md §6 ("record IDs
// containing hyphens MUST be quoted to avoid being parsed as
// arithmetic"). UUIDs always contain hyphens, so every generated ID
// goes through this before being embedded in a query string.
func QuoteRecordID(table, id string) string {
	if strings.Contains(id, "-") {
		return fmt.Sprintf("%s:`%s`", table, id)
	}
	return fmt.Sprintf("%s:%s", table, id)
}
